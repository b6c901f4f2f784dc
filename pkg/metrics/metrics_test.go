package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsOptions(t *testing.T) {
	Convey("Given a manager built with options", t, func() {
		registry := prometheus.NewRegistry()
		m := NewManager(
			WithNamespace("test"),
			WithSubsystem("unit"),
			WithLatencyBuckets([]float64{0.1, 0.5, 1.0}),
			WithEnabled(true),
			WithSystemSampleInterval(5*time.Second),
			WithConstLabels(map[string]string{"variant": "cardio", "": "dropped"}),
			WithRegistry(registry),
		)

		Convey("Then the options are applied", func() {
			So(m.namespace, ShouldEqual, "test")
			So(m.subsystem, ShouldEqual, "unit")
			So(m.histogramBuckets, ShouldResemble, []float64{0.1, 0.5, 1.0})
			So(m.RefreshInterval(), ShouldEqual, 5*time.Second)
		})

		Convey("Then metric names carry namespace and subsystem", func() {
			m.analyses.WithLabelValues("age", OutcomeSuccess).Inc()
			families, err := registry.Gather()
			So(err, ShouldBeNil)

			names := map[string]bool{}
			for _, f := range families {
				names[f.GetName()] = true
			}
			So(names["test_unit_analyses_total"], ShouldBeTrue)
		})

		Convey("Then const labels are attached", func() {
			So(len(m.customLabels), ShouldEqual, 1)
			m.modelReady.Set(1)
			families, err := registry.Gather()
			So(err, ShouldBeNil)

			var found bool
			for _, f := range families {
				if f.GetName() != "test_unit_model_ready" {
					continue
				}
				for _, lp := range f.GetMetric()[0].GetLabel() {
					if lp.GetName() == "variant" && lp.GetValue() == "cardio" {
						found = true
					}
				}
			}
			So(found, ShouldBeTrue)
		})
	})

	Convey("Given empty option values", t, func() {
		m := NewManager(
			WithNamespace(""),
			WithSubsystem(""),
			WithLatencyBuckets(nil),
			WithSystemSampleInterval(0),
			WithRegistry(prometheus.NewRegistry()),
		)

		Convey("Then defaults are kept", func() {
			So(m.namespace, ShouldEqual, "fundus")
			So(m.subsystem, ShouldEqual, "regression")
			So(len(m.histogramBuckets), ShouldBeGreaterThan, 0)
			So(m.RefreshInterval(), ShouldEqual, defaultRefreshInterval)
		})
	})
}

func TestConfigure(t *testing.T) {
	Convey("Given a reconfigured global manager", t, func() {
		m := Configure(WithConstLabels(map[string]string{"variant": "age"}))

		Convey("Then it becomes the default on a fresh registry", func() {
			So(Default(), ShouldEqual, m)
			RecordAnalysis("age", OutcomeSuccess)
			families, err := GetRegistry().Gather()
			So(err, ShouldBeNil)

			var found bool
			for _, f := range families {
				if f.GetName() == "fundus_regression_analyses_total" {
					found = true
				}
			}
			So(found, ShouldBeTrue)
		})

		Convey("When disabled", func() {
			Configure(WithEnabled(false))
			RecordAnalysis("age", OutcomeSuccess)

			Convey("Then request-path counters stay at zero", func() {
				So(testutil.ToFloat64(globalManager.analyses.WithLabelValues("age", OutcomeSuccess)), ShouldEqual, 0.0)
			})
			Configure()
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global manager", t, func() {
		Convey("When an analysis is recorded", func() {
			before := testutil.ToFloat64(globalManager.analyses.WithLabelValues("cardio", OutcomeSuccess))
			RecordAnalysis("cardio", OutcomeSuccess)

			Convey("Then the counter increases by one", func() {
				after := testutil.ToFloat64(globalManager.analyses.WithLabelValues("cardio", OutcomeSuccess))
				So(after-before, ShouldEqual, 1.0)
			})
		})

		Convey("When risk levels are recorded", func() {
			before := testutil.ToFloat64(globalManager.riskClassification.WithLabelValues("HIGH RISK"))
			RecordRiskClassification("HIGH RISK")
			RecordRiskClassification("HIGH RISK")

			Convey("Then the level counter tracks them", func() {
				after := testutil.ToFloat64(globalManager.riskClassification.WithLabelValues("HIGH RISK"))
				So(after-before, ShouldEqual, 2.0)
			})
		})

		Convey("When the model readiness changes", func() {
			SetModelReady(true)
			So(testutil.ToFloat64(globalManager.modelReady), ShouldEqual, 1.0)
			SetModelReady(false)
			So(testutil.ToFloat64(globalManager.modelReady), ShouldEqual, 0.0)
		})

		Convey("When latency and request metrics are recorded", func() {
			So(func() {
				RecordPreprocessLatency(3.5)
				RecordInferenceLatency(42)
				RecordModelLoadDuration(120)
				RecordUploadSize(200 << 10)
				RecordHTTPRequest("/api/v1/analyze", "POST", "200")
				RecordHTTPRequestDuration("/api/v1/analyze", "POST", "200", 55)
				RecordErrorByType("preprocessing_error", "warning")
				RecordErrorByEndpoint("/api/v1/analyze", "POST", "preprocessing_error")
				RecordErrorLatency("http", "preprocessing_error", 4)
			}, ShouldNotPanic)
		})

		Convey("When the dispatch queue reports activity", func() {
			UpdateQueueCapacity(8)
			UpdateQueueDepth(3)
			UpdateWorkersActive(2)
			before := testutil.ToFloat64(globalManager.queueRejected.WithLabelValues("queue_full"))
			RecordQueueRejected("queue_full")
			RecordQueueWait(1.5)
			RecordJobProcessed("ok")

			Convey("Then the gauges and counters follow", func() {
				So(testutil.ToFloat64(globalManager.queueCapacity), ShouldEqual, 8.0)
				So(testutil.ToFloat64(globalManager.queueDepth), ShouldEqual, 3.0)
				So(testutil.ToFloat64(globalManager.workersActive), ShouldEqual, 2.0)
				So(testutil.ToFloat64(globalManager.queueRejected.WithLabelValues("queue_full"))-before, ShouldEqual, 1.0)
			})
		})

		Convey("When cache lookups are recorded", func() {
			hits := testutil.ToFloat64(globalManager.cacheLookups.WithLabelValues("hit"))
			misses := testutil.ToFloat64(globalManager.cacheLookups.WithLabelValues("miss"))
			RecordCacheLookup(true)
			RecordCacheLookup(false)
			RecordCacheLookup(false)

			Convey("Then hits and misses are split", func() {
				So(testutil.ToFloat64(globalManager.cacheLookups.WithLabelValues("hit"))-hits, ShouldEqual, 1.0)
				So(testutil.ToFloat64(globalManager.cacheLookups.WithLabelValues("miss"))-misses, ShouldEqual, 2.0)
			})
		})
	})
}

func TestSystemMetrics(t *testing.T) {
	Convey("Given system sampling", t, func() {
		SampleSystem()

		Convey("Then the goroutine gauge is populated", func() {
			So(testutil.ToFloat64(globalManager.systemGoroutineCount), ShouldBeGreaterThan, 0)
			So(testutil.ToFloat64(globalManager.systemMemoryUsage), ShouldBeGreaterThan, 0)
		})

		Convey("When the collector runs with a cancelled context", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			Convey("Then it returns promptly", func() {
				So(RunSystemCollector(ctx, time.Millisecond), ShouldBeNil)
			})
		})
	})
}

func TestGetRegistry(t *testing.T) {
	Convey("Given the custom registry", t, func() {
		reg := GetRegistry()
		So(reg, ShouldNotBeNil)
		So(Default(), ShouldNotBeNil)

		RecordAnalysis("age", OutcomeSuccess)
		families, err := reg.Gather()
		So(err, ShouldBeNil)
		So(len(families), ShouldBeGreaterThan, 0)
	})
}
