package metrics

import (
	"context"
	"runtime"
	"time"
)

const nanosecondsPerMillisecond = 1e6

// SampleSystem reads runtime memory, goroutine and GC statistics into the
// system gauges.
func SampleSystem() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	UpdateSystemMemoryUsage(m.Alloc)
	UpdateSystemGoroutineCount(runtime.NumGoroutine())

	if m.NumGC > 0 {
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		RecordSystemGCPauseTime(avgPauseMs)
	}
}

// RunSystemCollector samples system metrics every interval until ctx is done.
// A non-positive interval falls back to the manager's refresh interval.
func RunSystemCollector(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = globalManager.refreshInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	SampleSystem()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			SampleSystem()
		}
	}
}
