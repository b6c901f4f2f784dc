package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/urfave/cli/v2"

	service "github.com/okian/fundus/internal/app"
	"github.com/okian/fundus/internal/domain/variant"
)

func TestProbeStatusCommand(t *testing.T) {
	Convey("Given a service reporting ready", t, func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(service.Status{
				Variant:   "cardio",
				Texts:     variant.Cardio().Texts,
				Ready:     true,
				ModelPath: "heart_model.onnx",
			})
		}))
		defer srv.Close()

		var out bytes.Buffer
		err := newApp(&out).RunContext(context.Background(), []string{"fundus-probe", "--url", srv.URL, "status"})

		Convey("Then the variant and readiness are printed", func() {
			So(err, ShouldBeNil)
			So(out.String(), ShouldContainSubstring, "Cardiovascular Risk AI")
			So(out.String(), ShouldContainSubstring, "model: ready")
		})
	})
}

func TestProbeAnalyzeCommand(t *testing.T) {
	Convey("Given the analyze command without images", t, func() {
		var out bytes.Buffer
		app := newApp(&out)
		app.ExitErrHandler = func(*cli.Context, error) {}
		err := app.RunContext(context.Background(), []string{"fundus-probe", "analyze"})

		Convey("Then the required flag is reported", func() {
			So(err, ShouldNotBeNil)
		})
	})
}
