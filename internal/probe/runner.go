package probe

import (
	"context"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"

	service "github.com/okian/fundus/internal/app"
	"github.com/okian/fundus/pkg/logger"
)

// Outcome is the result of analyzing one file.
type Outcome struct {
	Path   string
	Result AnalyzeResult
	Err    error
}

// AnalyzeAll uploads every path with at most concurrency requests in flight.
// Per-file failures are reported in the outcomes, not as the returned error.
func AnalyzeAll(ctx context.Context, c *Client, paths []string, concurrency int) ([]Outcome, error) {
	if len(paths) == 0 {
		return nil, ErrNoImages
	}
	if concurrency < 1 {
		concurrency = 1
	}

	out := make([]Outcome, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, p := range paths {
		i, p := i, p
		g.Go(func() error {
			res, err := c.AnalyzeFile(gctx, p)
			out[i] = Outcome{Path: p, Result: res, Err: err}
			if err != nil {
				logger.Get().Debug(gctx, "analyze failed", logger.String("path", p), logger.Error(err))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return out, err
	}
	return out, ctx.Err()
}

// PrintStatus writes a readable status report.
func PrintStatus(w io.Writer, st service.Status) {
	_, _ = fmt.Fprintf(w, "%s %s (%s)\n", st.Texts.Icon, st.Texts.Title, st.Variant)
	if st.Ready {
		_, _ = fmt.Fprintf(w, "model: ready (%s)\n", st.ModelPath)
		return
	}
	_, _ = fmt.Fprintf(w, "model: %s\n%s\n", st.Texts.LoadFailBanner, st.Error)
}

// PrintOutcome writes one analysis line plus the risk interpretation, if any.
func PrintOutcome(w io.Writer, o Outcome) {
	if o.Err != nil {
		_, _ = fmt.Fprintf(w, "%s: error: %v\n", o.Path, o.Err)
		return
	}
	r := o.Result
	_, _ = fmt.Fprintf(w, "%s: %s = %s\n", o.Path, r.MetricLabel, r.Formatted)
	if r.Risk != nil {
		_, _ = fmt.Fprintf(w, "  %s: %s\n", r.Risk.Level, r.Risk.Interpretation)
	}
}
