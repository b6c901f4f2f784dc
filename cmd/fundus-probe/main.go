package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/okian/fundus/internal/probe"
	"github.com/okian/fundus/pkg/logger"
)

// Default configuration constants.
const (
	defaultURL         = "http://localhost:8501"
	defaultTimeout     = 2 * time.Minute
	defaultConcurrency = 1
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newApp(os.Stdout).RunContext(ctx, os.Args); err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		stop()
		os.Exit(1)
	}
}

// errFailures is returned when any analyzed image failed.
var errFailures = errors.New("some images failed")

func newApp(out io.Writer) *cli.App {
	return &cli.App{
		Name:   "fundus-probe",
		Usage:  "check and exercise a running fundus service",
		Writer: out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "url",
				Value:   defaultURL,
				Usage:   "base URL of the service",
				EnvVars: []string{"FUNDUS_PROBE_URL"},
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Value: defaultTimeout,
				Usage: "per-request timeout",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "enable debug logging",
			},
		},
		Before: func(c *cli.Context) error {
			if err := logger.Init(); err != nil {
				return err
			}
			if c.Bool("verbose") {
				return logger.SetLevelString("debug")
			}
			return logger.SetLevelString("warn")
		},
		Commands: []*cli.Command{
			{
				Name:  "status",
				Usage: "show the served variant and model readiness",
				Action: func(c *cli.Context) error {
					st, err := client(c).Status(c.Context)
					if err != nil {
						return err
					}
					probe.PrintStatus(c.App.Writer, st)
					if !st.Ready {
						return cli.Exit("model not ready", 2)
					}
					return nil
				},
			},
			{
				Name:      "analyze",
				Usage:     "upload one or more images and print the predictions",
				ArgsUsage: "[--image FILE ...]",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:     "image",
						Aliases:  []string{"i"},
						Usage:    "JPEG or PNG file to analyze (repeatable)",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "concurrency",
						Value: defaultConcurrency,
						Usage: "maximum uploads in flight",
					},
				},
				Action: func(c *cli.Context) error {
					outcomes, err := probe.AnalyzeAll(c.Context, client(c), c.StringSlice("image"), c.Int("concurrency"))
					for _, o := range outcomes {
						probe.PrintOutcome(c.App.Writer, o)
					}
					if err != nil {
						return err
					}
					for _, o := range outcomes {
						if o.Err != nil {
							return errFailures
						}
					}
					return nil
				},
			},
		},
	}
}

func client(c *cli.Context) *probe.Client {
	return probe.NewClient(c.String("url"), c.Duration("timeout"))
}
