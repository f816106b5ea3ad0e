package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/davidroman0O/stagequeue"
	"github.com/davidroman0O/stagequeue/internal/scenario"
	"github.com/davidroman0O/stagequeue/observe"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

func (a *app) newSimulateCmd() *cobra.Command {
	var (
		watch       bool
		metrics     bool
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "simulate <file>",
		Short: "Replay a scenario and print each project's trace",
		Long: `Replay a scenario file. Every project is evaluated with its own staged
queue and the order in which plugins, listeners and actions ran is printed.

With --watch the scenario is replayed each time the file changes, until
interrupted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if concurrency > 0 {
				a.cfg.Concurrency = concurrency
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			path := args[0]
			out := cmd.OutOrStdout()

			err := a.simulate(ctx, out, path, metrics)
			if !watch {
				return err
			}
			if err != nil {
				a.logger.Error("%v", err)
			}

			a.logger.Info("Watching %s for changes", path)
			return scenario.Watch(ctx, path, time.Duration(a.cfg.DebounceMillis)*time.Millisecond, func() {
				fprintf(out, "\n")
				if err := a.simulate(ctx, out, path, metrics); err != nil {
					a.logger.Error("%v", err)
				}
			})
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", false, "replay whenever the scenario file changes")
	cmd.Flags().BoolVar(&metrics, "metrics", false, "print queue metrics after the traces")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "projects simulated at once (default from config)")

	return cmd
}

// simulate replays the scenario at path once and prints the traces.
func (a *app) simulate(ctx context.Context, out io.Writer, path string, withMetrics bool) error {
	sc, err := scenario.Load(path)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	m, err := observe.NewMetrics(reg)
	if err != nil {
		return err
	}

	runner := scenario.NewRunner(
		scenario.WithLoggers(func(project string) stagequeue.Logger {
			return a.logger.WithTarget(project)
		}),
		scenario.WithObservers(m),
		scenario.WithMiddleware(stagequeue.LoggingMiddleware(), m.Middleware(), observe.Tracing(nil)),
		scenario.WithDeferringPlugins(a.cfg.DeferringPlugins...),
		scenario.WithConcurrency(a.cfg.Concurrency),
	)

	a.logger.Debug("Simulating %d projects of %s", len(sc.Projects), sc.Name)
	results, err := runner.Run(ctx, sc)
	if err != nil {
		return fmt.Errorf("simulation of %s interrupted: %w", sc.Name, err)
	}

	p := newPrinter(out)
	p.header(sc.Name)
	failed := 0
	for _, res := range results {
		p.result(res)
		if res.Err != nil {
			failed++
		}
	}

	if withMetrics {
		families, err := reg.Gather()
		if err != nil {
			return fmt.Errorf("failed to gather metrics: %w", err)
		}
		p.metrics(families)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d projects failed", failed, len(results))
	}
	return nil
}
