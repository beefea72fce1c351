package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/ppiankov/claimledger/internal/ingest"
	"github.com/ppiankov/claimledger/internal/worker"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	metricsAddr   string
	watchDebounce time.Duration
)

// watchCmd runs the long-lived ingest and sweep loop
var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Ingest drafts dropped into a directory and sweep in the background",
	Long: `Watch ingests every draft file written into <dir>, runs the consistency
sweep on the configured interval and, with --metrics-addr, serves Prometheus
metrics on /metrics.

Stop with Ctrl-C.`,
	Args: cobra.ExactArgs(1),
	RunE: withLedger(func(cmd *cobra.Command, s *session, args []string) error {
		ctx := cmd.Context()

		processor := worker.NewBatchProcessor(s.ledger,
			worker.NewLimiter(s.cfg.Ingest.RequestsPerSecond, s.cfg.Ingest.BurstSize),
			s.cfg.Ingest.Workers, s.logger)

		handle := func(ctx context.Context, path string) error {
			var errs []error
			for _, res := range processor.ProcessFiles(ctx, []string{path}) {
				if res.Error != nil {
					errs = append(errs, fmt.Errorf("%s: %w", res.Source, res.Error))
					continue
				}
				s.logger.Info("claim stored", zap.String("claim", string(res.Claim.ID)), zap.String("file", path))
			}
			return errors.Join(errs...)
		}

		sweeper := s.ledger.NewSweeper()
		sweeper.Start(ctx)
		defer sweeper.Stop()

		if metricsAddr != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", s.metrics.Handler())
			srv := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					s.logger.Error("metrics server", zap.Error(err))
				}
			}()
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()
			fmt.Fprintf(os.Stderr, "  Metrics:   http://%s/metrics\n", metricsAddr)
		}

		fmt.Fprintf(os.Stderr, "  Watching:  %s\n", args[0])
		fmt.Fprintf(os.Stderr, "  Sweep:     every %v\n\n", s.cfg.Sweep.Interval)

		return ingest.NewWatcher(args[0], watchDebounce, handle, s.logger).Run(ctx)
	}),
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9464)")
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", ingest.DefaultDebounce, "quiet period before a written file is ingested")
}
