package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kasuganosora/shardconn/pkg/api"
	"github.com/kasuganosora/shardconn/pkg/config"
	"github.com/kasuganosora/shardconn/pkg/monitor"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var (
		listen        string
		slowThreshold time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Open the configured shards and expose dispatch metrics over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer logger.Sync()
			if listen != "" {
				cfg.Metrics.Listen = listen
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			collector := monitor.NewMetricsCollector(cfg.Metrics.Namespace).
				WithSlowDispatchLog(monitor.NewSlowDispatchAnalyzer(slowThreshold, 1000))
			return serve(ctx, cfg, logger, collector)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "metrics listen address (overrides metrics.listen)")
	cmd.Flags().DurationVar(&slowThreshold, "slow-threshold", 200*time.Millisecond, "dispatches at or above this duration are kept in the slow log")
	return cmd
}

// serve 阻塞直到 ctx 结束
func serve(ctx context.Context, cfg *config.Config, logger api.Logger, collector *monitor.MetricsCollector) error {
	db, err := api.Open(ctx, cfg, logger, collector)
	if err != nil {
		return err
	}
	defer db.Close()

	srv := &http.Server{
		Addr:              cfg.Metrics.Listen,
		Handler:           newMux(db, collector),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Metrics listening on %s", cfg.Metrics.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newMux(db *api.DB, collector *monitor.MetricsCollector) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		for _, name := range db.Databases() {
			if err := pingDatabase(r.Context(), db, name); err != nil {
				http.Error(w, name+": "+err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

func pingDatabase(ctx context.Context, db *api.DB, name string) error {
	conn, err := db.Connect(name)
	if err != nil {
		return err
	}
	defer conn.Close()
	return conn.Ping(ctx)
}
