package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/spf13/cobra"
	"github.com/zoobzio/clockz"
	"go.uber.org/zap"

	"github.com/zoobzio/profz"
	"github.com/zoobzio/profz/metrics"
	"github.com/zoobzio/profz/middleware"
	"github.com/zoobzio/profz/sink"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the demo HTTP server with request profiling",
	Long: `Run an HTTP server whose handlers are instrumented with profz.

Requests carrying the activation parameter (for example /?__profile) are
profiled; their reports are queued and persisted to the configured sink.
Span timings are also exported on /metrics when --metrics is set.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("listen", "", "address to serve on")
	serveCmd.Flags().String("metrics", "", "address to serve /metrics on (empty disables)")
	serveCmd.Flags().String("param", "", "query parameter that activates profiling")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := cfg.Logger()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	store, err := sink.Open(cfg.Sink, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	ids, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		return fmt.Errorf("failed to create id generator: %w", err)
	}

	collector := profz.NewCollector("serve", cfg.BufferSize)
	recorder := metrics.NewRecorder("profz")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		sink.Drain(ctx, collector, store, clockz.RealClock, cfg.FlushInterval, logger)
	}()

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		metricsSrv = recorder.StartServer(cfg.MetricsAddr)
		logger.Info("serving metrics", zap.String("addr", cfg.MetricsAddr))
	}

	profile := middleware.Profile(middleware.Options{
		Collector: collector,
		IDs:       ids,
		Logger:    logger,
		Recorder:  recorder,
		Param:     cfg.Param,
		RootName:  cfg.RootName,
		InitName:  cfg.InitName,
	})
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           middleware.Stamp(nil)(profile(newDemoHandler(time.Sleep))),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logger.Info("serving",
		zap.String("addr", cfg.Listen),
		zap.String("param", cfg.Param),
		zap.String("sink", cfg.Sink.Kind),
		zap.String("sink_dir", cfg.Sink.Dir),
	)

	var serveErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("serve %s: %w", cfg.Listen, err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}

	stop()
	<-drained
	if dropped := collector.DroppedCount(); dropped > 0 {
		logger.Warn("profiles dropped", zap.Int64("count", dropped))
	}
	return serveErr
}
