package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	goSession "github.com/MrEthical07/goSession"
	promexport "github.com/MrEthical07/goSession/metrics/export/prometheus"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run the expiration sweeper",
	Long: `Run the expiration sweeper against the configured store.

The sweeper periodically finalizes sessions whose expiration bucket has
passed. While it runs, an HTTP listener serves Prometheus metrics on /metrics
and a backend health check on /healthz. With --once a single tick runs and
the result is printed instead.`,
	RunE: runSweep,
}

const (
	defaultGracefulTimeout = 30 * time.Second
	serverRequestTimeout   = 10 * time.Second
	serverReadTimeout      = 10 * time.Second
	serverWriteTimeout     = 15 * time.Second
	serverIdleTimeout      = 60 * time.Second
	healthCheckTimeout     = 2 * time.Second
)

func init() {
	sweepCmd.Flags().String("address", ":9090", "Address the metrics and health listener binds to")
	sweepCmd.Flags().Duration("interval", 0, "Sweep interval (overrides sweeper.interval)")
	sweepCmd.Flags().Int("batch-size", 0, "Markers per cleanup call (overrides sweeper.batch_size)")
	sweepCmd.Flags().Bool("once", false, "Run a single sweep tick and exit")

	for key, flag := range map[string]string{
		"address":            "address",
		"sweeper.interval":   "interval",
		"sweeper.batch_size": "batch-size",
		"once":               "once",
	} {
		if err := viper.BindPFlag(key, sweepCmd.Flags().Lookup(flag)); err != nil {
			sweepCmd.PrintErrf("Error binding %s flag: %v\n", flag, err)
		}
	}
}

func runSweep(cmd *cobra.Command, _ []string) error {
	logger := newLogger()

	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return err
	}

	// The command owns the sweep loop; the engine must not start its own.
	sweeperCfg := cfg.Sweeper
	cfg.Sweeper.Enabled = false
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true

	engine, err := goSession.New().
		WithConfig(cfg).
		WithLogger(logger).
		WithAuditSink(goSession.NewSlogSink(logger)).
		Build()
	if err != nil {
		return fmt.Errorf("failed to build session engine: %w", err)
	}
	defer engine.Close()

	sweeper := goSession.NewSweeper(engine, sweeperCfg, logger)

	if viper.GetBool("once") {
		res, err := sweeper.RunOnce(cmd.Context())
		if err != nil {
			return fmt.Errorf("sweep failed: %w", err)
		}
		cmd.Printf("candidates=%d stale_markers=%d expired=%d\n", res.Candidates, res.StaleMarkers, res.Expired)
		return nil
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	address := viper.GetString("address")
	server := &http.Server{
		Addr:         address,
		Handler:      newSweepRouter(engine, logger),
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("metrics listener started", "address", address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics listener failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("session sweeper started",
			"interval", sweeperCfg.Interval,
			"batch_size", sweeperCfg.BatchSize,
		)
		sweeper.Run(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("metrics listener forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// newSweepRouter serves /metrics and /healthz for engine.
func newSweepRouter(engine *goSession.Engine, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Timeout(serverRequestTimeout),
	)

	r.Method(http.MethodGet, "/metrics", promexport.NewPrometheusExporter(engine).Handler())
	r.Get("/healthz", healthHandler(engine, logger))
	return r
}

type healthResponse struct {
	Status    string `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

func healthHandler(engine *goSession.Engine, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		resp := healthResponse{Status: "ok"}
		code := http.StatusOK
		latency, err := engine.Ping(ctx)
		resp.LatencyMS = latency.Milliseconds()
		if err != nil {
			resp.Status = "unavailable"
			resp.Error = err.Error()
			code = http.StatusServiceUnavailable
			logger.WarnContext(ctx, "health check failed", "error", err)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			logger.WarnContext(ctx, "failed to write health response", "error", err)
		}
	}
}
