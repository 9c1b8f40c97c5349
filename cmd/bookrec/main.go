package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"bookrec/internal/config"
	"bookrec/internal/csvio"
	"bookrec/internal/engine"
	"bookrec/internal/infra/health"
	"bookrec/internal/infra/http/middleware"
	"bookrec/internal/infra/log"
	"bookrec/internal/infra/metrics"
	"bookrec/internal/infra/netutil"
	"bookrec/internal/infra/runner"
	"bookrec/internal/infra/version"
)

func main() {
	os.Exit(run())
}

func run() int {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <mbo_input_file.csv>\n", os.Args[0])
		return 1
	}
	inputPath := os.Args[1]

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := config.Load()
	logger := log.NewLogger(cfg).With().Str("run_id", uuid.NewString()).Logger()
	registry := metrics.Init(logger)

	// optional admin endpoint (metrics, pprof) for long reconstructions
	var server *http.Server
	if cfg.Server.Enabled {
		mux := http.NewServeMux()
		adminCIDRs := netutil.MustParseCIDRs(cfg.Server.AdminAllowCIDRs)
		mux.Handle("/metrics", middleware.AdminGate(adminCIDRs, metrics.Handler(registry)))
		mux.HandleFunc("/healthz", health.Healthz)
		mux.HandleFunc("/readyz", health.Readyz)
		mux.HandleFunc("/version", version.Handler)
		if cfg.Server.Pprof {
			mux.Handle("/debug/pprof/", middleware.AdminGate(adminCIDRs, http.HandlerFunc(pprof.Index)))
			mux.Handle("/debug/pprof/cmdline", middleware.AdminGate(adminCIDRs, http.HandlerFunc(pprof.Cmdline)))
			mux.Handle("/debug/pprof/profile", middleware.AdminGate(adminCIDRs, http.HandlerFunc(pprof.Profile)))
			mux.Handle("/debug/pprof/symbol", middleware.AdminGate(adminCIDRs, http.HandlerFunc(pprof.Symbol)))
			mux.Handle("/debug/pprof/trace", middleware.AdminGate(adminCIDRs, http.HandlerFunc(pprof.Trace)))
		}
		handler := middleware.RequestID(middleware.Logger(logger)(mux))
		server = &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           handler,
			ReadHeaderTimeout: 2 * time.Second,
			ReadTimeout:       time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
			WriteTimeout:      time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
			IdleTimeout:       time.Duration(cfg.Server.IdleTimeoutSeconds) * time.Second,
		}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("http server error")
			}
		}()
	}

	in, err := os.Open(inputPath)
	if err != nil {
		logger.Error().Err(err).Str("path", inputPath).Msg("open MBO input")
		return 1
	}
	defer in.Close()

	out, err := os.Create(cfg.Engine.OutputPath)
	if err != nil {
		logger.Error().Err(err).Str("path", cfg.Engine.OutputPath).Msg("open MBP output")
		return 1
	}

	writer := csvio.NewWriter(out, cfg.Engine.DepthLevels)
	if err := writer.WriteHeader(); err != nil {
		logger.Error().Err(err).Msg("write MBP header")
		return 1
	}
	reader := csvio.NewReader(in)
	eng := engine.New(cfg, logger, writer)

	logger.Info().Str("input", inputPath).Str("output", cfg.Engine.OutputPath).
		Int("depth_levels", cfg.Engine.DepthLevels).Bool("strict", cfg.Engine.Strict).
		Msg("MBP reconstruction started")

	g := &runner.Group{}
	workerErrCh := g.Go(ctx, func(ctx context.Context) error {
		return eng.Run(ctx, reader)
	})
	health.SetReady(true)

	code := 0
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sigCh:
		logger.Info().Str("signal", s.String()).Msg("shutdown signal received")
		cancel()
		<-workerErrCh
		code = 1
	case err := <-workerErrCh:
		if err != nil {
			logger.Error().Err(err).Msg("reconstruction failed")
			code = 1
		}
	}
	g.Wait()

	health.SetReady(false)
	if err := writer.Flush(); err != nil {
		logger.Error().Err(err).Msg("flush MBP output")
		code = 1
	}
	if err := out.Close(); err != nil {
		logger.Error().Err(err).Msg("close MBP output")
		code = 1
	}
	if server != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown failed")
		}
	}
	if code == 0 {
		logger.Info().Int("rows", eng.Rows()).Msg("MBP-10 reconstruction complete")
	}
	return code
}
