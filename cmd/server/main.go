package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/airboard/internal/adapters/detector"
	"github.com/dkeye/airboard/internal/adapters/device"
	router "github.com/dkeye/airboard/internal/adapters/http"
	"github.com/dkeye/airboard/internal/app"
	"github.com/dkeye/airboard/internal/app/orch"
	"github.com/dkeye/airboard/internal/config"
	"github.com/dkeye/airboard/internal/metrics"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("airboard stopped")
	}
}

func run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
	if cfg.Mode != "debug" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	if cfg.Secret == "" {
		cfg.Secret = randomSecret()
		log.Warn().Msg("no session secret configured, cookies will not survive a restart")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	opener, err := device.NewOpener(cfg.Capture)
	if err != nil {
		return err
	}
	det, err := detector.New(cfg.Detector)
	if err != nil {
		return err
	}
	policy, err := app.PolicyByName(cfg.Backpressure)
	if err != nil {
		return err
	}

	o := orch.New(orch.Deps{
		Opener:       opener,
		Detector:     det,
		Policy:       policy,
		Metrics:      m,
		Throttle:     cfg.Throttle.Interval,
		InboundLimit: cfg.Inbound.Limit,
		InboundEvery: cfg.Inbound.Interval,
		OpenTimeout:  cfg.Capture.OpenTimeout,
		Mirror:       cfg.Capture.Mirror,
		JPEGQuality:  cfg.Capture.JPEGQuality,
	})

	r := router.SetupRouter(ctx, cfg, o, reg)
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Str("capture", cfg.Capture.Driver).Str("detector", cfg.Detector.Driver).Msg("airboard server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		// Streaming responses only end once their resources are released.
		o.Shutdown()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		return nil
	})

	err = g.Wait()
	log.Info().Msg("Server exited")
	return err
}

func randomSecret() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
