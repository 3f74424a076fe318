package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	kafka_impl "facecraft/internal/broker/kafka"
	"facecraft/internal/config"
	"facecraft/internal/http-server/handler/health"
	health_dto "facecraft/internal/http-server/handler/health/dto"
	"facecraft/internal/http-server/handler/portrait"
	"facecraft/internal/http-server/router"
	job_uc "facecraft/internal/usecase/job"

	"github.com/wb-go/wbf/zlog"
)

type App struct {
	cfg      *config.Config
	server   *http.Server
	logger   *zlog.Zerolog
	core     *Core
	producer *kafka_impl.ProducerClient
}

func NewApp(cfg *config.Config, logger *zlog.Zerolog) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var opts []job_uc.Option
	var producer *kafka_impl.ProducerClient
	if len(cfg.Kafka.Brokers) > 0 {
		producer = kafka_impl.NewProducerClient(cfg)
		opts = append(opts, job_uc.WithProducer(producer))
	} else {
		logger.Warn().Msg("No Kafka brokers configured, asynchronous jobs disabled")
	}

	core, err := NewCore(ctx, cfg, logger, opts...)
	if err != nil {
		if producer != nil {
			producer.Close()
		}
		return nil, err
	}

	portraitHandler := portrait.NewPortraitHandler(
		core.Usecase,
		cfg.DefaultOptions(),
		cfg.MaxUploadBytes(),
		cfg.Jobs.BatchMaxFiles,
		logger,
	)

	statuses := make([]health_dto.ModelStatus, 0, len(core.Models.Statuses))
	for _, s := range core.Models.Statuses {
		statuses = append(statuses, health_dto.ModelStatus{
			Name:     s.Name,
			Required: s.Required,
			Loaded:   s.Loaded,
			Error:    s.Error,
		})
	}
	healthHandler := health.NewHealthHandler(core.Models.Processor, health.Info{
		Device:    core.Models.Device,
		AsyncJobs: core.Usecase.AsyncEnabled(),
		Models:    statuses,
	}, []health.Check{
		{Name: "models", Fn: core.ModelsReady},
		{Name: "database", Fn: core.Jobs.Ping},
	}, logger)

	h := &router.Handler{
		PortraitHandler: portraitHandler,
		HealthHandler:   healthHandler,
	}

	mux := router.SetupRouter(h, router.Options{
		APIKey:      cfg.Security.APIKey,
		CORSOrigins: cfg.Security.CORSOrigins,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Addr,
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return &App{
		cfg:      cfg,
		server:   server,
		logger:   logger,
		core:     core,
		producer: producer,
	}, nil
}

func (a *App) Run() error {
	a.logger.Info().Str("addr", a.cfg.Server.Addr).Msg("Starting server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go a.handleSignals(cancel)
	go a.runCleanup(ctx)

	serverErr := make(chan error, 1)
	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		a.logger.Error().Err(err).Msg("Server error")
		a.close()
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
		a.logger.Info().Msg("Shutting down server")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.logger.Error().Err(err).Msg("Server shutdown failed")
		}

		a.close()
		a.logger.Info().Msg("Server stopped gracefully")
		return nil
	}
}

// runCleanup removes expired jobs once at startup and then on every tick.
func (a *App) runCleanup(ctx context.Context) {
	interval := a.cfg.Jobs.CleanupInterval
	if interval <= 0 || a.cfg.Jobs.CleanupAgeHours <= 0 {
		a.logger.Info().Msg("Job cleanup disabled")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		removed, err := a.core.Usecase.CleanupExpired(ctx, a.cfg.CleanupAge())
		switch {
		case err != nil && !errors.Is(err, context.Canceled):
			a.logger.Error().Err(err).Int("removed", removed).Msg("Job cleanup failed")
		case removed > 0:
			a.logger.Info().Int("removed", removed).Msg("Expired jobs cleaned up")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (a *App) close() {
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error().Err(err).Msg("Failed to close producer")
		}
	}
	a.core.Close()
}

func (a *App) handleSignals(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	a.logger.Info().Str("signal", sig.String()).Msg("Received signal")
	cancel()
}
