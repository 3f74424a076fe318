package worker

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"facecraft/internal/app"
	kafka_impl "facecraft/internal/broker/kafka"
	"facecraft/internal/config"
	job_uc "facecraft/internal/usecase/job"
	pool "facecraft/internal/worker"

	"github.com/wb-go/wbf/zlog"
)

type Worker struct {
	cfg      *config.Config
	logger   *zlog.Zerolog
	core     *app.Core
	consumer *kafka_impl.ConsumerClient
	producer *kafka_impl.ProducerClient
	pool     *pool.Pool
}

func NewWorker(cfg *config.Config, logger *zlog.Zerolog) (*Worker, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("%w: worker needs at least one Kafka broker", config.ErrInvalidConfig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Tasks that cannot finish are put back on the topic.
	producer := kafka_impl.NewProducerClient(cfg)
	core, err := app.NewCore(ctx, cfg, logger, job_uc.WithProducer(producer))
	if err != nil {
		producer.Close()
		return nil, err
	}

	consumer := kafka_impl.NewConsumerClient(cfg)

	logger.Info().
		Strs("brokers", cfg.Kafka.Brokers).
		Str("topic", cfg.Kafka.ProcessingTopic).
		Str("group", cfg.Kafka.GroupID).
		Int("concurrency", cfg.Worker.Concurrency).
		Msg("Worker configuration")

	return &Worker{
		cfg:      cfg,
		logger:   logger,
		core:     core,
		consumer: consumer,
		producer: producer,
		pool:     pool.NewPool(consumer, core.Usecase, cfg.Worker.Concurrency, cfg.DefaultRetryStrategy(), logger),
	}, nil
}

func (w *Worker) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		w.logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal, stopping worker...")
		cancel()
	}()

	runErr := w.pool.Run(ctx)

	if err := w.consumer.Close(); err != nil {
		w.logger.Error().Err(err).Msg("Failed to close consumer")
	}
	if err := w.producer.Close(); err != nil {
		w.logger.Error().Err(err).Msg("Failed to close producer")
	}
	w.core.Close()

	if runErr != nil {
		return runErr
	}
	w.logger.Info().Msg("Worker stopped gracefully")
	return nil
}
