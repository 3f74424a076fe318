package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"facecraft/internal/broker"
	"facecraft/internal/domain"

	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"
)

type taskRunner interface {
	RunTask(ctx context.Context, task domain.ProcessingTask) error
}

// Pool feeds consumed tasks to a fixed number of goroutines. A message is
// committed when the runner returns nil. The runner reschedules work it
// cannot finish, so an error only means the commit is skipped.
type Pool struct {
	consumer    broker.Consumer
	runner      taskRunner
	retries     retry.Strategy
	concurrency int
	logger      *zlog.Zerolog
	wg          sync.WaitGroup
}

func NewPool(consumer broker.Consumer, runner taskRunner, concurrency int, retries retry.Strategy, logger *zlog.Zerolog) *Pool {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Pool{
		consumer:    consumer,
		runner:      runner,
		retries:     retries,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Run blocks until ctx is canceled and every in-flight task has returned.
// It returns ErrConsumerStopped when the consumer closes its channel first.
func (p *Pool) Run(ctx context.Context) error {
	messages := make(chan *broker.Message, p.concurrency*2)
	p.consumer.Start(ctx, messages, p.retries)

	for i := 0; i < p.concurrency; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			p.processWorker(ctx, id, messages)
		}(i)
	}

	stopped := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(stopped)
	}()

	p.logger.Info().Int("concurrency", p.concurrency).Msg("Worker pool started")
	select {
	case <-ctx.Done():
		<-stopped
	case <-stopped:
		if ctx.Err() == nil {
			p.logger.Error().Msg("Consumer stopped delivering messages")
			return ErrConsumerStopped
		}
	}
	p.logger.Info().Msg("Worker pool stopped")
	return nil
}

func (p *Pool) processWorker(ctx context.Context, id int, messages <-chan *broker.Message) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Debug().Int("worker_id", id).Msg("Worker stopping")
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			start := time.Now()
			if err := p.safeProcessMessage(ctx, id, msg); err != nil {
				p.logger.Error().
					Err(err).
					Int("worker_id", id).
					Int64("offset", msg.Offset).
					Msg("Failed to process message")
				continue
			}
			if err := p.consumer.Commit(ctx, msg); err != nil {
				p.logger.Error().
					Err(err).
					Int("worker_id", id).
					Int64("offset", msg.Offset).
					Msg("Failed to commit message")
				continue
			}
			p.logger.Debug().
				Int("worker_id", id).
				Int64("offset", msg.Offset).
				Dur("duration", time.Since(start)).
				Msg("Message processed and committed")
		}
	}
}

func (p *Pool) safeProcessMessage(ctx context.Context, workerID int, msg *broker.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().
				Int("worker_id", workerID).
				Interface("panic", r).
				Int64("offset", msg.Offset).
				Msg("Panic recovered while processing message")
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return p.processMessage(ctx, msg)
}

func (p *Pool) processMessage(ctx context.Context, msg *broker.Message) error {
	var task domain.ProcessingTask
	if err := json.Unmarshal(msg.Value, &task); err != nil {
		// A malformed payload never becomes valid; commit it and move on.
		p.logger.Error().Err(err).Int64("offset", msg.Offset).Msg("Dropping malformed task")
		return nil
	}

	p.logger.Info().
		Str("task_id", task.ID).
		Str("job_id", task.JobID).
		Int64("offset", msg.Offset).
		Msg("Processing task")

	if err := p.runner.RunTask(ctx, task); err != nil {
		return fmt.Errorf("job %s: %w", task.JobID, err)
	}
	return nil
}
