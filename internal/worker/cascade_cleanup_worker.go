package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"contextkeeper/internal/errs"
	"contextkeeper/internal/model"
	"contextkeeper/internal/platform/rabbitmq"
)

type Purger interface {
	PurgeSession(ctx context.Context, sessionID, bucketID string) error
}

type Republisher interface {
	PublishCleanup(ctx context.Context, job model.CleanupJob) error
}

type outcome int

const (
	outcomeAck outcome = iota
	outcomeDrop
	outcomeRequeue
)

// CascadeCleanupWorker consumes cleanup jobs and retries the session delete
// cascade. A failed job is republished with its attempt counter bumped until
// maxAttempts is reached.
type CascadeCleanupWorker struct {
	conn        *amqp.Connection
	purger      Purger
	publisher   Republisher
	queueName   string
	maxAttempts int
	retryDelay  time.Duration
	logger      *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewCascadeCleanupWorker(
	conn *amqp.Connection,
	purger Purger,
	publisher Republisher,
	queueName string,
	maxAttempts int,
	logger *zap.Logger,
) *CascadeCleanupWorker {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CascadeCleanupWorker{
		conn:        conn,
		purger:      purger,
		publisher:   publisher,
		queueName:   queueName,
		maxAttempts: maxAttempts,
		retryDelay:  2 * time.Second,
		logger:      logger.Named("cleanup_worker"),
	}
}

func (w *CascadeCleanupWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}
	if err := rabbitmq.DeclareQueue(ch, w.queueName); err != nil {
		_ = ch.Close()
		cancel()
		return err
	}
	if err := ch.Qos(1, 0, false); err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("set worker qos failed: %w", err)
	}

	deliveries, err := ch.Consume(
		w.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				switch w.process(workerCtx, d.Body) {
				case outcomeAck:
					_ = d.Ack(false)
				case outcomeDrop:
					_ = d.Nack(false, false)
				case outcomeRequeue:
					_ = d.Nack(false, true)
				}
			}
		}
	}()

	return nil
}

func (w *CascadeCleanupWorker) process(ctx context.Context, body []byte) outcome {
	var job model.CleanupJob
	if err := json.Unmarshal(body, &job); err != nil || job.SessionID == "" {
		w.logger.Error("decode cleanup job failed", zap.ByteString("body", body), zap.Error(err))
		return outcomeDrop
	}
	log := w.logger.With(zap.String("session_id", job.SessionID), zap.Int("attempt", job.Attempt))

	err := w.purger.PurgeSession(ctx, job.SessionID, job.ContextBucketID)
	if err == nil {
		log.Info("session cleanup finished")
		return outcomeAck
	}
	if errors.Is(err, errs.ErrInvalidInput) {
		log.Error("cleanup job rejected", zap.Error(err))
		return outcomeDrop
	}
	if job.Attempt >= w.maxAttempts {
		log.Error("cleanup job exhausted attempts, orphans remain", zap.Error(err))
		return outcomeDrop
	}

	log.Warn("session cleanup failed, retrying", zap.Error(err))
	if w.retryDelay > 0 {
		timer := time.NewTimer(time.Duration(job.Attempt) * w.retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return outcomeRequeue
		case <-timer.C:
		}
	}

	job.Attempt++
	job.EnqueuedAt = time.Now().UTC()
	if err := w.publisher.PublishCleanup(ctx, job); err != nil {
		log.Error("republish cleanup job failed", zap.Error(err))
		return outcomeRequeue
	}
	return outcomeAck
}

func (w *CascadeCleanupWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
