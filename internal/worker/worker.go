// Package worker consumes upload events from RabbitMQ and submits them for
// transcription. It also runs the publish sweep that retries COMPLETED jobs whose
// publish failed during callback handling.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cuongbtq/transcript-relay/internal/domain"
	"github.com/cuongbtq/transcript-relay/internal/jobstore"
)

// ErrDeliveriesClosed is returned by Start when the broker closes the delivery channel.
var ErrDeliveriesClosed = errors.New("rabbitmq delivery channel closed")

// Queue is the consuming side of the upload queue
type Queue interface {
	Qos(prefetchCount int) error
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
}

// Submitter sends one stored object to the provider
type Submitter interface {
	Submit(ctx context.Context, source domain.SourceRef, requester string) (string, error)
}

// Replayer publishes a COMPLETED job from its stored result
type Replayer interface {
	Replay(ctx context.Context, jobID string) (string, error)
}

// Config holds worker configuration
type Config struct {
	Logger        *slog.Logger
	Queue         Queue
	Store         jobstore.Store
	Submitter     Submitter
	Publisher     Replayer
	WorkerID      string
	Concurrency   int
	PrefetchCount int
	JobTimeout    time.Duration
	SweepInterval time.Duration
	SweepMinAge   time.Duration
	SweepBatch    int
}

// uploadMessage is one parsed delivery handed to the pool
type uploadMessage struct {
	Event    domain.UploadEvent
	Delivery amqp.Delivery
}

// Worker represents the background upload consumer
type Worker struct {
	logger        *slog.Logger
	queue         Queue
	store         jobstore.Store
	submitter     Submitter
	publisher     Replayer
	workerID      string
	concurrency   int
	prefetchCount int
	jobTimeout    time.Duration
	sweepInterval time.Duration
	sweepMinAge   time.Duration
	sweepBatch    int
	now           func() time.Time

	jobsChan chan *uploadMessage
	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = "worker-" + uuid.NewString()
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	prefetch := cfg.PrefetchCount
	if prefetch <= 0 {
		prefetch = concurrency
	}

	batch := cfg.SweepBatch
	if batch <= 0 {
		batch = 50
	}

	return &Worker{
		logger:        cfg.Logger.With(slog.String("worker_id", workerID)),
		queue:         cfg.Queue,
		store:         cfg.Store,
		submitter:     cfg.Submitter,
		publisher:     cfg.Publisher,
		workerID:      workerID,
		concurrency:   concurrency,
		prefetchCount: prefetch,
		jobTimeout:    cfg.JobTimeout,
		sweepInterval: cfg.SweepInterval,
		sweepMinAge:   cfg.SweepMinAge,
		sweepBatch:    batch,
		now:           func() time.Time { return time.Now().UTC() },
		jobsChan:      make(chan *uploadMessage, concurrency),
		stopChan:      make(chan struct{}),
	}
}

// Start consumes upload events until ctx is canceled or the broker closes the
// delivery channel. The sweep runs alongside when an interval is configured.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.Int("concurrency", w.concurrency),
		slog.Duration("job_timeout", w.jobTimeout),
		slog.Duration("sweep_interval", w.sweepInterval),
	)

	deliveries, err := w.setupConsumer()
	if err != nil {
		return err
	}

	w.spawnWorkerPool(ctx)

	if w.sweepInterval > 0 {
		w.wg.Add(1)
		go w.sweepLoop(ctx)
	}

	return w.startMessageDispatcher(ctx, deliveries)
}

// Stop signals all goroutines and waits for in-flight uploads to finish
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	w.stopOnce.Do(func() { close(w.stopChan) })
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}
