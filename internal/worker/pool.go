package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/transcript-relay/internal/domain"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}
}

// workerLoop is the main processing loop for each worker goroutine
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)

	for {
		select {
		case <-w.stopChan:
			w.logger.Debug("Worker goroutine stopping - stopChan closed",
				slog.String("worker_name", workerName),
			)
			return

		case <-ctx.Done():
			w.logger.Debug("Worker goroutine stopping - context canceled",
				slog.String("worker_name", workerName),
			)
			return

		case msg := <-w.jobsChan:
			w.handle(ctx, workerName, msg)
		}
	}
}

// handle submits one upload and acknowledges its delivery
func (w *Worker) handle(ctx context.Context, workerName string, msg *uploadMessage) {
	source := msg.Event.Source()

	jobID, err := w.processUpload(ctx, msg.Event)
	if err != nil {
		requeue := shouldRequeue(err)
		w.logger.Error("Upload submission failed",
			slog.String("worker_name", workerName),
			slog.String("source", source.String()),
			slog.String("kind", string(domain.KindOf(err))),
			slog.Bool("requeue", requeue),
			slog.String("error", err.Error()),
		)

		if nackErr := msg.Delivery.Nack(false, requeue); nackErr != nil {
			w.logger.Error("Failed to NACK message",
				slog.String("worker_name", workerName),
				slog.String("error", nackErr.Error()),
			)
		}
		return
	}

	if ackErr := msg.Delivery.Ack(false); ackErr != nil {
		w.logger.Error("Failed to ACK message",
			slog.String("worker_name", workerName),
			slog.String("job_id", jobID),
			slog.String("error", ackErr.Error()),
		)
		return
	}

	w.logger.Info("Upload submitted",
		slog.String("worker_name", workerName),
		slog.String("job_id", jobID),
		slog.String("source", source.String()),
	)
}

// processUpload submits under the per-upload timeout
func (w *Worker) processUpload(ctx context.Context, event domain.UploadEvent) (string, error) {
	if w.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.jobTimeout)
		defer cancel()
	}
	return w.submitter.Submit(ctx, event.Source(), event.Requester)
}

// shouldRequeue sends transient failures back to the queue; everything else is dead-lettered
func shouldRequeue(err error) bool {
	return domain.IsRetryable(err)
}
