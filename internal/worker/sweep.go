package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cuongbtq/transcript-relay/internal/domain"
	"github.com/cuongbtq/transcript-relay/internal/jobstore"
)

// sweepLoop periodically republishes COMPLETED jobs
func (w *Worker) sweepLoop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Sweep(ctx); err != nil {
				w.logger.Warn("Publish sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Sweep publishes one batch of jobs that stayed COMPLETED longer than the
// minimum age, oldest first, and returns how many reached PUBLISHED. Per-job
// failures are logged and left for the next sweep; a failed publish bumps the
// job's updated_at, so it waits out the minimum age again.
func (w *Worker) Sweep(ctx context.Context) (int, error) {
	jobs, err := w.store.List(ctx, jobstore.JobFilter{
		State:         domain.StateCompleted,
		UpdatedBefore: w.now().Add(-w.sweepMinAge),
		PageSize:      w.sweepBatch,
		OldestFirst:   true,
	})
	if err != nil {
		return 0, err
	}
	if len(jobs) > w.sweepBatch {
		jobs = jobs[:w.sweepBatch]
	}
	if len(jobs) == 0 {
		return 0, nil
	}

	published := 0
	for _, job := range jobs {
		if ctx.Err() != nil {
			break
		}

		ref, err := w.publisher.Replay(ctx, job.JobID)
		if errors.Is(err, domain.ErrPublishInProgress) {
			w.logger.Debug("Sweep skipped job being published elsewhere",
				slog.String("job_id", job.JobID),
			)
			continue
		}
		if err != nil {
			w.logger.Warn("Sweep could not publish job",
				slog.String("job_id", job.JobID),
				slog.String("kind", string(domain.KindOf(err))),
				slog.String("error", err.Error()),
			)
			continue
		}

		published++
		w.logger.Info("Sweep published job",
			slog.String("job_id", job.JobID),
			slog.String("published_ref", ref),
		)
	}

	w.logger.Info("Publish sweep finished",
		slog.Int("candidates", len(jobs)),
		slog.Int("published", published),
	)

	return published, nil
}
