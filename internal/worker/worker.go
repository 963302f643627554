package worker

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/campusconf/backend/pkg/queue"
)

// Notifier announces one recording.
type Notifier interface {
	Notify(ctx context.Context, recordingID int64, force bool) error
}

// Jobs is the queue surface the worker consumes.
type Jobs interface {
	Dequeue(ctx context.Context) (*queue.Job, string, error)
	Retry(ctx context.Context, job *queue.Job, origin string) error
}

// Worker drains the download and notification queues.
type Worker struct {
	jobs       Jobs
	downloader *Downloader
	notifier   Notifier
	logger     *zap.Logger
}

// New creates a worker.
func New(jobs Jobs, downloader *Downloader, notifier Notifier, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{jobs: jobs, downloader: downloader, notifier: notifier, logger: logger}
}

// Run consumes jobs until ctx is cancelled. Failed jobs go back on their
// origin queue with a backoff, then to the dead-letter queue.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("worker started")
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopping")
			return
		default:
		}

		job, origin, err := w.jobs.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("dequeue failed", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		if job == nil {
			continue
		}

		if err := w.handle(ctx, job); err != nil {
			w.logger.Error("job failed",
				zap.String("job_id", job.ID),
				zap.String("type", string(job.Type)),
				zap.Int("attempt", job.Attempt),
				zap.Error(err))
			time.Sleep(queue.RetryBackoff)
			if rerr := w.jobs.Retry(ctx, job, origin); rerr != nil {
				w.logger.Error("retry enqueue failed", zap.String("job_id", job.ID), zap.Error(rerr))
			}
		}
	}
}

func (w *Worker) handle(ctx context.Context, job *queue.Job) error {
	switch job.Type {
	case queue.JobTypeRecordingDownload:
		var payload queue.DownloadPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			w.logger.Warn("malformed download payload", zap.String("job_id", job.ID), zap.Error(err))
			return nil
		}
		return w.downloader.Process(ctx, payload)
	case queue.JobTypeRecordingNotify:
		var payload queue.NotifyPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			w.logger.Warn("malformed notify payload", zap.String("job_id", job.ID), zap.Error(err))
			return nil
		}
		return w.notifier.Notify(ctx, payload.RecordingID, payload.Force)
	default:
		w.logger.Warn("unknown job type", zap.String("type", string(job.Type)))
		return nil
	}
}
