package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// QueueRecordings is the Redis list key for recording download jobs.
	QueueRecordings = "worker:recordings"
	// QueueNotifications is the Redis list key for recording notification jobs.
	QueueNotifications = "worker:notifications"
	// QueueEvents is the Redis list key for meeting lifecycle events consumed
	// by the host application.
	QueueEvents = "worker:events"
	// QueueDLQ is the dead-letter queue for failed jobs after retries.
	QueueDLQ = "worker:dlq"
	// MaxRetries is the number of times to retry a job before moving to DLQ.
	MaxRetries = 3
	// RetryBackoff is the delay between retries.
	RetryBackoff = 10 * time.Second
)

// JobType identifies the job kind.
type JobType string

const (
	JobTypeRecordingDownload JobType = "recording_download"
	JobTypeRecordingNotify   JobType = "recording_notify"
	JobTypeMeetingEvent      JobType = "meeting_event"
)

// DownloadPayload is the payload for recording download jobs.
type DownloadPayload struct {
	RecordingID  int64 `json:"recording_id"`
	Force        bool  `json:"force"`
	DeleteRemote bool  `json:"delete_remote"` // drop the provider copy once internalized
}

// NotifyPayload is the payload for recording notification jobs.
type NotifyPayload struct {
	RecordingID int64 `json:"recording_id"`
	Force       bool  `json:"force"`
}

// Meeting lifecycle event names published to the host application.
const (
	EventMeetingStarted = "meeting_started"
	EventMeetingEnded   = "meeting_ended"
)

// MeetingEventPayload is the payload for meeting lifecycle events.
type MeetingEventPayload struct {
	MeetingID int64  `json:"meeting_id"`
	Event     string `json:"event"`
}

// Job is a generic job envelope.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	CreatedAt time.Time       `json:"created_at"`
}

// Queue enqueues and dequeues jobs via Redis.
type Queue struct {
	client *redis.Client
	logger *zap.Logger
}

// NewQueue creates a new Redis-backed job queue.
func NewQueue(client *redis.Client, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, logger: logger}
}

func (q *Queue) enqueue(ctx context.Context, key string, jobType JobType, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	job := Job{
		ID:        uuid.New().String(),
		Type:      jobType,
		Payload:   body,
		Attempt:   0,
		CreatedAt: time.Now(),
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, key, raw).Err(); err != nil {
		return fmt.Errorf("rpush: %w", err)
	}
	q.logger.Debug("enqueued job", zap.String("job_id", job.ID), zap.String("type", string(jobType)))
	return nil
}

// EnqueueDownload enqueues a recording download job.
func (q *Queue) EnqueueDownload(ctx context.Context, payload DownloadPayload) error {
	return q.enqueue(ctx, QueueRecordings, JobTypeRecordingDownload, payload)
}

// EnqueueNotify enqueues a recording notification job.
func (q *Queue) EnqueueNotify(ctx context.Context, payload NotifyPayload) error {
	return q.enqueue(ctx, QueueNotifications, JobTypeRecordingNotify, payload)
}

// PublishMeetingEvent hands a lifecycle transition to the host application's
// event consumer.
func (q *Queue) PublishMeetingEvent(ctx context.Context, payload MeetingEventPayload) error {
	return q.enqueue(ctx, QueueEvents, JobTypeMeetingEvent, payload)
}

// Dequeue blocks until a job is available on any worker queue or ctx is
// done. Returns the job and the queue name it came from.
func (q *Queue) Dequeue(ctx context.Context) (*Job, string, error) {
	result, err := q.client.BLPop(ctx, 0, QueueRecordings, QueueNotifications).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, "", nil
		}
		return nil, "", err
	}
	if len(result) < 2 {
		return nil, "", nil
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		q.logger.Warn("invalid job payload", zap.String("raw", result[1]), zap.Error(err))
		return nil, "", nil
	}
	return &job, result[0], nil
}

// Retry re-enqueues a job on its origin queue with incremented attempt. If
// attempt >= MaxRetries, pushes to DLQ instead.
func (q *Queue) Retry(ctx context.Context, job *Job, origin string) error {
	job.Attempt++
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if job.Attempt >= MaxRetries {
		if err := q.client.RPush(ctx, QueueDLQ, raw).Err(); err != nil {
			q.logger.Error("dlq push failed", zap.Error(err), zap.String("job_id", job.ID))
			return err
		}
		q.logger.Warn("job moved to DLQ", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
		return nil
	}
	if err := q.client.RPush(ctx, origin, raw).Err(); err != nil {
		return err
	}
	q.logger.Info("job retried", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
	return nil
}
