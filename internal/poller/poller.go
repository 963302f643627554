package poller

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/campusconf/backend/config"
	"github.com/campusconf/backend/internal/models"
	"github.com/campusconf/backend/internal/webex"
	"github.com/campusconf/backend/pkg/queue"
	redisclient "github.com/campusconf/backend/pkg/redis"
)

// markKey stores the upper bound of the last finished recording sweep.
const markKey = "poller:recordings:last"

// Provider lists recordings created inside a window.
type Provider interface {
	ListRecordings(ctx context.Context, from, to time.Time) ([]webex.RemoteRecording, error)
}

// Recordings is the recording surface the sweeps drive.
type Recordings interface {
	Materialize(ctx context.Context, rr webex.RemoteRecording) (*models.Recording, bool, error)
	ShouldBeDownloaded(ctx context.Context, rec *models.Recording) (bool, error)
	PurgeTrash(ctx context.Context, now time.Time) (int, error)
}

// Meetings runs the open-session status sweep.
type Meetings interface {
	SweepStatus(ctx context.Context, since time.Time) error
}

// Jobs enqueues follow-up work for discovered recordings.
type Jobs interface {
	EnqueueDownload(ctx context.Context, payload queue.DownloadPayload) error
	EnqueueNotify(ctx context.Context, payload queue.NotifyPayload) error
}

// Poller runs the periodic provider sweeps: recording discovery, meeting
// status, and trash purge.
type Poller struct {
	provider   Provider
	recordings Recordings
	meetings   Meetings
	jobs       Jobs
	marks      *redisclient.Client
	cfg        config.RecordingConfig
	logger     *zap.Logger
}

// New creates a poller.
func New(provider Provider, recordings Recordings, meetings Meetings, jobs Jobs,
	marks *redisclient.Client, cfg config.RecordingConfig, logger *zap.Logger) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		provider:   provider,
		recordings: recordings,
		meetings:   meetings,
		jobs:       jobs,
		marks:      marks,
		cfg:        cfg,
		logger:     logger,
	}
}

// Run drives all sweeps on their intervals until ctx is cancelled. The trash
// purge piggybacks on the recording interval; it is cheap when the trash is
// empty.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info("poller started",
		zap.Duration("recording_interval", p.cfg.PollInterval),
		zap.Duration("status_interval", p.cfg.StatusInterval))

	recordingTicker := time.NewTicker(p.cfg.PollInterval)
	statusTicker := time.NewTicker(p.cfg.StatusInterval)
	defer recordingTicker.Stop()
	defer statusTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poller stopping")
			return
		case <-recordingTicker.C:
			if err := p.SweepRecordings(ctx); err != nil {
				p.logger.Error("recording sweep failed", zap.Error(err))
			}
			if purged, err := p.recordings.PurgeTrash(ctx, time.Now()); err != nil {
				p.logger.Error("trash purge failed", zap.Error(err))
			} else if purged > 0 {
				p.logger.Info("trash purged", zap.Int("recordings", purged))
			}
		case <-statusTicker.C:
			since := time.Now().Add(-24 * time.Hour)
			if err := p.meetings.SweepStatus(ctx, since); err != nil {
				p.logger.Error("status sweep failed", zap.Error(err))
			}
		}
	}
}

// SweepRecordings asks the provider for recordings created since the last
// sweep and materializes them locally. New local rows get a download job when
// policy wants one and a notification job either way; both consumers are
// idempotent, so an overlap-induced repeat is harmless.
func (p *Poller) SweepRecordings(ctx context.Context) error {
	now := time.Now()
	from := p.lastMark(ctx, now).Add(-p.cfg.PollWindowBuffer)

	remote, err := p.provider.ListRecordings(ctx, from, now)
	if err != nil {
		return err
	}

	discovered := 0
	for _, rr := range remote {
		rec, created, err := p.recordings.Materialize(ctx, rr)
		if err != nil {
			p.logger.Error("materialize failed", zap.String("recording_id", rr.RecordingID), zap.Error(err))
			continue
		}
		if !created {
			continue
		}
		discovered++

		wanted, err := p.recordings.ShouldBeDownloaded(ctx, rec)
		if err != nil {
			p.logger.Error("download policy check failed", zap.Int64("recording", rec.ID), zap.Error(err))
		} else if wanted {
			if err := p.jobs.EnqueueDownload(ctx, queue.DownloadPayload{RecordingID: rec.ID}); err != nil {
				p.logger.Error("download enqueue failed", zap.Int64("recording", rec.ID), zap.Error(err))
			}
		}
		if err := p.jobs.EnqueueNotify(ctx, queue.NotifyPayload{RecordingID: rec.ID}); err != nil {
			p.logger.Error("notify enqueue failed", zap.Int64("recording", rec.ID), zap.Error(err))
		}
	}

	p.setMark(ctx, now)
	if discovered > 0 {
		p.logger.Info("recordings discovered", zap.Int("count", discovered), zap.Time("window_from", from))
	}
	return nil
}

// lastMark returns the persisted sweep mark, or one interval back when this
// is the first run.
func (p *Poller) lastMark(ctx context.Context, now time.Time) time.Time {
	fallback := now.Add(-p.cfg.PollInterval)
	if p.marks == nil {
		return fallback
	}
	raw, err := p.marks.Get(ctx, markKey).Result()
	if err != nil {
		return fallback
	}
	mark, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return fallback
	}
	return mark
}

func (p *Poller) setMark(ctx context.Context, mark time.Time) {
	if p.marks == nil {
		return
	}
	if err := p.marks.Set(ctx, markKey, mark.Format(time.RFC3339), 0).Err(); err != nil {
		p.logger.Warn("sweep mark write failed", zap.Error(err))
	}
}
