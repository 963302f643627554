package worker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/campusconf/backend/config"
	"github.com/campusconf/backend/internal/models"
	"github.com/campusconf/backend/internal/webex"
	"github.com/campusconf/backend/pkg/queue"
	"github.com/campusconf/backend/pkg/storage"
)

// RecordingStore is the recording surface the downloader drives.
type RecordingStore interface {
	Get(ctx context.Context, id int64) (*models.Recording, error)
	HasInternalFile(ctx context.Context, rec *models.Recording, verify bool) (bool, error)
	MarkDownloaded(ctx context.Context, rec *models.Recording, storageKey string, size int64, remoteRemoved bool) error
	DeleteRemoteRecording(ctx context.Context, rec *models.Recording) error
}

// Uploader streams fetched media into object storage.
type Uploader interface {
	Upload(ctx context.Context, key, contentType string, body io.Reader, contentLength int64) (string, error)
}

// Downloader internalizes provider recording files.
type Downloader struct {
	recordings RecordingStore
	files      Uploader
	client     *http.Client
	cfg        config.RecordingConfig
	logger     *zap.Logger
}

// NewDownloader creates a downloader. The HTTP client carries the configured
// fetch timeout; recording files run to gigabytes, so it is generous.
func NewDownloader(recordings RecordingStore, files Uploader, cfg config.RecordingConfig, logger *zap.Logger) *Downloader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Downloader{
		recordings: recordings,
		files:      files,
		client:     &http.Client{Timeout: cfg.DownloadTimeout},
		cfg:        cfg,
		logger:     logger,
	}
}

// Process fetches one recording's media and stores it internally. Already
// internalized recordings are skipped unless forced, which makes the job safe
// to enqueue more than once.
func (d *Downloader) Process(ctx context.Context, payload queue.DownloadPayload) error {
	rec, err := d.recordings.Get(ctx, payload.RecordingID)
	if err != nil {
		return err
	}
	if rec == nil {
		d.logger.Warn("download job for unknown recording", zap.Int64("recording", payload.RecordingID))
		return nil
	}
	if rec.Deleted != nil {
		return nil
	}

	has, err := d.recordings.HasInternalFile(ctx, rec, true)
	if err != nil {
		return err
	}
	if has && !payload.Force {
		return nil
	}
	if rec.FileURL == "" {
		d.logger.Warn("recording has no file url", zap.Int64("recording", rec.ID))
		return nil
	}

	size, key, err := d.fetch(ctx, rec)
	if err != nil {
		return err
	}
	if err := d.recordings.MarkDownloaded(ctx, rec, key, size, false); err != nil {
		return err
	}

	if payload.DeleteRemote || d.cfg.DeleteAfterFetch {
		if err := d.recordings.DeleteRemoteRecording(ctx, rec); err != nil {
			// The internal copy is safe; losing the provider cleanup is
			// recoverable on the next purge pass.
			d.logger.Error("provider copy removal failed", zap.Int64("recording", rec.ID), zap.Error(err))
		}
	}

	d.logger.Info("recording internalized",
		zap.Int64("recording", rec.ID),
		zap.String("key", key),
		zap.Int64("bytes", size))
	return nil
}

func (d *Downloader) fetch(ctx context.Context, rec *models.Recording) (int64, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rec.FileURL, nil)
	if err != nil {
		return 0, "", &webex.DownloadError{URL: rec.FileURL, Err: err}
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return 0, "", &webex.DownloadError{URL: rec.FileURL, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, "", &webex.DownloadError{URL: rec.FileURL, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	key := storage.RecordingKey(rec.UniqueID.String(), fileName(rec))
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if _, err := d.files.Upload(ctx, key, contentType, resp.Body, resp.ContentLength); err != nil {
		return 0, "", err
	}
	size := resp.ContentLength
	if size < 0 {
		size = rec.FileSize
	}
	return size, key, nil
}

// fileName derives the stored object name, preferring the name the provider
// URL carries over the recording topic.
func fileName(rec *models.Recording) string {
	if u, err := url.Parse(rec.FileURL); err == nil {
		if base := path.Base(u.Path); base != "." && base != "/" && strings.Contains(base, ".") {
			return base
		}
	}
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, rec.Name)
	if name == "" {
		name = rec.RecordingID
	}
	return name + ".arf"
}
