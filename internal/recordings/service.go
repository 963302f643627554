package recordings

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/campusconf/backend/config"
	"github.com/campusconf/backend/internal/models"
	"github.com/campusconf/backend/internal/webex"
)

// Store is the persistence surface the service needs.
type Store interface {
	Create(ctx context.Context, rec *models.Recording) (bool, error)
	Update(ctx context.Context, rec *models.Recording) error
	GetByID(ctx context.Context, id int64) (*models.Recording, error)
	GetByRecordingID(ctx context.Context, recordingID string) (*models.Recording, error)
	ListByMeeting(ctx context.Context, meetingID int64) ([]*models.Recording, error)
	ListDeletedBefore(ctx context.Context, cutoff time.Time) ([]*models.Recording, error)
	ListFiltered(ctx context.Context, f Filter) ([]*models.Recording, error)
	Delete(ctx context.Context, id int64) error
	ListRemoteServers(ctx context.Context) ([]*models.RemoteServer, error)
}

// MeetingResolver looks up the local meeting owning a provider session key.
type MeetingResolver interface {
	GetByMeetingKey(ctx context.Context, meetingKey string) (*models.Meeting, error)
}

// Remote is the provider surface used for recording sync and deletion.
type Remote interface {
	DeleteRecording(ctx context.Context, recordingID string) error
	UpdateRecording(ctx context.Context, recordingID, topic string) error
}

// Files verifies and removes internal media copies.
type Files interface {
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

// Service owns the recording lifecycle: materializing provider artifacts
// into local rows, resolving which meeting they belong to, and walking the
// file-status machine as copies appear and disappear.
type Service struct {
	repo     Store
	meetings MeetingResolver
	remote   Remote
	files    Files
	cfg      config.RecordingConfig
	logger   *zap.Logger

	mu      sync.Mutex
	servers []*models.RemoteServer
}

// NewService creates the recordings service.
func NewService(repo Store, meetings MeetingResolver, remote Remote, files Files, cfg config.RecordingConfig, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, meetings: meetings, remote: remote, files: files, cfg: cfg, logger: logger}
}

// Get returns a recording by id, or nil.
func (s *Service) Get(ctx context.Context, id int64) (*models.Recording, error) {
	return s.repo.GetByID(ctx, id)
}

// ListByMeeting returns a meeting's recordings.
func (s *Service) ListByMeeting(ctx context.Context, meetingID int64) ([]*models.Recording, error) {
	return s.repo.ListByMeeting(ctx, meetingID)
}

// Materialize upserts a provider recording into the local table, keyed by the
// provider identifier. The bool reports whether a new row was created. An
// already known recording only has its provider-side fields refreshed, so the
// sweep can run repeatedly over overlapping windows.
func (s *Service) Materialize(ctx context.Context, rr webex.RemoteRecording) (*models.Recording, bool, error) {
	rec := &models.Recording{
		MeetingKey:  rr.MeetingKey,
		RecordingID: rr.RecordingID,
		HostID:      rr.HostID,
		Name:        rr.Name,
		TimeCreated: rr.CreateTime,
		StreamURL:   rr.StreamURL,
		FileURL:     rr.FileURL,
		FileSize:    rr.FileSize,
		Duration:    rr.Duration,
		StoredVisib: true,
		FileStatus:  models.FileWebexOnly,
	}
	created, err := s.repo.Create(ctx, rec)
	if err != nil {
		return nil, false, err
	}
	if created {
		if _, err := s.Association(ctx, rec); err != nil {
			s.logger.Warn("association resolve failed", zap.String("recording_id", rec.RecordingID), zap.Error(err))
		}
		return rec, true, nil
	}

	existing, err := s.repo.GetByRecordingID(ctx, rr.RecordingID)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, &webex.ConsistencyError{Msg: "recording " + rr.RecordingID + " vanished during materialize"}
	}
	if existing.HasExternalFile() {
		existing.Name = rr.Name
		existing.StreamURL = rr.StreamURL
		existing.FileURL = rr.FileURL
		existing.FileSize = rr.FileSize
		existing.Duration = rr.Duration
		if err := s.repo.Update(ctx, existing); err != nil {
			return nil, false, err
		}
	}
	return existing, false, nil
}

// Association classifies the recording as belonging to a local meeting, a
// federated deployment, or nothing. The result is cached on the row so the
// lookup chain only runs until it first succeeds.
func (s *Service) Association(ctx context.Context, rec *models.Recording) (models.Association, error) {
	if rec.MeetingID != nil {
		return models.AssociationLocal, nil
	}
	if rec.RemoteServer != nil {
		return models.AssociationRemote, nil
	}
	if rec.MeetingKey == "" {
		return models.AssociationNone, nil
	}

	m, err := s.meetings.GetByMeetingKey(ctx, rec.MeetingKey)
	if err != nil {
		return models.AssociationNone, err
	}
	if m != nil {
		rec.MeetingID = &m.ID
		if err := s.repo.Update(ctx, rec); err != nil {
			return models.AssociationNone, err
		}
		return models.AssociationLocal, nil
	}

	srv, err := s.matchRemoteServer(ctx, rec.MeetingKey)
	if err != nil {
		return models.AssociationNone, err
	}
	if srv != nil {
		rec.RemoteServer = &srv.ID
		if err := s.repo.Update(ctx, rec); err != nil {
			return models.AssociationNone, err
		}
		return models.AssociationRemote, nil
	}
	return models.AssociationNone, nil
}

func (s *Service) matchRemoteServer(ctx context.Context, meetingKey string) (*models.RemoteServer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.servers == nil {
		servers, err := s.repo.ListRemoteServers(ctx)
		if err != nil {
			return nil, err
		}
		if servers == nil {
			servers = []*models.RemoteServer{}
		}
		s.servers = servers
	}
	for _, srv := range s.servers {
		if srv.KeyPrefix != "" && strings.HasPrefix(meetingKey, srv.KeyPrefix) {
			return srv, nil
		}
	}
	return nil, nil
}

// InvalidateServerCache forces the next association to reload remote servers.
func (s *Service) InvalidateServerCache() {
	s.mu.Lock()
	s.servers = nil
	s.mu.Unlock()
}

// UpdateRemoteServer drops the cached federation match and re-resolves the
// recording's association from scratch. A recording that no longer matches
// any remote server is persisted with the match cleared.
func (s *Service) UpdateRemoteServer(ctx context.Context, rec *models.Recording) (models.Association, error) {
	cleared := rec.RemoteServer != nil
	rec.RemoteServer = nil
	s.InvalidateServerCache()
	assoc, err := s.Association(ctx, rec)
	if err != nil {
		return assoc, err
	}
	if assoc == models.AssociationNone && cleared {
		if err := s.repo.Update(ctx, rec); err != nil {
			return assoc, err
		}
	}
	return assoc, nil
}

// List returns the recordings matching an admin filter.
func (s *Service) List(ctx context.Context, f Filter) ([]*models.Recording, error) {
	return s.repo.ListFiltered(ctx, f)
}

// ShouldBeDownloaded applies the download policy. Recordings owned by a
// federated deployment are never fetched here; their home install does it.
func (s *Service) ShouldBeDownloaded(ctx context.Context, rec *models.Recording) (bool, error) {
	if rec.FileURL == "" || !rec.HasExternalFile() {
		return false, nil
	}
	assoc, err := s.Association(ctx, rec)
	if err != nil {
		return false, err
	}
	switch s.cfg.DownloadPolicy {
	case config.DownloadAll:
		return assoc != models.AssociationRemote, nil
	case config.DownloadAssociated:
		return assoc == models.AssociationLocal, nil
	default:
		return false, nil
	}
}

// SetVisibility updates the stored visibility flag.
func (s *Service) SetVisibility(ctx context.Context, rec *models.Recording, visible bool) error {
	rec.StoredVisib = visible
	return s.repo.Update(ctx, rec)
}

// Delete soft-deletes the recording. Both copies survive until the trash
// hold expires.
func (s *Service) Delete(ctx context.Context, rec *models.Recording) error {
	if rec.Deleted != nil {
		return nil
	}
	now := time.Now()
	rec.Deleted = &now
	return s.repo.Update(ctx, rec)
}

// Undelete clears the soft-delete mark.
func (s *Service) Undelete(ctx context.Context, rec *models.Recording) error {
	if rec.Deleted == nil {
		return nil
	}
	rec.Deleted = nil
	return s.repo.Update(ctx, rec)
}

// TrueDelete permanently removes the recording: provider copy first when
// asked, then the internal file, then the row. A provider failure aborts
// before anything local is lost.
func (s *Service) TrueDelete(ctx context.Context, rec *models.Recording, deleteRemote bool) error {
	if deleteRemote && rec.HasExternalFile() {
		if err := s.remote.DeleteRecording(ctx, rec.RecordingID); err != nil {
			return err
		}
	}
	if rec.HasInternalFileFlag() && rec.StorageKey != "" {
		if err := s.files.Delete(ctx, rec.StorageKey); err != nil {
			return err
		}
	}
	if err := s.repo.Delete(ctx, rec.ID); err != nil {
		return err
	}
	s.logger.Info("recording removed",
		zap.Int64("id", rec.ID),
		zap.String("recording_id", rec.RecordingID),
		zap.Bool("delete_remote", deleteRemote))
	return nil
}

// TrueDeleteByMeeting hard-deletes every recording a meeting owns. Used when
// the meeting itself is torn down.
func (s *Service) TrueDeleteByMeeting(ctx context.Context, meetingID int64, deleteRemote bool) error {
	recs, err := s.repo.ListByMeeting(ctx, meetingID)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if err := s.TrueDelete(ctx, rec, deleteRemote); err != nil {
			return err
		}
	}
	return nil
}

// DeleteRemoteRecording removes the provider copy only. The old URLs are
// parked in the extension bag so the row still records where the media came
// from, and the file status drops to internal-only or none.
func (s *Service) DeleteRemoteRecording(ctx context.Context, rec *models.Recording) error {
	if !rec.HasExternalFile() {
		return nil
	}
	if err := s.remote.DeleteRecording(ctx, rec.RecordingID); err != nil {
		return err
	}
	if rec.StreamURL != "" {
		rec.SetAdditional(models.AdditionalOldStreamURL, rec.StreamURL)
		rec.StreamURL = ""
	}
	if rec.FileURL != "" {
		rec.SetAdditional(models.AdditionalOldFileURL, rec.FileURL)
		rec.FileURL = ""
	}
	if rec.FileStatus == models.FileInternalAndWebex {
		rec.FileStatus = models.FileInternalOnly
	} else {
		rec.FileStatus = models.FileNone
	}
	return s.repo.Update(ctx, rec)
}

// HasInternalFile reports whether an internal copy exists. With verify the
// claim is checked against storage; a stale flag is corrected in place.
func (s *Service) HasInternalFile(ctx context.Context, rec *models.Recording, verify bool) (bool, error) {
	if !rec.HasInternalFileFlag() {
		return false, nil
	}
	if !verify {
		return true, nil
	}
	if rec.StorageKey == "" {
		return false, nil
	}
	ok, err := s.files.Exists(ctx, rec.StorageKey)
	if err != nil {
		return false, err
	}
	if !ok {
		if rec.FileStatus == models.FileInternalAndWebex {
			rec.FileStatus = models.FileWebexOnly
		} else {
			rec.FileStatus = models.FileNone
		}
		rec.StorageKey = ""
		if err := s.repo.Update(ctx, rec); err != nil {
			return false, err
		}
	}
	return ok, nil
}

// MarkDownloaded records a finished internal fetch and advances the file
// status. When the provider copy was removed as part of the fetch the status
// lands on internal-only.
func (s *Service) MarkDownloaded(ctx context.Context, rec *models.Recording, storageKey string, size int64, remoteRemoved bool) error {
	rec.StorageKey = storageKey
	if size > 0 {
		rec.FileSize = size
	}
	if remoteRemoved {
		rec.FileStatus = models.FileInternalOnly
	} else {
		rec.FileStatus = models.FileInternalAndWebex
	}
	return s.repo.Update(ctx, rec)
}

// MarkNotified flags the recording as announced.
func (s *Service) MarkNotified(ctx context.Context, rec *models.Recording) error {
	if rec.Notified {
		return nil
	}
	rec.Notified = true
	return s.repo.Update(ctx, rec)
}

// Rename updates the recording's display name on both sides.
func (s *Service) Rename(ctx context.Context, rec *models.Recording, name string) error {
	if rec.HasExternalFile() {
		if err := s.remote.UpdateRecording(ctx, rec.RecordingID, name); err != nil {
			return err
		}
	}
	rec.Name = name
	return s.repo.Update(ctx, rec)
}

// PurgeTrash hard-deletes recordings whose soft-delete mark is older than the
// trash hold. Returns how many rows were purged.
func (s *Service) PurgeTrash(ctx context.Context, now time.Time) (int, error) {
	if s.cfg.TrashHoldDays <= 0 {
		return 0, nil
	}
	cutoff := now.Add(-time.Duration(s.cfg.TrashHoldDays) * 24 * time.Hour)
	recs, err := s.repo.ListDeletedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	purged := 0
	for _, rec := range recs {
		if err := s.TrueDelete(ctx, rec, true); err != nil {
			s.logger.Error("trash purge failed", zap.Int64("id", rec.ID), zap.Error(err))
			continue
		}
		purged++
	}
	return purged, nil
}
