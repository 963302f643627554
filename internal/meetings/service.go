package meetings

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/campusconf/backend/internal/models"
	"github.com/campusconf/backend/internal/webex"
	"github.com/campusconf/backend/pkg/queue"
)

// Store is the subset of Repository the service needs.
type Store interface {
	Create(ctx context.Context, m *models.Meeting) error
	Update(ctx context.Context, m *models.Meeting) error
	GetByID(ctx context.Context, id int64) (*models.Meeting, error)
	GetByMeetingKey(ctx context.Context, meetingKey string) (*models.Meeting, error)
	ListByCourse(ctx context.Context, course int64) ([]*models.Meeting, error)
	ListCreatedSince(ctx context.Context, since time.Time) ([]*models.Meeting, error)
	Delete(ctx context.Context, id int64) error
}

// Remote is the subset of the session facade used for meeting round-trips.
type Remote interface {
	GetMeetingInfo(ctx context.Context, b webex.RequestBuilder, meetingKey string) (webex.Fields, error)
	CreateMeeting(ctx context.Context, user *models.WebexUser, b webex.RequestBuilder, d webex.MeetingDetails) (webex.Fields, error)
	UpdateMeeting(ctx context.Context, user *models.WebexUser, b webex.RequestBuilder, d webex.MeetingDetails) (webex.Fields, error)
	DeleteMeeting(ctx context.Context, b webex.RequestBuilder, meetingKey string) error
	ListOpenSessions(ctx context.Context) ([]string, error)
}

// RecordingCascade hard-deletes the recordings owned by a meeting. Wired in
// after construction because the recordings service also resolves meetings.
type RecordingCascade interface {
	TrueDeleteByMeeting(ctx context.Context, meetingID int64, deleteRemote bool) error
}

// EventPublisher hands meeting lifecycle transitions to the host application.
type EventPublisher interface {
	PublishMeetingEvent(ctx context.Context, payload queue.MeetingEventPayload) error
}

// Service owns the meeting save/delete/info round-trip against the remote
// service and the local row. The local row is the system of record for
// scheduling metadata; the provider is the system of record for live state.
type Service struct {
	repo       Store
	remote     Remote
	events     EventPublisher
	recordings RecordingCascade
	grace      time.Duration
	logger     *zap.Logger
}

// NewService creates the meeting service.
func NewService(repo Store, remote Remote, events EventPublisher, graceMinutes int, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:   repo,
		remote: remote,
		events: events,
		grace:  time.Duration(graceMinutes) * time.Minute,
		logger: logger,
	}
}

// SetRecordingCascade wires the recordings service in after construction.
func (s *Service) SetRecordingCascade(rc RecordingCascade) { s.recordings = rc }

// Grace returns the configured availability grace period.
func (s *Service) Grace() time.Duration { return s.grace }

// Get loads a meeting by id, or nil.
func (s *Service) Get(ctx context.Context, id int64) (*models.Meeting, error) {
	return s.repo.GetByID(ctx, id)
}

// GetByMeetingKey loads the meeting owning a remote session key, or nil.
func (s *Service) GetByMeetingKey(ctx context.Context, meetingKey string) (*models.Meeting, error) {
	return s.repo.GetByMeetingKey(ctx, meetingKey)
}

// ListByCourse returns a course's meetings.
func (s *Service) ListByCourse(ctx context.Context, course int64) ([]*models.Meeting, error) {
	return s.repo.ListByCourse(ctx, course)
}

// SetStartTime applies the scheduling rule to a requested start time.
func (s *Service) SetStartTime(m *models.Meeting, requested time.Time) {
	m.StartTime = CoerceStartTime(m.StartTime, requested, time.Now())
}

// Save performs remote create-or-update followed by local persistence.
// Remote failure aborts before anything is written locally, so the two
// systems never diverge by a half-saved meeting.
func (s *Service) Save(ctx context.Context, m *models.Meeting, host *models.WebexUser) error {
	builder, err := webex.BuilderFor(m.Type)
	if err != nil {
		return err
	}
	if m.Status == "" {
		m.Status = models.MeetingNeverStarted
	}
	details := webex.MeetingDetails{
		MeetingKey: m.MeetingKey,
		Name:       m.Name,
		Agenda:     m.Description,
		StartTime:  m.StartTime,
		Duration:   m.Duration,
	}

	var fields webex.Fields
	if !m.Created() {
		m.CreatorUser = host.WebexID
		fields, err = s.remote.CreateMeeting(ctx, host, builder, details)
	} else {
		fields, err = s.remote.UpdateMeeting(ctx, host, builder, details)
	}
	if err != nil {
		return fmt.Errorf("remote save: %w", err)
	}
	s.mergeFields(m, builder, fields)

	if m.ID == 0 {
		return s.repo.Create(ctx, m)
	}
	return s.repo.Update(ctx, m)
}

// Delete cascades: owned recordings, the remote session, then the local
// row, short-circuiting on the first failure. It is not retried here; a
// failed cascade leaves everything still addressable.
func (s *Service) Delete(ctx context.Context, m *models.Meeting, deleteRemoteRecordings bool) error {
	if s.recordings != nil {
		if err := s.recordings.TrueDeleteByMeeting(ctx, m.ID, deleteRemoteRecordings); err != nil {
			return fmt.Errorf("delete recordings: %w", err)
		}
	}
	if m.Created() {
		builder, err := webex.BuilderFor(m.Type)
		if err != nil {
			return err
		}
		if err := s.remote.DeleteMeeting(ctx, builder, m.MeetingKey); err != nil {
			return fmt.Errorf("delete remote session: %w", err)
		}
	}
	return s.repo.Delete(ctx, m.ID)
}

// GetInfo round-trips a session query and merges the returned fields,
// optionally persisting them.
func (s *Service) GetInfo(ctx context.Context, m *models.Meeting, save bool) error {
	if !m.Created() {
		return &webex.ConsistencyError{Msg: "meeting was never created remotely"}
	}
	builder, err := webex.BuilderFor(m.Type)
	if err != nil {
		return err
	}
	fields, err := s.remote.GetMeetingInfo(ctx, builder, m.MeetingKey)
	if err != nil {
		return err
	}
	s.mergeFields(m, builder, fields)
	if save {
		return s.repo.Update(ctx, m)
	}
	return nil
}

// AddHost grants user host rights on the remote session. A no-op when the
// user already owns the meeting.
func (s *Service) AddHost(ctx context.Context, m *models.Meeting, actor, user *models.WebexUser) error {
	if user.WebexID == m.CreatorUser {
		return nil
	}
	builder, err := webex.BuilderFor(m.Type)
	if err != nil {
		return err
	}
	_, err = s.remote.UpdateMeeting(ctx, actor, builder, webex.MeetingDetails{
		MeetingKey: m.MeetingKey,
		Name:       m.Name,
		HostUsers:  []string{user.WebexID},
	})
	return err
}

// TimeStatus derives the scheduling state of m right now.
func (s *Service) TimeStatus(m *models.Meeting) models.TimeStatus {
	return TimeStatus(m, s.grace, time.Now())
}

// IsAvailable reports whether a user may act on m right now.
func (s *Service) IsAvailable(m *models.Meeting, asHost bool) bool {
	return IsAvailable(m, s.grace, asHost, time.Now())
}

// MarkInProgress records a provider join/host callback.
func (s *Service) MarkInProgress(ctx context.Context, m *models.Meeting) error {
	return s.transition(ctx, m, models.MeetingInProgress)
}

// SweepStatus reconciles local meeting status against the provider's open
// session list and stamps lastStatusCheck.
func (s *Service) SweepStatus(ctx context.Context, since time.Time) error {
	openKeys, err := s.remote.ListOpenSessions(ctx)
	if err != nil {
		return fmt.Errorf("list open sessions: %w", err)
	}
	open := make(map[string]bool, len(openKeys))
	for _, k := range openKeys {
		open[k] = true
	}

	working, err := s.repo.ListCreatedSince(ctx, since)
	if err != nil {
		return fmt.Errorf("load sweep set: %w", err)
	}
	now := time.Now()
	for _, m := range working {
		next := m.Status
		if open[m.MeetingKey] {
			next = models.MeetingInProgress
		} else if m.Status == models.MeetingInProgress {
			next = models.MeetingStopped
		}
		m.LastStatusCheck = now
		if next != m.Status {
			if err := s.transition(ctx, m, next); err != nil {
				s.logger.Error("status transition failed", zap.Int64("meeting_id", m.ID), zap.Error(err))
			}
			continue
		}
		if err := s.repo.Update(ctx, m); err != nil {
			s.logger.Error("stamp status check failed", zap.Int64("meeting_id", m.ID), zap.Error(err))
		}
	}
	return nil
}

// transition updates status, persists, and publishes the lifecycle event
// when the meeting enters or leaves the live state.
func (s *Service) transition(ctx context.Context, m *models.Meeting, next string) error {
	prev := m.Status
	if prev == next {
		return nil
	}
	m.Status = next
	if err := s.repo.Update(ctx, m); err != nil {
		return err
	}
	var event string
	switch {
	case next == models.MeetingInProgress:
		event = queue.EventMeetingStarted
	case prev == models.MeetingInProgress:
		event = queue.EventMeetingEnded
	}
	if event != "" && s.events != nil {
		if err := s.events.PublishMeetingEvent(ctx, queue.MeetingEventPayload{MeetingID: m.ID, Event: event}); err != nil {
			s.logger.Error("publish meeting event failed", zap.Int64("meeting_id", m.ID), zap.Error(err))
		}
	}
	return nil
}

func (s *Service) mergeFields(m *models.Meeting, b webex.RequestBuilder, fields webex.Fields) {
	prefix := b.ResponsePrefix()
	if v, ok := fields.Get(b.KeyField()); ok {
		m.MeetingKey = v
	}
	if v, ok := fields.Get(prefix + ":guestKey"); ok {
		m.GuestKey = v
	}
	if v, ok := fields.Get(prefix + ":eventID"); ok {
		m.EventID = v
	}
	if v, ok := fields.Get(prefix + ":hostKey"); ok {
		m.HostKey = v
	}
	if v, ok := fields.Get(prefix + ":status"); ok {
		switch v {
		case "INPROGRESS":
			m.Status = models.MeetingInProgress
		default:
			if m.Status == models.MeetingInProgress {
				m.Status = models.MeetingStopped
			}
		}
	}
}
