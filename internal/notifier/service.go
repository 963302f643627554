package notifier

import (
	"context"
	"fmt"
	"strings"
	"text/template"
	"time"

	"go.uber.org/zap"

	"github.com/campusconf/backend/config"
	"github.com/campusconf/backend/internal/models"
	"github.com/campusconf/backend/internal/webex"
)

// Recordings is the recording surface the notifier needs.
type Recordings interface {
	Get(ctx context.Context, id int64) (*models.Recording, error)
	Association(ctx context.Context, rec *models.Recording) (models.Association, error)
	MarkNotified(ctx context.Context, rec *models.Recording) error
}

// Meetings resolves the local meeting a recording is attached to.
type Meetings interface {
	Get(ctx context.Context, id int64) (*models.Meeting, error)
}

// Users resolves locally known conferencing accounts.
type Users interface {
	GetByWebexID(ctx context.Context, webexID string) (*models.WebexUser, error)
}

// Directory asks the provider who a host id belongs to.
type Directory interface {
	GetUserInfo(ctx context.Context, webexID string) (webex.Fields, error)
}

// Log persists notification attempts.
type Log interface {
	Log(ctx context.Context, e *models.EmailLog) error
}

// Service announces finished recordings to their hosts by email.
type Service struct {
	recordings Recordings
	meetings   Meetings
	users      Users
	directory  Directory
	sender     Sender
	log        Log
	policy     config.NotifyPolicy
	subject    *template.Template
	body       *template.Template
	fromDomain string
	logger     *zap.Logger
}

// templateData is what the subject and body templates render against.
type templateData struct {
	Recording *models.Recording
	Meeting   *models.Meeting
	Recipient string
}

// NewService creates the notifier. The subject and body templates come from
// the mail config and are parsed once here.
func NewService(recordings Recordings, meetings Meetings, users Users, directory Directory,
	sender Sender, log Log, policy config.NotifyPolicy, email config.EmailConfig, logger *zap.Logger) (*Service, error) {
	subject, err := template.New("subject").Parse(email.SubjectTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse subject template: %w", err)
	}
	body, err := template.New("body").Parse(email.BodyTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse body template: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	domain := "invalid.invalid"
	if i := strings.LastIndex(email.FromAddress, "@"); i >= 0 {
		domain = email.FromAddress[i+1:]
	}
	return &Service{
		recordings: recordings,
		meetings:   meetings,
		users:      users,
		directory:  directory,
		sender:     sender,
		log:        log,
		policy:     policy,
		subject:    subject,
		body:       body,
		fromDomain: domain,
		logger:     logger,
	}, nil
}

// Notify emails the host of one recording, once. The notified flag is only
// set after a delivery attempt succeeds, so a failed send is retried by the
// queue. Force re-sends even when the flag is already set.
func (s *Service) Notify(ctx context.Context, recordingID int64, force bool) error {
	rec, err := s.recordings.Get(ctx, recordingID)
	if err != nil {
		return err
	}
	if rec == nil || rec.Deleted != nil {
		return nil
	}
	if rec.Notified && !force {
		return nil
	}

	assoc, err := s.recordings.Association(ctx, rec)
	if err != nil {
		return err
	}
	if !s.wants(assoc) && !force {
		return nil
	}
	// Federated recordings are announced by their home install.
	if assoc == models.AssociationRemote {
		return nil
	}

	var meeting *models.Meeting
	if rec.MeetingID != nil {
		meeting, err = s.meetings.Get(ctx, *rec.MeetingID)
		if err != nil {
			return err
		}
	}

	recipient := s.resolveRecipient(ctx, rec, meeting)
	subject, body, err := s.render(rec, meeting, recipient)
	if err != nil {
		return err
	}

	sendErr := s.sender.Send(recipient, subject, body)
	entry := &models.EmailLog{
		RecordingID:    rec.ID,
		RecipientEmail: recipient,
		Subject:        subject,
	}
	if sendErr != nil {
		entry.Status = models.EmailLogStatusFailed
		entry.ErrorMessage = sendErr.Error()
	} else {
		now := time.Now()
		entry.Status = models.EmailLogStatusSent
		entry.SentAt = &now
	}
	if logErr := s.log.Log(ctx, entry); logErr != nil {
		s.logger.Error("email log write failed", zap.Int64("recording", rec.ID), zap.Error(logErr))
	}
	if sendErr != nil {
		return fmt.Errorf("notify recording %d: %w", rec.ID, sendErr)
	}

	s.logger.Info("recording announced",
		zap.Int64("recording", rec.ID),
		zap.String("recipient", recipient))
	return s.recordings.MarkNotified(ctx, rec)
}

func (s *Service) wants(assoc models.Association) bool {
	switch s.policy {
	case config.NotifyAll:
		return true
	case config.NotifyAssociated:
		return assoc == models.AssociationLocal
	case config.NotifyUnassociated:
		return assoc == models.AssociationNone
	default:
		return false
	}
}

// resolveRecipient walks the lookup chain: the meeting creator's local
// account, then a local account matching the provider host id, then the
// provider directory, and last a synthesized address that keeps the attempt
// auditable even when nobody can be found.
func (s *Service) resolveRecipient(ctx context.Context, rec *models.Recording, meeting *models.Meeting) string {
	if meeting != nil && meeting.CreatorUser != "" {
		if u, err := s.users.GetByWebexID(ctx, meeting.CreatorUser); err == nil && u != nil && u.Email != "" {
			return u.Email
		}
	}
	if rec.HostID != "" {
		if u, err := s.users.GetByWebexID(ctx, rec.HostID); err == nil && u != nil && u.Email != "" {
			return u.Email
		}
		if fields, err := s.directory.GetUserInfo(ctx, rec.HostID); err == nil {
			if email, ok := fields.Get("use:email"); ok && email != "" {
				return email
			}
		}
	}
	pseudo := rec.HostID
	if pseudo == "" {
		pseudo = "recording-" + rec.UniqueID.String()
	}
	return pseudo + "@" + s.fromDomain
}

func (s *Service) render(rec *models.Recording, meeting *models.Meeting, recipient string) (string, string, error) {
	data := templateData{Recording: rec, Meeting: meeting, Recipient: recipient}
	var subject, body strings.Builder
	if err := s.subject.Execute(&subject, data); err != nil {
		return "", "", fmt.Errorf("render subject: %w", err)
	}
	if err := s.body.Execute(&body, data); err != nil {
		return "", "", fmt.Errorf("render body: %w", err)
	}
	return strings.TrimSpace(subject.String()), body.String(), nil
}
