package webex

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/campusconf/backend/config"
	"github.com/campusconf/backend/internal/models"
)

// CredentialStore resolves and persists per-user remote passwords. The
// facade refreshes a credential when the vendor rejects it as stale.
type CredentialStore interface {
	// Password returns the plaintext remote password for a user.
	Password(user *models.WebexUser) (string, error)
	// StorePassword persists a freshly generated remote password.
	StorePassword(ctx context.Context, user *models.WebexUser, plaintext string) error
}

// Session authenticates, dispatches and classifies calls to the vendor XML
// service. Site admin credentials are the default; CallAs acts on behalf of
// a specific remote account.
type Session struct {
	cfg       config.WebexConfig
	transport *Transport
	creds     CredentialStore
	logger    *zap.Logger
}

// NewSession creates a facade over the given transport.
func NewSession(cfg config.WebexConfig, transport *Transport, creds CredentialStore, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{cfg: cfg, transport: transport, creds: creds, logger: logger}
}

type securityContext struct {
	webexID  string
	password string
}

func (s *Session) adminContext() securityContext {
	return securityContext{webexID: s.cfg.AdminUsername, password: s.cfg.AdminPassword}
}

// envelope wraps a bodyContent fragment with the authenticated message frame.
func (s *Session) envelope(sc securityContext, body string) string {
	var hdr strings.Builder
	hdr.WriteString("<securityContext>")
	fmt.Fprintf(&hdr, "<siteName>%s</siteName>", escapeText(s.cfg.SiteName, maxNameLen))
	fmt.Fprintf(&hdr, "<webExID>%s</webExID>", escapeText(sc.webexID, maxNameLen))
	fmt.Fprintf(&hdr, "<password>%s</password>", escapeText(sc.password, maxNameLen))
	if s.cfg.PartnerID != "" {
		fmt.Fprintf(&hdr, "<partnerID>%s</partnerID>", escapeText(s.cfg.PartnerID, maxNameLen))
	}
	hdr.WriteString("</securityContext>")

	return `<?xml version="1.0" encoding="UTF-8"?>` +
		`<serv:message xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance"` +
		` xmlns:serv="http://www.webex.com/schemas/2002/06/service">` +
		"<header>" + hdr.String() + "</header>" +
		"<body>" + body + "</body>" +
		"</serv:message>"
}

// do performs one wrapped call and classifies the vendor envelope.
func (s *Session) do(ctx context.Context, sc securityContext, body string) (*Node, error) {
	raw, err := s.transport.Post(ctx, s.envelope(sc, body))
	if err != nil {
		return nil, err
	}
	root, err := ParseMessage(raw)
	if err != nil {
		return nil, &TransportError{Op: "decode response", Err: err}
	}
	result, _ := root.TextOf("serv:result")
	if result == "SUCCESS" {
		return root, nil
	}
	reason, _ := root.TextOf("serv:reason")
	exception, _ := root.TextOf("serv:exceptionID")
	if exception == ExceptionNoRecordFound {
		// "No record found" is an empty result set, not a failure.
		return &Node{Name: "serv:message"}, nil
	}
	return nil, &ServiceError{Reason: reason, ExceptionID: exception}
}

// Call dispatches body with site admin credentials.
func (s *Session) Call(ctx context.Context, body string) (*Node, error) {
	return s.do(ctx, s.adminContext(), body)
}

// CallAs dispatches body with user's remote credentials. When the vendor
// reports the credential as stale, the password is regenerated, set
// remotely, persisted, and the call retried exactly once. Any other failure
// is not retried.
func (s *Session) CallAs(ctx context.Context, user *models.WebexUser, body string) (*Node, error) {
	password, err := s.creds.Password(user)
	if err != nil {
		return nil, fmt.Errorf("resolve credential for %s: %w", user.WebexID, err)
	}
	node, err := s.do(ctx, securityContext{webexID: user.WebexID, password: password}, body)
	if err == nil {
		return node, nil
	}

	var svcErr *ServiceError
	if !errors.As(err, &svcErr) || svcErr.ExceptionID != ExceptionInvalidLogon || user.Manual {
		return nil, err
	}

	s.logger.Info("stale remote credential, refreshing", zap.String("webex_id", user.WebexID))
	fresh, err := GeneratePassword()
	if err != nil {
		return nil, fmt.Errorf("generate password: %w", err)
	}
	if _, err := s.do(ctx, s.adminContext(), BuildUpdateUserPassword(user.WebexID, fresh)); err != nil {
		return nil, fmt.Errorf("reset remote password for %s: %w", user.WebexID, err)
	}
	if err := s.creds.StorePassword(ctx, user, fresh); err != nil {
		return nil, fmt.Errorf("persist refreshed password for %s: %w", user.WebexID, err)
	}
	return s.do(ctx, securityContext{webexID: user.WebexID, password: fresh}, body)
}

// --- High-level operations ---

// GetMeetingInfo round-trips a session query with the kind-specific builder.
func (s *Session) GetMeetingInfo(ctx context.Context, b RequestBuilder, meetingKey string) (Fields, error) {
	if meetingKey == "" {
		return nil, &ConsistencyError{Msg: "get info requires a meeting key"}
	}
	node, err := s.Call(ctx, b.BuildGetInfo(meetingKey))
	if err != nil {
		return nil, err
	}
	return node.Fields(), nil
}

// CreateMeeting schedules a new remote session on behalf of user.
func (s *Session) CreateMeeting(ctx context.Context, user *models.WebexUser, b RequestBuilder, d MeetingDetails) (Fields, error) {
	node, err := s.CallAs(ctx, user, b.BuildCreate(d))
	if err != nil {
		return nil, err
	}
	return node.Fields(), nil
}

// UpdateMeeting pushes scheduling changes for an existing remote session.
func (s *Session) UpdateMeeting(ctx context.Context, user *models.WebexUser, b RequestBuilder, d MeetingDetails) (Fields, error) {
	if d.MeetingKey == "" {
		return nil, &ConsistencyError{Msg: "update requires a meeting key"}
	}
	node, err := s.CallAs(ctx, user, b.BuildUpdate(d))
	if err != nil {
		return nil, err
	}
	return node.Fields(), nil
}

// DeleteMeeting removes the remote session.
func (s *Session) DeleteMeeting(ctx context.Context, b RequestBuilder, meetingKey string) error {
	if meetingKey == "" {
		return &ConsistencyError{Msg: "delete requires a meeting key"}
	}
	_, err := s.Call(ctx, b.BuildDelete(meetingKey))
	return err
}

// RemoteRecording is one artifact as reported by the provider's listing.
type RemoteRecording struct {
	RecordingID string
	MeetingKey  string
	HostID      string
	Name        string
	CreateTime  time.Time
	StreamURL   string
	FileURL     string
	FileSize    int64 // bytes
	Duration    int   // seconds
}

// ListRecordings returns recordings created inside [from, to]. An empty
// window on the provider side yields an empty slice, not an error.
func (s *Session) ListRecordings(ctx context.Context, from, to time.Time) ([]RemoteRecording, error) {
	node, err := s.Call(ctx, BuildListRecordings(from, to))
	if err != nil {
		return nil, err
	}
	var out []RemoteRecording
	for _, rec := range node.All("ep:recording") {
		r := RemoteRecording{}
		r.RecordingID, _ = rec.TextOf("ep:recordingID")
		r.MeetingKey, _ = rec.TextOf("ep:sessionKey")
		r.HostID, _ = rec.TextOf("ep:hostWebExID")
		r.Name, _ = rec.TextOf("ep:name")
		r.StreamURL, _ = rec.TextOf("ep:streamURL")
		r.FileURL, _ = rec.TextOf("ep:fileURL")
		if v, ok := rec.TextOf("ep:createTime"); ok {
			r.CreateTime = parseVendorTime(v)
		}
		if v, ok := rec.TextOf("ep:size"); ok {
			// Reported in megabytes.
			if mb, err := strconv.ParseFloat(v, 64); err == nil {
				r.FileSize = int64(mb * 1024 * 1024)
			}
		}
		if v, ok := rec.TextOf("ep:duration"); ok {
			r.Duration, _ = strconv.Atoi(v)
		}
		if r.RecordingID != "" {
			out = append(out, r)
		}
	}
	return out, nil
}

// DeleteRecording removes the provider copy of an artifact.
func (s *Session) DeleteRecording(ctx context.Context, recordingID string) error {
	if recordingID == "" {
		return &ConsistencyError{Msg: "delete recording requires a recording id"}
	}
	_, err := s.Call(ctx, BuildDeleteRecording(recordingID))
	return err
}

// UpdateRecording renames an artifact at the provider.
func (s *Session) UpdateRecording(ctx context.Context, recordingID, topic string) error {
	if recordingID == "" {
		return &ConsistencyError{Msg: "update recording requires a recording id"}
	}
	_, err := s.Call(ctx, BuildUpdateRecording(recordingID, topic))
	return err
}

// ListOpenSessions returns the meeting keys of sessions currently running.
// No open sessions yields an empty slice.
func (s *Session) ListOpenSessions(ctx context.Context) ([]string, error) {
	node, err := s.Call(ctx, BuildListOpenSessions())
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, k := range node.All("ep:sessionKey") {
		if k.Text != "" {
			keys = append(keys, k.Text)
		}
	}
	return keys, nil
}

// CreateUser provisions a remote host account.
func (s *Session) CreateUser(ctx context.Context, u UserDetails) (Fields, error) {
	node, err := s.Call(ctx, BuildCreateUser(u))
	if err != nil {
		return nil, err
	}
	return node.Fields(), nil
}

// GetUserInfo fetches a remote account by username.
func (s *Session) GetUserInfo(ctx context.Context, webexID string) (Fields, error) {
	node, err := s.Call(ctx, BuildGetUserInfo(webexID))
	if err != nil {
		return nil, err
	}
	return node.Fields(), nil
}

// UpdateUserPassword resets the API password for a remote account.
func (s *Session) UpdateUserPassword(ctx context.Context, webexID, password string) error {
	_, err := s.Call(ctx, BuildUpdateUserPassword(webexID, password))
	return err
}

// parseVendorTime reads the vendor timestamp format, tolerating a trailing
// timezone annotation.
func parseVendorTime(v string) time.Time {
	if len(v) > len(dateLayout) {
		v = v[:len(dateLayout)]
	}
	t, err := time.Parse(dateLayout, strings.TrimSpace(v))
	if err != nil {
		return time.Time{}
	}
	return t
}

const passwordCharset = "abcdefghjkmnpqrstuvwxyzABCDEFGHJKMNPQRSTUVWXYZ23456789"

// GeneratePassword produces a fresh remote API password satisfying the
// vendor's mixed-class rules.
func GeneratePassword() (string, error) {
	const length = 16
	var sb strings.Builder
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(passwordCharset))))
		if err != nil {
			return "", err
		}
		sb.WriteByte(passwordCharset[n.Int64()])
	}
	// Guarantee one of each required class.
	return sb.String() + "aC4", nil
}
