package meetings

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/campusconf/backend/internal/middleware"
	"github.com/campusconf/backend/internal/models"
	"github.com/campusconf/backend/internal/webex"
	"github.com/campusconf/backend/pkg/response"
)

// Accounts provisions conferencing accounts for platform users. Lookup is
// read-only; EnsureUser may create a remote account and is reserved for
// paths that actually need one.
type Accounts interface {
	GetByPlatformUser(ctx context.Context, platformUser string) (*models.WebexUser, error)
	EnsureUser(ctx context.Context, platformUser, email, firstName, lastName string) (*models.WebexUser, error)
}

// CreateRequest is the body for POST /meetings.
type CreateRequest struct {
	Course          int64  `json:"course" binding:"required"`
	Name            string `json:"name" binding:"required"`
	Description     string `json:"description"`
	Type            string `json:"type" binding:"required"`
	StartTime       string `json:"start_time" binding:"required"` // RFC 3339
	Duration        int    `json:"duration" binding:"required"`
	StudentDownload *bool  `json:"student_download"`
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
}

// UpdateRequest is the body for PATCH /meetings/:id. Nil fields are left as
// they are.
type UpdateRequest struct {
	Name            *string `json:"name"`
	Description     *string `json:"description"`
	StartTime       *string `json:"start_time"`
	Duration        *int    `json:"duration"`
	StudentDownload *bool   `json:"student_download"`
}

// AddHostRequest is the body for POST /meetings/:id/hosts.
type AddHostRequest struct {
	PlatformUser string `json:"platform_user" binding:"required"`
	Email        string `json:"email" binding:"required"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
}

// Handler handles meeting HTTP endpoints.
type Handler struct {
	service  *Service
	accounts Accounts
	logger   *zap.Logger
}

// NewHandler creates a meeting handler.
func NewHandler(service *Service, accounts Accounts, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{service: service, accounts: accounts, logger: logger}
}

// meetingView decorates a meeting with its computed time status.
type meetingView struct {
	*models.Meeting
	TimeStatus models.TimeStatus `json:"time_status"`
}

func (h *Handler) view(m *models.Meeting) meetingView {
	return meetingView{Meeting: m, TimeStatus: h.service.TimeStatus(m)}
}

func (h *Handler) caller(c *gin.Context) (platformUser, email string) {
	platformUser, _ = c.MustGet(middleware.ContextUserID).(string)
	email, _ = c.MustGet(middleware.ContextUserEmail).(string)
	return platformUser, email
}

// Create handles POST /meetings.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	mtype := models.MeetingType(req.Type)
	if _, err := webex.BuilderFor(mtype); err != nil {
		response.BadRequest(c, "unsupported meeting type: "+req.Type)
		return
	}
	start, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		response.BadRequest(c, "invalid start_time")
		return
	}

	platformUser, email := h.caller(c)
	host, err := h.accounts.EnsureUser(c.Request.Context(), platformUser, email, req.FirstName, req.LastName)
	if err != nil {
		h.logger.Error("ensure host failed", zap.String("platform_user", platformUser), zap.Error(err))
		response.ServiceUnavailable(c, "conferencing account unavailable")
		return
	}

	m := &models.Meeting{
		Course:      req.Course,
		Name:        req.Name,
		Description: req.Description,
		Type:        mtype,
		Duration:    req.Duration,
		Status:      models.MeetingNeverStarted,
	}
	if req.StudentDownload != nil {
		m.StudentDownload = *req.StudentDownload
	} else {
		m.StudentDownload = true
	}
	h.service.SetStartTime(m, start)

	if err := h.service.Save(c.Request.Context(), m, host); err != nil {
		h.fail(c, "create meeting", err)
		return
	}
	response.Created(c, h.view(m))
}

// Get handles GET /meetings/:id.
func (h *Handler) Get(c *gin.Context) {
	m, ok := h.load(c)
	if !ok {
		return
	}
	response.OK(c, h.view(m))
}

// ListByCourse handles GET /courses/:course/meetings.
func (h *Handler) ListByCourse(c *gin.Context) {
	course, err := strconv.ParseInt(c.Param("course"), 10, 64)
	if err != nil {
		response.BadRequest(c, "invalid course id")
		return
	}
	list, err := h.service.ListByCourse(c.Request.Context(), course)
	if err != nil {
		h.fail(c, "list meetings", err)
		return
	}
	views := make([]meetingView, 0, len(list))
	for _, m := range list {
		views = append(views, h.view(m))
	}
	response.OK(c, views)
}

// Update handles PATCH /meetings/:id.
func (h *Handler) Update(c *gin.Context) {
	m, ok := h.load(c)
	if !ok {
		return
	}
	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if req.Name != nil {
		m.Name = *req.Name
	}
	if req.Description != nil {
		m.Description = *req.Description
	}
	if req.Duration != nil {
		m.Duration = *req.Duration
	}
	if req.StudentDownload != nil {
		m.StudentDownload = *req.StudentDownload
	}
	if req.StartTime != nil {
		start, err := time.Parse(time.RFC3339, *req.StartTime)
		if err != nil {
			response.BadRequest(c, "invalid start_time")
			return
		}
		h.service.SetStartTime(m, start)
	}

	platformUser, email := h.caller(c)
	host, err := h.accounts.EnsureUser(c.Request.Context(), platformUser, email, "", "")
	if err != nil {
		response.ServiceUnavailable(c, "conferencing account unavailable")
		return
	}
	if err := h.service.Save(c.Request.Context(), m, host); err != nil {
		h.fail(c, "update meeting", err)
		return
	}
	response.OK(c, h.view(m))
}

// Delete handles DELETE /meetings/:id. delete_recordings=true also tears the
// provider-side recordings down.
func (h *Handler) Delete(c *gin.Context) {
	m, ok := h.load(c)
	if !ok {
		return
	}
	deleteRecordings := c.Query("delete_recordings") == "true"
	if err := h.service.Delete(c.Request.Context(), m, deleteRecordings); err != nil {
		h.fail(c, "delete meeting", err)
		return
	}
	response.NoContent(c)
}

// Refresh handles POST /meetings/:id/refresh: re-reads provider state and
// persists it.
func (h *Handler) Refresh(c *gin.Context) {
	m, ok := h.load(c)
	if !ok {
		return
	}
	if err := h.service.GetInfo(c.Request.Context(), m, true); err != nil {
		h.fail(c, "refresh meeting", err)
		return
	}
	response.OK(c, h.view(m))
}

// Join handles GET /meetings/:id/join: reports whether the caller may enter
// now. The platform mints the actual join URL itself; this is the gate.
func (h *Handler) Join(c *gin.Context) {
	m, ok := h.load(c)
	if !ok {
		return
	}
	platformUser, _ := h.caller(c)
	asHost := false
	var hostKey string
	if user, err := h.accounts.GetByPlatformUser(c.Request.Context(), platformUser); err == nil && user != nil {
		asHost = user.WebexID == m.CreatorUser
	}
	available := h.service.IsAvailable(m, asHost)
	if available && asHost {
		hostKey = m.HostKey
	}
	response.OK(c, gin.H{
		"available":   available,
		"as_host":     asHost,
		"time_status": h.service.TimeStatus(m),
		"meeting_key": m.MeetingKey,
		"guest_key":   m.GuestKey,
		"host_key":    hostKey,
	})
}

// AddHost handles POST /meetings/:id/hosts: grants another platform user
// host rights on the provider side.
func (h *Handler) AddHost(c *gin.Context) {
	m, ok := h.load(c)
	if !ok {
		return
	}
	var req AddHostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	platformUser, email := h.caller(c)
	actor, err := h.accounts.EnsureUser(c.Request.Context(), platformUser, email, "", "")
	if err != nil {
		response.ServiceUnavailable(c, "conferencing account unavailable")
		return
	}
	user, err := h.accounts.EnsureUser(c.Request.Context(), req.PlatformUser, req.Email, req.FirstName, req.LastName)
	if err != nil {
		response.ServiceUnavailable(c, "conferencing account unavailable")
		return
	}
	if err := h.service.AddHost(c.Request.Context(), m, actor, user); err != nil {
		h.fail(c, "add host", err)
		return
	}
	response.NoContent(c)
}

func (h *Handler) load(c *gin.Context) (*models.Meeting, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.BadRequest(c, "invalid meeting id")
		return nil, false
	}
	m, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "load meeting", err)
		return nil, false
	}
	if m == nil {
		response.NotFound(c, "meeting not found")
		return nil, false
	}
	return m, true
}

// fail maps provider error classes onto HTTP statuses.
func (h *Handler) fail(c *gin.Context, op string, err error) {
	h.logger.Error(op, zap.Error(err))
	var tErr *webex.TransportError
	var sErr *webex.ServiceError
	var cErr *webex.ConsistencyError
	switch {
	case errors.As(err, &tErr):
		response.ServiceUnavailable(c, "conferencing service unreachable")
	case errors.As(err, &sErr):
		response.BadRequest(c, "conferencing service rejected the request: "+sErr.Reason)
	case errors.As(err, &cErr):
		response.Conflict(c, cErr.Msg)
	default:
		response.Internal(c, "internal error")
	}
}
