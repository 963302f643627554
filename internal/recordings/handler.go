package recordings

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/campusconf/backend/internal/models"
	"github.com/campusconf/backend/pkg/queue"
	"github.com/campusconf/backend/pkg/response"
)

// Jobs enqueues recording follow-up work.
type Jobs interface {
	EnqueueDownload(ctx context.Context, payload queue.DownloadPayload) error
	EnqueueNotify(ctx context.Context, payload queue.NotifyPayload) error
}

// Presigner mints short-lived download URLs for internalized files.
type Presigner interface {
	PresignDownloadURL(ctx context.Context, key string) (string, error)
}

// Handler handles recording HTTP endpoints.
type Handler struct {
	service   *Service
	jobs      Jobs
	presigner Presigner
	logger    *zap.Logger
}

// NewHandler creates a recording handler.
func NewHandler(service *Service, jobs Jobs, presigner Presigner, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{service: service, jobs: jobs, presigner: presigner, logger: logger}
}

// recordingView decorates a recording with computed visibility and
// association.
type recordingView struct {
	*models.Recording
	Visible     bool               `json:"visible"`
	Association models.Association `json:"association"`
}

func (h *Handler) view(c *gin.Context, rec *models.Recording) recordingView {
	assoc, err := h.service.Association(c.Request.Context(), rec)
	if err != nil {
		h.logger.Warn("association resolve failed", zap.Int64("recording", rec.ID), zap.Error(err))
		assoc = models.AssociationNone
	}
	return recordingView{Recording: rec, Visible: rec.Visible(), Association: assoc}
}

// ListByMeeting handles GET /meetings/:id/recordings. Soft-deleted rows are
// omitted unless include_deleted=true.
func (h *Handler) ListByMeeting(c *gin.Context) {
	meetingID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.BadRequest(c, "invalid meeting id")
		return
	}
	includeDeleted := c.Query("include_deleted") == "true"
	recs, err := h.service.ListByMeeting(c.Request.Context(), meetingID)
	if err != nil {
		h.logger.Error("list recordings", zap.Error(err))
		response.Internal(c, "internal error")
		return
	}
	views := make([]recordingView, 0, len(recs))
	for _, rec := range recs {
		if rec.Deleted != nil && !includeDeleted {
			continue
		}
		views = append(views, h.view(c, rec))
	}
	response.OK(c, views)
}

// List handles GET /recordings: the admin filter listing.
func (h *Handler) List(c *gin.Context) {
	f, err := parseFilter(c)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	recs, err := h.service.List(c.Request.Context(), f)
	if err != nil {
		h.logger.Error("filter recordings", zap.Error(err))
		response.Internal(c, "internal error")
		return
	}
	views := make([]recordingView, 0, len(recs))
	for _, rec := range recs {
		views = append(views, h.view(c, rec))
	}
	response.OK(c, views)
}

// Get handles GET /recordings/:id.
func (h *Handler) Get(c *gin.Context) {
	rec, ok := h.load(c)
	if !ok {
		return
	}
	response.OK(c, h.view(c, rec))
}

// SetVisibility handles PATCH /recordings/:id/visibility.
func (h *Handler) SetVisibility(c *gin.Context) {
	rec, ok := h.load(c)
	if !ok {
		return
	}
	var req struct {
		Visible *bool `json:"visible" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if err := h.service.SetVisibility(c.Request.Context(), rec, *req.Visible); err != nil {
		h.logger.Error("set visibility", zap.Error(err))
		response.Internal(c, "internal error")
		return
	}
	response.OK(c, h.view(c, rec))
}

// Delete handles DELETE /recordings/:id: a soft delete into the trash.
func (h *Handler) Delete(c *gin.Context) {
	rec, ok := h.load(c)
	if !ok {
		return
	}
	if err := h.service.Delete(c.Request.Context(), rec); err != nil {
		h.logger.Error("soft delete", zap.Error(err))
		response.Internal(c, "internal error")
		return
	}
	response.NoContent(c)
}

// Restore handles POST /recordings/:id/restore.
func (h *Handler) Restore(c *gin.Context) {
	rec, ok := h.load(c)
	if !ok {
		return
	}
	if err := h.service.Undelete(c.Request.Context(), rec); err != nil {
		h.logger.Error("restore", zap.Error(err))
		response.Internal(c, "internal error")
		return
	}
	response.OK(c, h.view(c, rec))
}

// RefreshAssociation handles POST /recordings/:id/association/refresh:
// re-resolves the recording against the current remote_servers table after
// an admin edits federation key prefixes.
func (h *Handler) RefreshAssociation(c *gin.Context) {
	rec, ok := h.load(c)
	if !ok {
		return
	}
	if _, err := h.service.UpdateRemoteServer(c.Request.Context(), rec); err != nil {
		h.logger.Error("refresh association", zap.Error(err))
		response.Internal(c, "internal error")
		return
	}
	response.OK(c, h.view(c, rec))
}

// Purge handles DELETE /recordings/:id/permanent. delete_remote=true also
// removes the provider copy.
func (h *Handler) Purge(c *gin.Context) {
	rec, ok := h.load(c)
	if !ok {
		return
	}
	deleteRemote := c.Query("delete_remote") == "true"
	if err := h.service.TrueDelete(c.Request.Context(), rec, deleteRemote); err != nil {
		h.logger.Error("true delete", zap.Error(err))
		response.Internal(c, "internal error")
		return
	}
	response.NoContent(c)
}

// TriggerDownload handles POST /recordings/:id/download: enqueues an
// internalization job regardless of policy.
func (h *Handler) TriggerDownload(c *gin.Context) {
	rec, ok := h.load(c)
	if !ok {
		return
	}
	payload := queue.DownloadPayload{
		RecordingID:  rec.ID,
		Force:        c.Query("force") == "true",
		DeleteRemote: c.Query("delete_remote") == "true",
	}
	if err := h.jobs.EnqueueDownload(c.Request.Context(), payload); err != nil {
		h.logger.Error("download enqueue", zap.Error(err))
		response.Internal(c, "internal error")
		return
	}
	response.Accepted(c, gin.H{"queued": true})
}

// TriggerNotify handles POST /recordings/:id/notify.
func (h *Handler) TriggerNotify(c *gin.Context) {
	rec, ok := h.load(c)
	if !ok {
		return
	}
	payload := queue.NotifyPayload{
		RecordingID: rec.ID,
		Force:       c.Query("force") == "true",
	}
	if err := h.jobs.EnqueueNotify(c.Request.Context(), payload); err != nil {
		h.logger.Error("notify enqueue", zap.Error(err))
		response.Internal(c, "internal error")
		return
	}
	response.Accepted(c, gin.H{"queued": true})
}

// DownloadURL handles GET /recordings/:id/download-url. Internalized files
// get a presigned URL; otherwise the provider stream URL is returned as-is.
func (h *Handler) DownloadURL(c *gin.Context) {
	rec, ok := h.load(c)
	if !ok {
		return
	}
	if !rec.Visible() {
		response.NotFound(c, "recording not found")
		return
	}
	has, err := h.service.HasInternalFile(c.Request.Context(), rec, true)
	if err != nil {
		h.logger.Error("storage check", zap.Error(err))
		response.Internal(c, "internal error")
		return
	}
	if has {
		url, err := h.presigner.PresignDownloadURL(c.Request.Context(), rec.StorageKey)
		if err != nil {
			h.logger.Error("presign", zap.Error(err))
			response.Internal(c, "internal error")
			return
		}
		response.OK(c, gin.H{"url": url, "source": "internal"})
		return
	}
	if rec.FileURL != "" {
		response.OK(c, gin.H{"url": rec.FileURL, "source": "provider"})
		return
	}
	if rec.StreamURL != "" {
		response.OK(c, gin.H{"url": rec.StreamURL, "source": "provider"})
		return
	}
	response.NotFound(c, "no media available")
}

// BulkRequest names recordings for a bulk admin action.
type BulkRequest struct {
	IDs     []int64 `json:"ids" binding:"required"`
	Visible *bool   `json:"visible"` // visibility action only
	Force   bool    `json:"force"`   // download action only
}

// Bulk handles POST /recordings/bulk/:action for download, visibility,
// delete and restore. Failures on individual rows are collected, not fatal.
func (h *Handler) Bulk(c *gin.Context) {
	action := c.Param("action")
	var req BulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if action == "visibility" && req.Visible == nil {
		response.BadRequest(c, "visible is required")
		return
	}

	ctx := c.Request.Context()
	failed := make([]int64, 0)
	for _, id := range req.IDs {
		rec, err := h.service.Get(ctx, id)
		if err != nil || rec == nil {
			failed = append(failed, id)
			continue
		}
		switch action {
		case "download":
			err = h.jobs.EnqueueDownload(ctx, queue.DownloadPayload{RecordingID: rec.ID, Force: req.Force})
		case "visibility":
			err = h.service.SetVisibility(ctx, rec, *req.Visible)
		case "delete":
			err = h.service.Delete(ctx, rec)
		case "restore":
			err = h.service.Undelete(ctx, rec)
		default:
			response.BadRequest(c, "unknown bulk action: "+action)
			return
		}
		if err != nil {
			h.logger.Error("bulk action failed", zap.String("action", action), zap.Int64("recording", id), zap.Error(err))
			failed = append(failed, id)
		}
	}
	response.OK(c, gin.H{"processed": len(req.IDs) - len(failed), "failed": failed})
}

func (h *Handler) load(c *gin.Context) (*models.Recording, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.BadRequest(c, "invalid recording id")
		return nil, false
	}
	rec, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("load recording", zap.Error(err))
		response.Internal(c, "internal error")
		return nil, false
	}
	if rec == nil {
		response.NotFound(c, "recording not found")
		return nil, false
	}
	return rec, true
}

func parseFilter(c *gin.Context) (Filter, error) {
	var f Filter
	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, errInvalidParam("from")
		}
		f.From = &t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, errInvalidParam("to")
		}
		f.To = &t
	}
	if v := c.Query("course"); v != "" {
		course, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return f, errInvalidParam("course")
		}
		f.Course = &course
	}
	f.HostID = c.Query("host")
	f.FileStatus = c.Query("file_status")
	if v := c.Query("deleted"); v != "" {
		deleted := v == "true"
		f.Deleted = &deleted
	}
	return f, nil
}

type errInvalidParam string

func (e errInvalidParam) Error() string { return "invalid " + string(e) + " parameter" }
