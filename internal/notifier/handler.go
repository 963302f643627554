package notifier

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/campusconf/backend/internal/models"
	"github.com/campusconf/backend/pkg/response"
)

// History reads logged notification attempts.
type History interface {
	ListByRecording(ctx context.Context, recordingID int64) ([]*models.EmailLog, error)
}

// Handler exposes the notification attempt log.
type Handler struct {
	history History
	logger  *zap.Logger
}

// NewHandler creates a notification log handler.
func NewHandler(history History, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{history: history, logger: logger}
}

// ListByRecording handles GET /recordings/:id/notifications.
func (h *Handler) ListByRecording(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.BadRequest(c, "invalid recording id")
		return
	}
	logs, err := h.history.ListByRecording(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("list email logs failed", zap.Int64("recording_id", id), zap.Error(err))
		response.Internal(c, "internal error")
		return
	}
	if logs == nil {
		logs = []*models.EmailLog{}
	}
	response.OK(c, logs)
}
