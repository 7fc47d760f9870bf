package notification

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/medbooking/internal/handler"
	"github.com/jwalitptl/medbooking/internal/model"
	"github.com/jwalitptl/medbooking/internal/service/notification"
	"github.com/jwalitptl/medbooking/pkg/httputil"
)

type Handler struct {
	service *notification.Service
}

func NewHandler(service *notification.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	notifications := r.Group("/notifications")
	{
		notifications.POST("", h.Queue)
		notifications.GET("", h.ListForUser)
		notifications.DELETE("", h.Prune)
		notifications.POST("/:id/deliver", h.Deliver)
		notifications.POST("/:id/sent", h.MarkSent)
		notifications.POST("/:id/failed", h.MarkFailed)
	}
}

type markSentRequest struct {
	SentAt *time.Time `json:"sent_at"`
}

type markFailedRequest struct {
	Reason string `json:"reason" binding:"max=500"`
}

func (h *Handler) Queue(c *gin.Context) {
	p, ok := handler.Principal(c)
	if !ok {
		return
	}
	var req model.QueueNotificationRequest
	if !handler.Bind(c, &req) {
		return
	}
	n, err := h.service.Queue(c.Request.Context(), p, req)
	if err != nil {
		httputil.Error(c, err)
		return
	}
	httputil.Created(c, n)
}

func (h *Handler) ListForUser(c *gin.Context) {
	p, ok := handler.Principal(c)
	if !ok {
		return
	}
	userID, ok := handler.QueryUUID(c, "user_id")
	if !ok {
		return
	}
	uid := p.ID
	if userID != nil {
		uid = *userID
	}
	limit, ok := handler.QueryInt(c, "limit", 0)
	if !ok {
		return
	}
	out, err := h.service.ListForUser(c.Request.Context(), p, uid, limit)
	if err != nil {
		httputil.Error(c, err)
		return
	}
	httputil.OK(c, out)
}

func (h *Handler) Deliver(c *gin.Context) {
	h.mark(c, func(c *gin.Context, id uuid.UUID) (*model.Notification, error) {
		p, _ := handler.Principal(c)
		return h.service.Deliver(c.Request.Context(), p, id)
	})
}

func (h *Handler) MarkSent(c *gin.Context) {
	h.mark(c, func(c *gin.Context, id uuid.UUID) (*model.Notification, error) {
		var req markSentRequest
		if !handler.BindOptional(c, &req) {
			return nil, nil
		}
		p, _ := handler.Principal(c)
		return h.service.MarkSent(c.Request.Context(), p, id, req.SentAt)
	})
}

func (h *Handler) MarkFailed(c *gin.Context) {
	h.mark(c, func(c *gin.Context, id uuid.UUID) (*model.Notification, error) {
		var req markFailedRequest
		if !handler.BindOptional(c, &req) {
			return nil, nil
		}
		p, _ := handler.Principal(c)
		return h.service.MarkFailed(c.Request.Context(), p, id, req.Reason)
	})
}

func (h *Handler) mark(c *gin.Context, fn func(*gin.Context, uuid.UUID) (*model.Notification, error)) {
	if _, ok := handler.Principal(c); !ok {
		return
	}
	id, ok := handler.ParamUUID(c, "id")
	if !ok {
		return
	}
	n, err := fn(c, id)
	if err != nil {
		httputil.Error(c, err)
		return
	}
	if n != nil {
		httputil.OK(c, n)
	}
}

func (h *Handler) Prune(c *gin.Context) {
	p, ok := handler.Principal(c)
	if !ok {
		return
	}
	days, ok := handler.QueryInt(c, "older_than_days", 0)
	if !ok {
		return
	}
	res, err := h.service.Prune(c.Request.Context(), p, days)
	if err != nil {
		httputil.Error(c, err)
		return
	}
	httputil.OK(c, res)
}
