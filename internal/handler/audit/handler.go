package audit

import (
	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/medbooking/internal/handler"
	"github.com/jwalitptl/medbooking/internal/model"
	"github.com/jwalitptl/medbooking/internal/service/audit"
	apperrors "github.com/jwalitptl/medbooking/pkg/errors"
	"github.com/jwalitptl/medbooking/pkg/httputil"
)

type Handler struct {
	service *audit.Service
}

func NewHandler(service *audit.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	logs := r.Group("/audit")
	{
		logs.GET("/logs", h.ListLogs)
		logs.GET("/stats", h.GetStats)
		logs.DELETE("/logs", h.PurgeLogs)
	}
}

func (h *Handler) ListLogs(c *gin.Context) {
	p, ok := handler.Principal(c)
	if !ok {
		return
	}
	f := model.AuditFilter{
		Action:     c.Query("action"),
		EntityType: c.Query("entity_type"),
		EntityID:   c.Query("entity_id"),
		Status:     c.Query("status"),
	}
	if f.ActorID, ok = handler.QueryUUID(c, "actor_id"); !ok {
		return
	}
	if f.Since, ok = handler.QueryTime(c, "since"); !ok {
		return
	}
	if f.Limit, ok = handler.QueryInt(c, "limit", 0); !ok {
		return
	}
	if f.Offset, ok = handler.QueryInt(c, "offset", 0); !ok {
		return
	}
	entries, err := h.service.List(c.Request.Context(), p, f)
	if err != nil {
		httputil.Error(c, err)
		return
	}
	httputil.OK(c, entries)
}

func (h *Handler) GetStats(c *gin.Context) {
	p, ok := handler.Principal(c)
	if !ok {
		return
	}
	stats, err := h.service.Stats(c.Request.Context(), p, c.Query("group_by"))
	if err != nil {
		httputil.Error(c, err)
		return
	}
	httputil.OK(c, stats)
}

func (h *Handler) PurgeLogs(c *gin.Context) {
	p, ok := handler.Principal(c)
	if !ok {
		return
	}
	before, ok := handler.QueryTime(c, "before")
	if !ok {
		return
	}
	if before == nil {
		httputil.Error(c, apperrors.Invalid("before is required"))
		return
	}
	n, err := h.service.Purge(c.Request.Context(), p, *before)
	if err != nil {
		httputil.Error(c, err)
		return
	}
	httputil.OK(c, gin.H{"purged": n, "before": before.UTC()})
}
