package availability

import (
	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/medbooking/internal/handler"
	"github.com/jwalitptl/medbooking/internal/model"
	"github.com/jwalitptl/medbooking/internal/service/availability"
	apperrors "github.com/jwalitptl/medbooking/pkg/errors"
	"github.com/jwalitptl/medbooking/pkg/httputil"
)

type Handler struct {
	service *availability.Service
}

func NewHandler(service *availability.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	slots := r.Group("/availability")
	{
		slots.GET("/check", h.CheckSlot)
		slots.GET("/doctors/:doctorId", h.ListByDoctor)
		slots.POST("", h.CreateSlot)
		slots.GET("/:id", h.GetSlot)
		slots.PUT("/:id", h.UpdateSlot)
		slots.DELETE("/:id", h.RemoveSlot)
	}
}

func (h *Handler) CheckSlot(c *gin.Context) {
	doctorID, ok := handler.QueryUUID(c, "doctor_id")
	if !ok {
		return
	}
	at, ok := handler.QueryTime(c, "at")
	if !ok {
		return
	}
	if doctorID == nil || at == nil {
		httputil.Error(c, apperrors.Invalid("doctor_id and at are required"))
		return
	}
	check, err := h.service.CheckSlot(c.Request.Context(), *doctorID, *at)
	if err != nil {
		httputil.Error(c, err)
		return
	}
	httputil.OK(c, check)
}

func (h *Handler) ListByDoctor(c *gin.Context) {
	doctorID, ok := handler.ParamUUID(c, "doctorId")
	if !ok {
		return
	}
	slots, err := h.service.ListByDoctor(c.Request.Context(), doctorID)
	if err != nil {
		httputil.Error(c, err)
		return
	}
	httputil.OK(c, slots)
}

func (h *Handler) GetSlot(c *gin.Context) {
	id, ok := handler.ParamUUID(c, "id")
	if !ok {
		return
	}
	slot, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		httputil.Error(c, err)
		return
	}
	httputil.OK(c, slot)
}

func (h *Handler) CreateSlot(c *gin.Context) {
	p, ok := handler.Principal(c)
	if !ok {
		return
	}
	var req model.CreateSlotRequest
	if !handler.Bind(c, &req) {
		return
	}
	slot, err := h.service.CreateSlot(c.Request.Context(), p, req)
	if err != nil {
		httputil.Error(c, err)
		return
	}
	httputil.Created(c, slot)
}

func (h *Handler) UpdateSlot(c *gin.Context) {
	p, ok := handler.Principal(c)
	if !ok {
		return
	}
	id, ok := handler.ParamUUID(c, "id")
	if !ok {
		return
	}
	var req model.UpdateSlotRequest
	if !handler.Bind(c, &req) {
		return
	}
	slot, err := h.service.UpdateSlot(c.Request.Context(), p, id, req)
	if err != nil {
		httputil.Error(c, err)
		return
	}
	httputil.OK(c, slot)
}

func (h *Handler) RemoveSlot(c *gin.Context) {
	p, ok := handler.Principal(c)
	if !ok {
		return
	}
	id, ok := handler.ParamUUID(c, "id")
	if !ok {
		return
	}
	if err := h.service.RemoveSlot(c.Request.Context(), p, id); err != nil {
		httputil.Error(c, err)
		return
	}
	httputil.OK(c, gin.H{"id": id, "deleted": true})
}
