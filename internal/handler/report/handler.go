package report

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/medbooking/internal/handler"
	"github.com/jwalitptl/medbooking/internal/model"
	"github.com/jwalitptl/medbooking/internal/policy"
	"github.com/jwalitptl/medbooking/internal/service/report"
	"github.com/jwalitptl/medbooking/pkg/httputil"
)

type Handler struct {
	service *report.Service
}

func NewHandler(service *report.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	reports := r.Group("/reports")
	{
		reports.POST("/doctor", h.CreateByDoctor)
		reports.POST("/patient", h.CreateByPatient)
		reports.GET("/appointments/:appointmentId", h.ListByAppointment)
		reports.GET("/:id", h.GetReport)
		reports.PATCH("/:id/visibility", h.UpdateVisibility)
		reports.DELETE("/:id", h.RemoveReport)
	}
}

type creator func(context.Context, policy.Principal, model.CreateReportRequest) (*model.Report, error)

func (h *Handler) CreateByDoctor(c *gin.Context) {
	h.create(c, h.service.CreateByDoctor)
}

func (h *Handler) CreateByPatient(c *gin.Context) {
	h.create(c, h.service.CreateByPatient)
}

func (h *Handler) create(c *gin.Context, fn creator) {
	p, ok := handler.Principal(c)
	if !ok {
		return
	}
	var req model.CreateReportRequest
	if !handler.Bind(c, &req) {
		return
	}
	rep, err := fn(c.Request.Context(), p, req)
	if err != nil {
		httputil.Error(c, err)
		return
	}
	httputil.Created(c, rep)
}

func (h *Handler) GetReport(c *gin.Context) {
	p, ok := handler.Principal(c)
	if !ok {
		return
	}
	id, ok := handler.ParamUUID(c, "id")
	if !ok {
		return
	}
	rep, err := h.service.Get(c.Request.Context(), p, id)
	if err != nil {
		httputil.Error(c, err)
		return
	}
	httputil.OK(c, rep)
}

func (h *Handler) ListByAppointment(c *gin.Context) {
	p, ok := handler.Principal(c)
	if !ok {
		return
	}
	apptID, ok := handler.ParamUUID(c, "appointmentId")
	if !ok {
		return
	}
	out, err := h.service.ListByAppointment(c.Request.Context(), p, apptID)
	if err != nil {
		httputil.Error(c, err)
		return
	}
	httputil.OK(c, out)
}

func (h *Handler) UpdateVisibility(c *gin.Context) {
	p, ok := handler.Principal(c)
	if !ok {
		return
	}
	id, ok := handler.ParamUUID(c, "id")
	if !ok {
		return
	}
	var req model.UpdateVisibilityRequest
	if !handler.Bind(c, &req) {
		return
	}
	rep, err := h.service.UpdateVisibility(c.Request.Context(), p, id, req)
	if err != nil {
		httputil.Error(c, err)
		return
	}
	httputil.OK(c, rep)
}

func (h *Handler) RemoveReport(c *gin.Context) {
	p, ok := handler.Principal(c)
	if !ok {
		return
	}
	id, ok := handler.ParamUUID(c, "id")
	if !ok {
		return
	}
	if err := h.service.Remove(c.Request.Context(), p, id); err != nil {
		httputil.Error(c, err)
		return
	}
	httputil.OK(c, gin.H{"id": id, "deleted": true})
}
