package appointment

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/medbooking/internal/handler"
	"github.com/jwalitptl/medbooking/internal/model"
	"github.com/jwalitptl/medbooking/internal/policy"
	"github.com/jwalitptl/medbooking/internal/service/appointment"
	apperrors "github.com/jwalitptl/medbooking/pkg/errors"
	"github.com/jwalitptl/medbooking/pkg/httputil"
)

type Handler struct {
	service *appointment.Service
}

func NewHandler(service *appointment.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	appointments := r.Group("/appointments")
	{
		appointments.POST("", h.CreateAppointment)
		appointments.GET("/upcoming", h.ListUpcoming)
		appointments.GET("/past", h.ListPast)
		appointments.GET("/doctors/:doctorId", h.ListByDoctor)
		appointments.GET("/:id", h.GetAppointment)
		appointments.PUT("/:id/status", h.SetStatus)
		appointments.POST("/:id/confirm", h.Confirm)
		appointments.POST("/:id/complete", h.Complete)
		appointments.POST("/:id/cancel", h.Cancel)
		appointments.PUT("/:id/reschedule", h.Reschedule)
		appointments.DELETE("/:id", h.RemoveAppointment)
	}
}

type cancelRequest struct {
	Reason string `json:"reason" binding:"max=255"`
}

func (h *Handler) CreateAppointment(c *gin.Context) {
	p, ok := handler.Principal(c)
	if !ok {
		return
	}
	var req model.CreateAppointmentRequest
	if !handler.Bind(c, &req) {
		return
	}
	appt, err := h.service.Create(c.Request.Context(), p, req)
	if err != nil {
		httputil.Error(c, err)
		return
	}
	httputil.Created(c, appt)
}

func (h *Handler) GetAppointment(c *gin.Context) {
	p, ok := handler.Principal(c)
	if !ok {
		return
	}
	id, ok := handler.ParamUUID(c, "id")
	if !ok {
		return
	}
	appt, err := h.service.Get(c.Request.Context(), p, id)
	if err != nil {
		httputil.Error(c, err)
		return
	}
	httputil.OK(c, appt)
}

func (h *Handler) SetStatus(c *gin.Context) {
	h.transition(c, func(c *gin.Context, p policy.Principal, id uuid.UUID) (*model.Appointment, error) {
		var req model.SetAppointmentStatusRequest
		if !handler.Bind(c, &req) {
			return nil, nil
		}
		return h.service.SetStatus(c.Request.Context(), p, id, req.Status, req.Reason)
	})
}

func (h *Handler) Confirm(c *gin.Context) {
	h.transition(c, func(c *gin.Context, p policy.Principal, id uuid.UUID) (*model.Appointment, error) {
		return h.service.Confirm(c.Request.Context(), p, id)
	})
}

func (h *Handler) Complete(c *gin.Context) {
	h.transition(c, func(c *gin.Context, p policy.Principal, id uuid.UUID) (*model.Appointment, error) {
		return h.service.Complete(c.Request.Context(), p, id)
	})
}

func (h *Handler) Cancel(c *gin.Context) {
	h.transition(c, func(c *gin.Context, p policy.Principal, id uuid.UUID) (*model.Appointment, error) {
		var req cancelRequest
		if !handler.BindOptional(c, &req) {
			return nil, nil
		}
		return h.service.Cancel(c.Request.Context(), p, id, req.Reason)
	})
}

func (h *Handler) Reschedule(c *gin.Context) {
	h.transition(c, func(c *gin.Context, p policy.Principal, id uuid.UUID) (*model.Appointment, error) {
		var req model.RescheduleAppointmentRequest
		if !handler.Bind(c, &req) {
			return nil, nil
		}
		return h.service.Reschedule(c.Request.Context(), p, id, req.ScheduledAt, req.Reason)
	})
}

// transition resolves the caller and the id, then runs fn. fn returning
// (nil, nil) means it already answered.
func (h *Handler) transition(c *gin.Context, fn func(*gin.Context, policy.Principal, uuid.UUID) (*model.Appointment, error)) {
	p, ok := handler.Principal(c)
	if !ok {
		return
	}
	id, ok := handler.ParamUUID(c, "id")
	if !ok {
		return
	}
	appt, err := fn(c, p, id)
	if err != nil {
		httputil.Error(c, err)
		return
	}
	if appt == nil {
		return
	}
	httputil.OK(c, appt)
}

func (h *Handler) RemoveAppointment(c *gin.Context) {
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

func (h *Handler) ListUpcoming(c *gin.Context) {
	h.listForUser(c, h.service.ListUpcoming)
}

func (h *Handler) ListPast(c *gin.Context) {
	h.listForUser(c, h.service.ListPast)
}

type userLister func(ctx context.Context, p policy.Principal, userID uuid.UUID, role policy.Role) ([]*model.Appointment, error)

func (h *Handler) listForUser(c *gin.Context, list userLister) {
	p, ok := handler.Principal(c)
	if !ok {
		return
	}
	userID, ok := handler.QueryUUID(c, "user_id")
	if !ok {
		return
	}
	var uid uuid.UUID
	if userID != nil {
		uid = *userID
	}
	role := policy.Role(c.Query("role"))
	if role != "" && role != policy.RolePatient && role != policy.RoleDoctor {
		httputil.Error(c, apperrors.Invalid("role must be patient or doctor"))
		return
	}
	appts, err := list(c.Request.Context(), p, uid, role)
	if err != nil {
		httputil.Error(c, err)
		return
	}
	httputil.OK(c, appts)
}

func (h *Handler) ListByDoctor(c *gin.Context) {
	p, ok := handler.Principal(c)
	if !ok {
		return
	}
	doctorID, ok := handler.ParamUUID(c, "doctorId")
	if !ok {
		return
	}
	var statuses []model.AppointmentStatus
	for _, s := range handler.QueryList(c, "status") {
		st := model.AppointmentStatus(s)
		if !st.Valid() {
			httputil.Error(c, apperrors.Invalid("unknown status "+s))
			return
		}
		statuses = append(statuses, st)
	}
	appts, err := h.service.ListByDoctor(c.Request.Context(), p, doctorID, statuses)
	if err != nil {
		httputil.Error(c, err)
		return
	}
	httputil.OK(c, appts)
}
