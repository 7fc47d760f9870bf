package payment

import (
	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/medbooking/internal/handler"
	"github.com/jwalitptl/medbooking/internal/model"
	"github.com/jwalitptl/medbooking/internal/service/payment"
	apperrors "github.com/jwalitptl/medbooking/pkg/errors"
	"github.com/jwalitptl/medbooking/pkg/httputil"
)

type Handler struct {
	service *payment.Service
}

func NewHandler(service *payment.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	payments := r.Group("/payments")
	{
		payments.POST("", h.CreatePayment)
		payments.GET("", h.ListPayments)
		payments.GET("/:id", h.GetPayment)
		payments.PUT("/:id/status", h.UpdateStatus)
		payments.POST("/:id/pay", h.MarkPaid)
		payments.POST("/:id/refund", h.Refund)
		payments.PUT("/:id/provider", h.AttachProvider)
		payments.DELETE("/:id", h.RemovePayment)
	}
}

func (h *Handler) CreatePayment(c *gin.Context) {
	p, ok := handler.Principal(c)
	if !ok {
		return
	}
	var req model.CreatePaymentRequest
	if !handler.Bind(c, &req) {
		return
	}
	pay, err := h.service.Create(c.Request.Context(), p, req)
	if err != nil {
		httputil.Error(c, err)
		return
	}
	httputil.Created(c, pay)
}

func (h *Handler) ListPayments(c *gin.Context) {
	p, ok := handler.Principal(c)
	if !ok {
		return
	}
	var f model.PaymentFilter
	if f.UserID, ok = handler.QueryUUID(c, "user_id"); !ok {
		return
	}
	if f.AppointmentID, ok = handler.QueryUUID(c, "appointment_id"); !ok {
		return
	}
	if raw := c.Query("status"); raw != "" {
		st := model.PaymentStatus(raw)
		if !st.Valid() {
			httputil.Error(c, apperrors.Invalid("unknown status "+raw))
			return
		}
		f.Status = &st
	}
	if f.Limit, ok = handler.QueryInt(c, "limit", 0); !ok {
		return
	}
	out, err := h.service.List(c.Request.Context(), p, f)
	if err != nil {
		httputil.Error(c, err)
		return
	}
	httputil.OK(c, out)
}

func (h *Handler) GetPayment(c *gin.Context) {
	p, ok := handler.Principal(c)
	if !ok {
		return
	}
	id, ok := handler.ParamUUID(c, "id")
	if !ok {
		return
	}
	pay, err := h.service.Get(c.Request.Context(), p, id)
	if err != nil {
		httputil.Error(c, err)
		return
	}
	httputil.OK(c, pay)
}

func (h *Handler) UpdateStatus(c *gin.Context) {
	p, ok := handler.Principal(c)
	if !ok {
		return
	}
	id, ok := handler.ParamUUID(c, "id")
	if !ok {
		return
	}
	var req model.UpdatePaymentStatusRequest
	if !handler.Bind(c, &req) {
		return
	}
	pay, err := h.service.UpdateStatus(c.Request.Context(), p, id, req.Status, req.Reason)
	if err != nil {
		httputil.Error(c, err)
		return
	}
	httputil.OK(c, pay)
}

func (h *Handler) MarkPaid(c *gin.Context) {
	p, ok := handler.Principal(c)
	if !ok {
		return
	}
	id, ok := handler.ParamUUID(c, "id")
	if !ok {
		return
	}
	pay, err := h.service.MarkPaid(c.Request.Context(), p, id)
	if err != nil {
		httputil.Error(c, err)
		return
	}
	httputil.OK(c, pay)
}

func (h *Handler) Refund(c *gin.Context) {
	p, ok := handler.Principal(c)
	if !ok {
		return
	}
	id, ok := handler.ParamUUID(c, "id")
	if !ok {
		return
	}
	var req model.RefundPaymentRequest
	if !handler.BindOptional(c, &req) {
		return
	}
	pay, err := h.service.Refund(c.Request.Context(), p, id, req.Reason)
	if err != nil {
		httputil.Error(c, err)
		return
	}
	httputil.OK(c, pay)
}

func (h *Handler) AttachProvider(c *gin.Context) {
	p, ok := handler.Principal(c)
	if !ok {
		return
	}
	id, ok := handler.ParamUUID(c, "id")
	if !ok {
		return
	}
	var req model.AttachProviderRequest
	if !handler.Bind(c, &req) {
		return
	}
	pay, err := h.service.AttachProvider(c.Request.Context(), p, id, req)
	if err != nil {
		httputil.Error(c, err)
		return
	}
	httputil.OK(c, pay)
}

func (h *Handler) RemovePayment(c *gin.Context) {
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
