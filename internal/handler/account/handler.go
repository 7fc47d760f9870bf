package account

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/medbooking/internal/handler"
	"github.com/jwalitptl/medbooking/internal/model"
	"github.com/jwalitptl/medbooking/internal/service/account"
	"github.com/jwalitptl/medbooking/pkg/httputil"
)

type Handler struct {
	service *account.Service
}

func NewHandler(service *account.Service) *Handler {
	return &Handler{service: service}
}

// RegisterPublicRoutes mounts the endpoints reachable without a token.
func (h *Handler) RegisterPublicRoutes(r *gin.RouterGroup) {
	auth := r.Group("/auth")
	{
		auth.POST("/register", h.Register)
		auth.POST("/login", h.Login)
		auth.POST("/forgot-password", h.ForgotPassword)
		auth.POST("/reset-password", h.ResetPassword)
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	users := r.Group("/users")
	{
		users.GET("/me", h.Me)
		users.GET("/:id", h.GetUser)
		users.PUT("/:id/role", h.ChangeRole)
		users.DELETE("/:id", h.DeleteUser)
	}
}

func (h *Handler) Register(c *gin.Context) {
	var req model.RegisterRequest
	if !handler.Bind(c, &req) {
		return
	}
	user, err := h.service.Register(c.Request.Context(), req)
	if err != nil {
		httputil.Error(c, err)
		return
	}
	httputil.Created(c, user)
}

func (h *Handler) Login(c *gin.Context) {
	var req model.LoginRequest
	if !handler.Bind(c, &req) {
		return
	}
	tok, err := h.service.Login(c.Request.Context(), req)
	if err != nil {
		httputil.Error(c, err)
		return
	}
	httputil.OK(c, tok)
}

// ForgotPassword answers the same way whether or not the email is known.
func (h *Handler) ForgotPassword(c *gin.Context) {
	var req model.ForgotPasswordRequest
	if !handler.Bind(c, &req) {
		return
	}
	if err := h.service.ForgotPassword(c.Request.Context(), req); err != nil {
		httputil.Error(c, err)
		return
	}
	c.JSON(http.StatusAccepted, httputil.Response{Status: "success", Message: "if the account exists a reset link has been sent"})
}

func (h *Handler) ResetPassword(c *gin.Context) {
	var req model.ResetPasswordRequest
	if !handler.Bind(c, &req) {
		return
	}
	if err := h.service.ResetPassword(c.Request.Context(), req); err != nil {
		httputil.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, httputil.Response{Status: "success", Message: "password updated"})
}

func (h *Handler) Me(c *gin.Context) {
	p, ok := handler.Principal(c)
	if !ok {
		return
	}
	user, err := h.service.Get(c.Request.Context(), p, p.ID)
	if err != nil {
		httputil.Error(c, err)
		return
	}
	httputil.OK(c, user)
}

func (h *Handler) GetUser(c *gin.Context) {
	p, ok := handler.Principal(c)
	if !ok {
		return
	}
	id, ok := handler.ParamUUID(c, "id")
	if !ok {
		return
	}
	user, err := h.service.Get(c.Request.Context(), p, id)
	if err != nil {
		httputil.Error(c, err)
		return
	}
	httputil.OK(c, user)
}

func (h *Handler) ChangeRole(c *gin.Context) {
	p, ok := handler.Principal(c)
	if !ok {
		return
	}
	id, ok := handler.ParamUUID(c, "id")
	if !ok {
		return
	}
	var req model.ChangeRoleRequest
	if !handler.Bind(c, &req) {
		return
	}
	user, err := h.service.ChangeRole(c.Request.Context(), p, id, req)
	if err != nil {
		httputil.Error(c, err)
		return
	}
	httputil.OK(c, user)
}

func (h *Handler) DeleteUser(c *gin.Context) {
	p, ok := handler.Principal(c)
	if !ok {
		return
	}
	id, ok := handler.ParamUUID(c, "id")
	if !ok {
		return
	}
	if err := h.service.Delete(c.Request.Context(), p, id); err != nil {
		httputil.Error(c, err)
		return
	}
	httputil.OK(c, gin.H{"id": id, "deleted": true})
}
