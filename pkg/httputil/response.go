// Package httputil writes the JSON envelope every endpoint answers with.
package httputil

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	apperrors "github.com/jwalitptl/medbooking/pkg/errors"
)

// Response is the envelope of every API answer.
type Response struct {
	Status  string                 `json:"status"`
	Message string                 `json:"message,omitempty"`
	Code    string                 `json:"code,omitempty"`
	Data    interface{}            `json:"data,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// RequestIDKey is the gin context key holding the request id.
const RequestIDKey = "request_id"

func Success(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Response{Status: "success", Data: data})
}

func OK(c *gin.Context, data interface{}) {
	Success(c, http.StatusOK, data)
}

func Created(c *gin.Context, data interface{}) {
	Success(c, http.StatusCreated, data)
}

// StatusOf maps an error kind onto an HTTP status.
func StatusOf(err error) int {
	switch apperrors.KindOf(err) {
	case apperrors.KindValidation:
		return http.StatusBadRequest
	case apperrors.KindAuthorization:
		switch apperrors.CodeOf(err) {
		case apperrors.CodeUnauthenticated, apperrors.CodeInvalidCredentials, apperrors.CodeInvalidToken:
			return http.StatusUnauthorized
		}
		return http.StatusForbidden
	case apperrors.KindNotFound:
		return http.StatusNotFound
	case apperrors.KindConflict:
		return http.StatusConflict
	}
	var e *apperrors.Error
	if errors.As(err, &e) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// Error writes err and aborts the chain. Infrastructure details never leave
// the process; they are attached to the gin context for the logger.
func Error(c *gin.Context, err error) {
	status := StatusOf(err)
	resp := Response{Status: "error", Code: apperrors.CodeOf(err), Message: err.Error()}

	var e *apperrors.Error
	if errors.As(err, &e) {
		resp.Message = e.Message
		resp.Details = e.Data
	}
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
		resp.Message = "internal server error"
		resp.Details = nil
		if status == http.StatusInternalServerError {
			resp.Code = ""
		}
	}
	c.AbortWithStatusJSON(status, resp)
}

// BindError turns a gin binding failure into a validation error that names
// the offending fields.
func BindError(c *gin.Context, err error) {
	appErr := apperrors.Invalid("invalid request body")
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = fe.Tag()
		}
		appErr = appErr.WithData("fields", fields)
	} else {
		appErr = appErr.WithData("reason", err.Error())
	}
	Error(c, appErr)
}
