// Package handler holds the helpers shared by the per-domain HTTP handlers.
package handler

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/medbooking/internal/policy"
	apperrors "github.com/jwalitptl/medbooking/pkg/errors"
	"github.com/jwalitptl/medbooking/pkg/httputil"
)

// Principal returns the caller set by the auth middleware. A missing
// principal answers 401 and returns false.
func Principal(c *gin.Context) (policy.Principal, bool) {
	p, ok := policy.FromContext(c.Request.Context())
	if !ok {
		httputil.Error(c, apperrors.Unauthenticated(apperrors.CodeUnauthenticated, "authentication required"))
		return policy.Principal{}, false
	}
	return p, true
}

// ParamUUID parses the named path parameter.
func ParamUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		httputil.Error(c, apperrors.Invalid("invalid "+name))
		return uuid.Nil, false
	}
	return id, true
}

// QueryUUID parses an optional query parameter. An absent value yields nil.
func QueryUUID(c *gin.Context, name string) (*uuid.UUID, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		httputil.Error(c, apperrors.Invalid("invalid "+name))
		return nil, false
	}
	return &id, true
}

// QueryTime parses an optional RFC3339 query parameter.
func QueryTime(c *gin.Context, name string) (*time.Time, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		httputil.Error(c, apperrors.Invalid(name+" must be an RFC3339 timestamp"))
		return nil, false
	}
	return &t, true
}

// QueryInt parses an optional integer query parameter, falling back to def.
func QueryInt(c *gin.Context, name string, def int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		httputil.Error(c, apperrors.Invalid("invalid "+name))
		return 0, false
	}
	return n, true
}

// QueryList splits a comma separated query parameter.
func QueryList(c *gin.Context, name string) []string {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Bind decodes the JSON body into req, answering 400 on failure.
func Bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		httputil.BindError(c, err)
		return false
	}
	return true
}

// BindOptional is Bind for endpoints whose body may be omitted.
func BindOptional(c *gin.Context, req interface{}) bool {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return true
	}
	return Bind(c, req)
}
