package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/medbooking/internal/policy"
	"github.com/jwalitptl/medbooking/pkg/auth"
	apperrors "github.com/jwalitptl/medbooking/pkg/errors"
	"github.com/jwalitptl/medbooking/pkg/httputil"
)

const ContextPrincipal = "principal"

// TokenValidator is the part of the token manager the gateway needs.
type TokenValidator interface {
	Validate(token string) (*auth.Claims, error)
}

// Authenticate verifies the bearer token and injects the caller as a
// policy.Principal into both the gin and the request context.
func Authenticate(tokens TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			httputil.Error(c, apperrors.Unauthenticated(apperrors.CodeUnauthenticated, "missing authorization header"))
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			httputil.Error(c, apperrors.Unauthenticated(apperrors.CodeUnauthenticated, "invalid authorization format"))
			return
		}

		claims, err := tokens.Validate(strings.TrimSpace(parts[1]))
		if err != nil {
			msg := "invalid token"
			if errors.Is(err, auth.ErrExpiredToken) {
				msg = "token has expired"
			}
			httputil.Error(c, apperrors.Unauthenticated(apperrors.CodeInvalidToken, msg))
			return
		}

		role := policy.Role(claims.Role)
		id, perr := uuid.Parse(claims.UserID)
		if perr != nil || !role.Valid() {
			httputil.Error(c, apperrors.Unauthenticated(apperrors.CodeInvalidToken, "invalid token subject"))
			return
		}
		p := policy.Principal{ID: id, Role: role, Email: claims.Email}
		c.Set(ContextPrincipal, p)
		c.Request = c.Request.WithContext(policy.WithPrincipal(c.Request.Context(), p))
		c.Next()
	}
}

// RequireRole lets only the listed roles through.
func RequireRole(roles ...policy.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := policy.FromContext(c.Request.Context())
		if !ok {
			httputil.Error(c, apperrors.Unauthenticated(apperrors.CodeUnauthenticated, "authentication required"))
			return
		}
		for _, r := range roles {
			if p.Role == r {
				c.Next()
				return
			}
		}
		httputil.Error(c, apperrors.Forbidden("role "+string(p.Role)+" is not allowed here"))
	}
}

// Principal returns the authenticated caller of the request.
func Principal(c *gin.Context) (policy.Principal, bool) {
	return policy.FromContext(c.Request.Context())
}
