package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/medbooking/pkg/httputil"
)

const HeaderXRequestID = "X-Request-ID"

// RequestID reuses the caller's X-Request-ID when it is a short token and
// generates one otherwise.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(HeaderXRequestID)
		if rid == "" || len(rid) > 64 {
			rid = uuid.NewString()
		}
		c.Set(httputil.RequestIDKey, rid)
		c.Header(HeaderXRequestID, rid)
		c.Next()
	}
}
