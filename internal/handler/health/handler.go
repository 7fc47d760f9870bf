package health

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Check reports whether a dependency is usable.
type Check func(ctx context.Context) error

type Handler struct {
	checks  map[string]Check
	timeout time.Duration
	metrics http.Handler
}

// NewHandler builds the health endpoints. gatherer may be nil, in which case
// the default prometheus registry is served.
func NewHandler(checks map[string]Check, gatherer prometheus.Gatherer) *Handler {
	h := &Handler{checks: checks, timeout: 2 * time.Second}
	if gatherer == nil {
		h.metrics = promhttp.Handler()
	} else {
		h.metrics = promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	}
	return h
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	health := r.Group("/health")
	{
		health.GET("/live", h.LivenessCheck)
		health.GET("/ready", h.ReadinessCheck)
		health.GET("/metrics", gin.WrapH(h.metrics))
	}
}

func (h *Handler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "UP"})
}

func (h *Handler) ReadinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make(gin.H, len(names))
	down := false
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			results[name] = "DOWN"
			down = true
			continue
		}
		results[name] = "UP"
	}

	if down {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "DOWN", "checks": results})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "UP", "checks": results})
}
