package router

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jwalitptl/medbooking/internal/middleware"
)

type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

// PublicHandler also mounts routes that skip authentication.
type PublicHandler interface {
	Handler
	RegisterPublicRoutes(*gin.RouterGroup)
}

// Handlers lists every route owner of the API.
type Handlers struct {
	Health       Handler
	Account      PublicHandler
	Availability Handler
	Appointment  Handler
	Payment      Handler
	Report       Handler
	Notification Handler
	Audit        Handler
}

type Router struct {
	engine   *gin.Engine
	tokens   middleware.TokenValidator
	handlers Handlers
	metrics  *routerMetrics
}

type routerMetrics struct {
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	errorTotal      *prometheus.CounterVec
}

type RouterConfig struct {
	RateLimitEnabled bool
	RateLimit        float64
	RateBurst        int
	RequestTimeout   time.Duration
	MaxBodyBytes     int64
	HSTS             bool
	CORSConfig       middleware.CORSConfig
	MetricsPrefix    string
	// Registerer receives the HTTP metrics; nil means the default registry.
	Registerer prometheus.Registerer
}

func NewRouter(tokens middleware.TokenValidator, handlers Handlers, config RouterConfig) *Router {
	engine := gin.New()

	if config.MetricsPrefix == "" {
		config.MetricsPrefix = "medbooking_http"
	}
	r := &Router{
		engine:   engine,
		tokens:   tokens,
		handlers: handlers,
		metrics:  initRouterMetrics(config.MetricsPrefix, config.Registerer),
	}

	engine.Use(
		middleware.Recovery(),
		middleware.RequestID(),
		middleware.Logger(),
		r.metricsMiddleware(),
		middleware.Timeout(config.RequestTimeout),
		middleware.SecurityHeaders(config.HSTS),
		middleware.SizeLimit(config.MaxBodyBytes),
		middleware.CORS(config.CORSConfig),
	)

	if config.RateLimitEnabled {
		rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
			RPS:   config.RateLimit,
			Burst: config.RateBurst,
		})
		engine.Use(rateLimiter.RateLimit())
	}

	return r
}

func (r *Router) Setup() {
	api := r.engine.Group("/api/v1")

	api.Use(func(c *gin.Context) {
		c.Header("X-API-Version", "1.0")
		c.Next()
	})

	if r.handlers.Health != nil {
		r.handlers.Health.RegisterRoutes(api)
	}

	r.handlers.Account.RegisterPublicRoutes(api)

	protected := api.Group("")
	protected.Use(middleware.Authenticate(r.tokens))
	r.setupProtectedRoutes(protected)
}

func (r *Router) setupProtectedRoutes(rg *gin.RouterGroup) {
	for _, h := range []Handler{
		r.handlers.Account,
		r.handlers.Availability,
		r.handlers.Appointment,
		r.handlers.Payment,
		r.handlers.Report,
		r.handlers.Notification,
		r.handlers.Audit,
	} {
		if h != nil {
			h.RegisterRoutes(rg)
		}
	}
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}

func initRouterMetrics(prefix string, reg prometheus.Registerer) *routerMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &routerMetrics{
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    prefix + "_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		requestTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		errorTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_errors_total",
				Help: "Total number of HTTP errors",
			},
			[]string{"method", "path", "type"},
		),
	}
}

func (r *Router) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		// unmatched routes would otherwise explode label cardinality
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		duration := time.Since(start).Seconds()

		r.metrics.requestDuration.WithLabelValues(c.Request.Method, path, status).Observe(duration)
		r.metrics.requestTotal.WithLabelValues(c.Request.Method, path, status).Inc()

		switch code := c.Writer.Status(); {
		case code >= 500:
			r.metrics.errorTotal.WithLabelValues(c.Request.Method, path, "server").Inc()
		case code >= 400:
			r.metrics.errorTotal.WithLabelValues(c.Request.Method, path, "client").Inc()
		}
	}
}
