package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/wms-platform/channel-sync-service/pkg/errors"
	"github.com/wms-platform/channel-sync-service/pkg/logging"
	"github.com/wms-platform/channel-sync-service/pkg/metrics"
)

const (
	HeaderRequestID     = "X-Request-ID"
	contextKeyRequestID = "requestId"
)

// Config holds middleware configuration
type Config struct {
	Logger      *logging.Logger
	Metrics     *metrics.Metrics
	ServiceName string
	// Quiet paths are served without a request log line or HTTP metrics.
	Quiet []string
}

// DefaultConfig keeps probes and scrapes out of the request log
func DefaultConfig(serviceName string, logger *logging.Logger, m *metrics.Metrics) *Config {
	return &Config{
		Logger:      logger,
		Metrics:     m,
		ServiceName: serviceName,
		Quiet:       []string{"/health", "/ready", "/metrics"},
	}
}

// Setup installs recovery, request ids, request observation and the 404 handler on router.
func Setup(router *gin.Engine, config *Config) {
	router.Use(
		Recovery(config.Logger),
		RequestID(),
		Observe(config.Logger, config.Metrics, config.Quiet...),
	)
	router.NoRoute(func(c *gin.Context) {
		AbortWithAppError(c, errors.New(errors.CodeRouteNotFound, "The requested resource was not found").
			WithDetail("path", c.Request.URL.Path))
	})
}

// RequestID reuses the caller's X-Request-ID or mints one, echoes it back
// and stores it on the request context for logging.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(contextKeyRequestID, id)
		c.Header(HeaderRequestID, id)
		c.Request = c.Request.WithContext(logging.ContextWithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

// Observe logs each request and records it in m under its route pattern.
// m may be nil.
func Observe(logger *logging.Logger, m *metrics.Metrics, quiet ...string) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(quiet))
	for _, path := range quiet {
		skip[path] = struct{}{}
	}

	return func(c *gin.Context) {
		if _, ok := skip[c.Request.URL.Path]; ok {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		elapsed := time.Since(start)
		status := c.Writer.Status()

		logger.HTTPRequest(c.Request.Context(), c.Request.Method, c.Request.URL.Path, status, elapsed, c.ClientIP())
		if m != nil {
			route := c.FullPath()
			if route == "" {
				route = "unmatched"
			}
			m.RecordHTTPRequest(c.Request.Method, route, status, elapsed)
		}
	}
}

// Recovery turns a handler panic into a logged 500
func Recovery(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Panic(c.Request.Context(), r)
				AbortWithAppError(c, errors.ErrInternal())
			}
		}()
		c.Next()
	}
}

// AbortWithAppError writes appErr as the JSON error body and aborts the chain
func AbortWithAppError(c *gin.Context, appErr *errors.AppError) {
	body := gin.H{
		"code":      appErr.Code,
		"message":   appErr.Message,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if len(appErr.Details) > 0 {
		body["details"] = appErr.Details
	}
	if id := c.GetString(contextKeyRequestID); id != "" {
		body["requestId"] = id
	}
	c.AbortWithStatusJSON(appErr.Code.HTTPStatus(), body)
}

func MetricsEndpoint(m *metrics.Metrics) gin.HandlerFunc {
	return gin.WrapH(m.Handler())
}

// HealthCheck answers liveness probes
func HealthCheck(serviceName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": serviceName})
	}
}

// ReadinessCheck answers 200 while check passes. A failing check answers with
// its AppError, or with SERVICE_UNAVAILABLE carrying the cause.
func ReadinessCheck(serviceName string, check func() error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := check(); err != nil {
			appErr, ok := errors.AsAppError(err)
			if !ok {
				appErr = errors.ErrServiceUnavailable(serviceName).Wrap(err).WithDetail("cause", err.Error())
			}
			AbortWithAppError(c, appErr)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready", "service": serviceName})
	}
}
