package api

import (
	"github.com/gin-gonic/gin"

	apperrors "github.com/wms-platform/channel-sync-service/pkg/errors"
	"github.com/wms-platform/channel-sync-service/pkg/logging"
	"github.com/wms-platform/channel-sync-service/pkg/metrics"
	"github.com/wms-platform/channel-sync-service/pkg/middleware"
)

// ConsumerStatus reports whether the inventory consumer is fetching
type ConsumerStatus interface {
	Running() bool
}

// NewRouter builds the operational HTTP surface: liveness, readiness and metrics.
func NewRouter(serviceName string, logger *logging.Logger, m *metrics.Metrics, consumer ConsumerStatus) *gin.Engine {
	router := gin.New()
	middleware.Setup(router, middleware.DefaultConfig(serviceName, logger, m))

	router.GET("/health", middleware.HealthCheck(serviceName))
	router.GET("/ready", middleware.ReadinessCheck(serviceName, func() error {
		if consumer == nil || !consumer.Running() {
			return apperrors.ErrServiceUnavailable("inventory consumer")
		}
		return nil
	}))
	if m != nil {
		router.GET("/metrics", middleware.MetricsEndpoint(m))
	}

	return router
}
