package app

import (
	"github.com/gin-gonic/gin"

	"github.com/yungbote/ontomap-backend/internal/http"
	"github.com/yungbote/ontomap-backend/internal/observability"
	"github.com/yungbote/ontomap-backend/internal/platform/logger"
)

func wireRouter(log *logger.Logger, cfg Config, metrics *observability.Metrics, handlers Handlers) *gin.Engine {
	serviceName := ""
	if cfg.OTel.Enabled {
		serviceName = cfg.OTel.ServiceName
	}
	return http.NewRouter(http.RouterConfig{
		Log:               log,
		Metrics:           metrics,
		ServiceName:       serviceName,
		CORSOrigins:       cfg.HTTP.CORSOrigins,
		AnnotationHandler: handlers.Annotation,
		PredictionHandler: handlers.Prediction,
		GraphHandler:      handlers.Graph,
		FanoutHandler:     handlers.Fanout,
		HealthHandler:     handlers.Health,
	})
}
