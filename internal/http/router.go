package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/ontomap-backend/internal/http/handlers"
	httpMW "github.com/yungbote/ontomap-backend/internal/http/middleware"
	"github.com/yungbote/ontomap-backend/internal/observability"
	"github.com/yungbote/ontomap-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log         *logger.Logger
	Metrics     *observability.Metrics
	ServiceName string
	CORSOrigins []string

	AnnotationHandler *httpH.AnnotationHandler
	PredictionHandler *httpH.PredictionHandler
	GraphHandler      *httpH.GraphHandler
	FanoutHandler     *httpH.FanoutHandler
	HealthHandler     *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.CORS(cfg.CORSOrigins...))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
		r.GET("/readyz", cfg.HealthHandler.Ready)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	api := r.Group("/api")
	{
		// Annotations
		if cfg.AnnotationHandler != nil {
			api.POST("/annotations", cfg.AnnotationHandler.Create)
			api.POST("/annotations/batch", cfg.AnnotationHandler.CreateBatch)
			api.GET("/annotations", cfg.AnnotationHandler.List)
			api.GET("/annotations/:id", cfg.AnnotationHandler.Get)
		}

		// Summaries + predictions
		if cfg.PredictionHandler != nil {
			api.GET("/summaries", cfg.PredictionHandler.Summaries)
			api.GET("/predictions", cfg.PredictionHandler.Predict)
		}

		// Graph traversal
		if cfg.GraphHandler != nil {
			api.GET("/graph/semantic-tags/entities", cfg.GraphHandler.EntitiesForSemanticTag)
			api.GET("/graph/entities/:id/semantic-tags", cfg.GraphHandler.SemanticTagsForEntity)
		}

		// Admin
		if cfg.FanoutHandler != nil {
			api.GET("/admin/fanout/status", cfg.FanoutHandler.Status)
		}
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"message": "route not found", "code": "not_found"}})
	})
	return r
}
