package app

import (
	"context"

	httpH "github.com/yungbote/ontomap-backend/internal/http/handlers"
	"github.com/yungbote/ontomap-backend/internal/pkg/dbctx"
	"github.com/yungbote/ontomap-backend/internal/platform/logger"
)

type Handlers struct {
	Health     *httpH.HealthHandler
	Annotation *httpH.AnnotationHandler
	Prediction *httpH.PredictionHandler
	Graph      *httpH.GraphHandler
	Fanout     *httpH.FanoutHandler
}

func wireHandlers(log *logger.Logger, clients Clients, services Services) Handlers {
	log.Info("Wiring handlers...")
	checks := map[string]httpH.Check{
		"db": func(ctx context.Context) error {
			sqlDB, err := clients.DB.DB().DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}
	if clients.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return clients.Redis.Ping(ctx).Err() }
	}
	if clients.Neo4j != nil {
		checks["neo4j"] = func(ctx context.Context) error { return clients.Neo4j.Driver.VerifyConnectivity(ctx) }
	}
	outbox := services.Repos.Outbox
	return Handlers{
		Health:     httpH.NewHealthHandler(checks),
		Annotation: httpH.NewAnnotationHandler(services.Annotations),
		Prediction: httpH.NewPredictionHandler(services.Engine, services.Repos.Summaries),
		Graph:      httpH.NewGraphHandler(services.Graph),
		Fanout: httpH.NewFanoutHandler(services.Fanout, func(ctx context.Context) (int64, error) {
			return outbox.CountUnpublished(dbctx.New(ctx))
		}),
	}
}
