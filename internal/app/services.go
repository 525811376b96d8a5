package app

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/ontomap-backend/internal/data/repos"
	"github.com/yungbote/ontomap-backend/internal/fanout"
	"github.com/yungbote/ontomap-backend/internal/observability"
	"github.com/yungbote/ontomap-backend/internal/platform/logger"
	"github.com/yungbote/ontomap-backend/internal/prediction"
	"github.com/yungbote/ontomap-backend/internal/prediction/similarity"
	"github.com/yungbote/ontomap-backend/internal/projection"
	"github.com/yungbote/ontomap-backend/internal/projection/graph"
	"github.com/yungbote/ontomap-backend/internal/projection/summary"
	"github.com/yungbote/ontomap-backend/internal/services"
)

type Services struct {
	Repos repos.Set

	// Projections + fanout
	Projections *projection.Registry
	Fanout      *fanout.Fanout
	Relay       *fanout.Relay
	Replayer    *fanout.Replayer

	// Ingress
	Annotations services.AnnotationService

	// Read paths
	Memo   *similarity.Memo
	Engine *prediction.Engine
	Graph  *graph.Reader
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, clients Clients, reposet repos.Set, metrics *observability.Metrics) (Services, error) {
	log.Info("Wiring services...")

	registry := projection.NewRegistry()
	if err := registry.Register(summary.New(log, reposet.Summaries)); err != nil {
		return Services{}, err
	}
	if clients.Neo4j != nil {
		if err := registry.Register(graph.New(log, clients.Neo4j)); err != nil {
			return Services{}, err
		}
	}

	fan := fanout.New(log, clients.Broker, registry, cfg.Fanout.Config, metrics)
	relay := fanout.NewRelay(log, reposet.Outbox, fan, cfg.Relay, metrics)
	replayer := fanout.NewReplayer(log, reposet.Outbox, registry, 0)

	annotations := services.NewAnnotationService(db, log, reposet, services.WithCommitHook(relay.Notify))

	memo := similarity.NewMemo(similarity.MemoOptions{
		TTL:             cfg.Prediction.MemoTTL,
		CleanupInterval: memoCleanup(cfg.Prediction.MemoTTL),
	})
	engine, err := prediction.NewEngine(
		log,
		prediction.NewSummaryRetriever(reposet.Summaries, cfg.Prediction.RetrieveLimit),
		memo,
		cfg.Prediction.Config,
		prediction.WithMetrics(metrics),
		prediction.WithWorkers(cfg.Prediction.Workers),
	)
	if err != nil {
		return Services{}, fmt.Errorf("init prediction engine: %w", err)
	}

	return Services{
		Repos:       reposet,
		Projections: registry,
		Fanout:      fan,
		Relay:       relay,
		Replayer:    replayer,
		Annotations: annotations,
		Memo:        memo,
		Engine:      engine,
		Graph:       graph.NewReader(clients.Neo4j),
	}, nil
}

func memoCleanup(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return 0
	}
	return 2 * ttl
}
