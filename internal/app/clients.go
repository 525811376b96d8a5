package app

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/ontomap-backend/internal/data/db"
	"github.com/yungbote/ontomap-backend/internal/fanout"
	"github.com/yungbote/ontomap-backend/internal/fanout/memory"
	"github.com/yungbote/ontomap-backend/internal/fanout/natsjs"
	"github.com/yungbote/ontomap-backend/internal/fanout/redisstream"
	"github.com/yungbote/ontomap-backend/internal/platform/logger"
	"github.com/yungbote/ontomap-backend/internal/platform/neo4jdb"
)

type Clients struct {
	DB     *db.PostgresService
	Broker fanout.Broker
	// Redis is set only when the redis broker is selected.
	Redis goredis.UniversalClient
	// Neo4j is nil when no graph store is configured.
	Neo4j *neo4jdb.Client
}

func wireClients(ctx context.Context, log *logger.Logger, cfg Config) (Clients, error) {
	log.Info("Wiring clients...")

	pg, err := db.NewPostgresService(log, cfg.DB.Config)
	if err != nil {
		return Clients{}, fmt.Errorf("init database: %w", err)
	}
	if cfg.DB.AutoMigrate {
		if err := db.AutoMigrateAll(pg.DB()); err != nil {
			_ = pg.Close()
			return Clients{}, fmt.Errorf("automigrate: %w", err)
		}
	}

	broker, rdb, err := wireBroker(ctx, log, cfg)
	if err != nil {
		_ = pg.Close()
		return Clients{}, err
	}

	graphClient, err := neo4jdb.New(log, cfg.Neo4j)
	if err != nil {
		_ = broker.Close()
		_ = pg.Close()
		return Clients{}, fmt.Errorf("init neo4j: %w", err)
	}
	if graphClient == nil {
		log.Info("neo4j not configured; graph projection disabled")
	}

	return Clients{DB: pg, Broker: broker, Redis: rdb, Neo4j: graphClient}, nil
}

func wireBroker(ctx context.Context, log *logger.Logger, cfg Config) (fanout.Broker, goredis.UniversalClient, error) {
	switch cfg.Fanout.Broker {
	case BrokerRedis:
		b, err := redisstream.Dial(log, cfg.Redis)
		if err != nil {
			return nil, nil, fmt.Errorf("init redis broker: %w", err)
		}
		return b, b.Client(), nil
	case BrokerNATS:
		b, err := natsjs.Dial(ctx, log, cfg.NATS)
		if err != nil {
			return nil, nil, fmt.Errorf("init nats broker: %w", err)
		}
		return b, nil, nil
	default:
		log.Warn("using the in-process memory broker; events do not survive a restart")
		return memory.New(memory.Options{ClaimIdle: 30 * time.Second}), nil, nil
	}
}

func (c *Clients) Close(ctx context.Context) {
	if c == nil {
		return
	}
	if c.Broker != nil {
		_ = c.Broker.Close()
	}
	if c.Neo4j != nil {
		_ = c.Neo4j.Close(ctx)
	}
	if c.DB != nil {
		_ = c.DB.Close()
	}
}
