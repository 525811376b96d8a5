package app

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/yungbote/ontomap-backend/internal/data/db"
	"github.com/yungbote/ontomap-backend/internal/data/repos"
	"github.com/yungbote/ontomap-backend/internal/fanout"
	"github.com/yungbote/ontomap-backend/internal/http"
	"github.com/yungbote/ontomap-backend/internal/observability"
	"github.com/yungbote/ontomap-backend/internal/pkg/dbctx"
	"github.com/yungbote/ontomap-backend/internal/platform/logger"
)

// Version is stamped at build time with -ldflags "-X .../internal/app.Version=...".
var Version = "dev"

type App struct {
	Log      *logger.Logger
	Cfg      Config
	Clients  Clients
	Repos    repos.Set
	Services Services
	Metrics  *observability.Metrics
	Router   *gin.Engine

	otelShutdown func(context.Context) error
}

func New(ctx context.Context, cfg Config) (*App, error) {
	log, err := logger.NewWithOptions(logger.Options{Mode: cfg.Log.Mode, Level: cfg.Log.Level, Redact: true})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return NewWithLogger(ctx, cfg, log)
}

func NewWithLogger(ctx context.Context, cfg Config, log *logger.Logger) (*App, error) {
	otelCfg := cfg.OTel
	otelCfg.Version = Version
	shutdown := observability.InitOTel(ctx, log, otelCfg)
	metrics := observability.Init(log, cfg.Metrics.Enabled)

	clients, err := wireClients(ctx, log, cfg)
	if err != nil {
		_ = shutdown(ctx)
		log.Sync()
		return nil, err
	}
	theDB := clients.DB.DB()
	reposet := wireRepos(theDB, log)

	serviceset, err := wireServices(theDB, log, cfg, clients, reposet, metrics)
	if err != nil {
		clients.Close(ctx)
		_ = shutdown(ctx)
		log.Sync()
		return nil, err
	}

	handlerset := wireHandlers(log, clients, serviceset)
	router := wireRouter(log, cfg, metrics, handlerset)

	return &App{
		Log:          log,
		Cfg:          cfg,
		Clients:      clients,
		Repos:        reposet,
		Services:     serviceset,
		Metrics:      metrics,
		Router:       router,
		otelShutdown: shutdown,
	}, nil
}

// Serve runs the HTTP API together with the outbox relay and the projection consumers until ctx
// ends.
func (a *App) Serve(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	a.startCollectors(ctx)
	g.Go(func() error {
		srv := http.NewServer(a.Router)
		a.Log.Info("http server listening", "addr", a.Cfg.HTTP.Addr)
		return srv.Run(ctx, a.Cfg.HTTP.Addr)
	})
	a.startPipeline(ctx, g)
	return g.Wait()
}

// Work runs only the outbox relay and projection consumers.
func (a *App) Work(ctx context.Context) error {
	if a.Cfg.Fanout.Broker == BrokerMemory {
		a.Log.Warn("worker started with the memory broker; only events written by this process are delivered")
	}
	g, ctx := errgroup.WithContext(ctx)
	a.startCollectors(ctx)
	a.Metrics.StartServer(ctx, a.Log, a.Cfg.Metrics.Addr)
	a.startPipeline(ctx, g)
	return g.Wait()
}

func (a *App) startPipeline(ctx context.Context, g *errgroup.Group) {
	g.Go(func() error { return a.Services.Relay.Run(ctx) })
	g.Go(func() error { return a.Services.Fanout.Run(ctx) })
}

func (a *App) startCollectors(ctx context.Context) {
	interval := a.Cfg.Metrics.CollectInterval
	a.Metrics.StartPostgresCollector(ctx, a.Log, a.Clients.DB.DB(), interval)
	if a.Clients.Redis != nil {
		a.Metrics.StartRedisCollector(ctx, a.Log, a.Clients.Redis, interval)
	}
	outbox := a.Repos.Outbox
	a.Metrics.StartOutboxCollector(ctx, a.Log, func(ctx context.Context) (int64, error) {
		return outbox.CountUnpublished(dbctx.New(ctx))
	}, interval)
}

// Replay rebuilds the named projections (all when empty) from the record store.
func (a *App) Replay(ctx context.Context, names []string, reset bool) (fanout.ReplayStats, error) {
	return a.Services.Replayer.Replay(ctx, names, reset)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.Clients.Close(ctx)
	if a.otelShutdown != nil {
		_ = a.otelShutdown(ctx)
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}

// Migrate opens the configured database and applies the schema without wiring anything else.
func Migrate(cfg Config, log *logger.Logger) error {
	pg, err := db.NewPostgresService(log, cfg.DB.Config)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	defer pg.Close()
	if err := db.AutoMigrateAll(pg.DB()); err != nil {
		return fmt.Errorf("automigrate: %w", err)
	}
	log.Info("schema migrated", "driver", cfg.DB.Driver)
	return nil
}
