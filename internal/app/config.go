package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/yungbote/ontomap-backend/internal/data/db"
	"github.com/yungbote/ontomap-backend/internal/fanout"
	"github.com/yungbote/ontomap-backend/internal/fanout/natsjs"
	"github.com/yungbote/ontomap-backend/internal/fanout/redisstream"
	"github.com/yungbote/ontomap-backend/internal/observability"
	apperrors "github.com/yungbote/ontomap-backend/internal/pkg/errors"
	"github.com/yungbote/ontomap-backend/internal/platform/neo4jdb"
	"github.com/yungbote/ontomap-backend/internal/prediction"
)

const EnvPrefix = "ONTOMAP"

const (
	BrokerMemory = "memory"
	BrokerRedis  = "redis"
	BrokerNATS   = "nats"
)

type LogConfig struct {
	Mode  string `mapstructure:"mode" yaml:"mode"`
	Level string `mapstructure:"level" yaml:"level"`
}

type HTTPConfig struct {
	Addr        string   `mapstructure:"addr" yaml:"addr"`
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins"`
}

type DBConfig struct {
	db.Config   `mapstructure:",squash" yaml:",inline"`
	AutoMigrate bool `mapstructure:"auto_migrate" yaml:"auto_migrate"`
}

type FanoutConfig struct {
	// Broker selects the transport: memory, redis or nats.
	Broker        string `mapstructure:"broker" yaml:"broker"`
	fanout.Config `mapstructure:",squash" yaml:",inline"`
}

type PredictionConfig struct {
	prediction.Config `mapstructure:",squash" yaml:",inline"`
	// RetrieveLimit caps summaries fetched per query; 0 uses the repo default.
	RetrieveLimit int           `mapstructure:"retrieve_limit" yaml:"retrieve_limit"`
	Workers       int           `mapstructure:"workers" yaml:"workers"`
	MemoTTL       time.Duration `mapstructure:"memo_ttl" yaml:"memo_ttl"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Addr serves /metrics on a separate listener when set (worker mode has no HTTP API).
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	CollectInterval time.Duration `mapstructure:"collect_interval" yaml:"collect_interval"`
}

type Config struct {
	Log        LogConfig                `mapstructure:"log" yaml:"log"`
	HTTP       HTTPConfig               `mapstructure:"http" yaml:"http"`
	DB         DBConfig                 `mapstructure:"db" yaml:"db"`
	Redis      redisstream.Config       `mapstructure:"redis" yaml:"redis"`
	NATS       natsjs.Config            `mapstructure:"nats" yaml:"nats"`
	Neo4j      neo4jdb.Config           `mapstructure:"neo4j" yaml:"neo4j"`
	Fanout     FanoutConfig             `mapstructure:"fanout" yaml:"fanout"`
	Relay      fanout.RelayConfig       `mapstructure:"relay" yaml:"relay"`
	Prediction PredictionConfig         `mapstructure:"prediction" yaml:"prediction"`
	Metrics    MetricsConfig            `mapstructure:"metrics" yaml:"metrics"`
	OTel       observability.OtelConfig `mapstructure:"otel" yaml:"otel"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.mode", "development")
	v.SetDefault("log.level", "info")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.cors_origins", []string{})

	v.SetDefault("db.driver", "postgres")
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", "5432")
	v.SetDefault("db.user", "ontomap")
	v.SetDefault("db.password", "")
	v.SetDefault("db.name", "ontomap")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.sqlite_path", "ontomap.db")
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.auto_migrate", true)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.stream_prefix", "ontomap:")
	v.SetDefault("redis.max_len", 0)
	v.SetDefault("redis.claim_idle", 30*time.Second)

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.stream", "ANNOTATIONS")
	v.SetDefault("nats.ack_wait", 30*time.Second)
	v.SetDefault("nats.max_age", time.Duration(0))

	v.SetDefault("neo4j.uri", "")
	v.SetDefault("neo4j.user", "neo4j")
	v.SetDefault("neo4j.password", "")
	v.SetDefault("neo4j.database", "")

	fd := fanout.DefaultConfig()
	v.SetDefault("fanout.broker", BrokerMemory)
	v.SetDefault("fanout.group", fd.Group)
	v.SetDefault("fanout.consumer", "")
	v.SetDefault("fanout.workers", fd.Workers)
	v.SetDefault("fanout.batch_size", fd.BatchSize)
	v.SetDefault("fanout.fetch_wait", fd.FetchWait)
	v.SetDefault("fanout.max_attempts", fd.MaxAttempts)
	v.SetDefault("fanout.retry_base", fd.RetryBase)
	v.SetDefault("fanout.retry_max", fd.RetryMax)

	rd := fanout.DefaultRelayConfig()
	v.SetDefault("relay.batch_size", rd.BatchSize)
	v.SetDefault("relay.interval", rd.Interval)
	v.SetDefault("relay.rate_per_second", rd.RatePerSecond)
	v.SetDefault("relay.max_attempts", rd.MaxAttempts)
	v.SetDefault("relay.publish_timeout", rd.PublishTimeout)
	v.SetDefault("relay.claim_lease", rd.ClaimLease)

	pd := prediction.DefaultConfig()
	v.SetDefault("prediction.cutoff_percentage", pd.CutoffPercentage)
	v.SetDefault("prediction.cutoff_score", pd.CutoffScore)
	v.SetDefault("prediction.retrieve_limit", 0)
	v.SetDefault("prediction.workers", 8)
	v.SetDefault("prediction.memo_ttl", time.Hour)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.addr", "")
	v.SetDefault("metrics.collect_interval", 15*time.Second)

	v.SetDefault("otel.enabled", false)
	v.SetDefault("otel.service_name", "ontomap-backend")
	v.SetDefault("otel.environment", "development")
	v.SetDefault("otel.endpoint", "")
	v.SetDefault("otel.insecure", false)
	v.SetDefault("otel.sample_ratio", 1.0)
}

// LoadConfig layers defaults, an optional YAML file and ONTOMAP_* environment variables
// (ONTOMAP_DB_DRIVER overrides db.driver).
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path = strings.TrimSpace(path); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.HTTP.CORSOrigins = splitList(cfg.HTTP.CORSOrigins)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	switch c.Fanout.Broker {
	case BrokerMemory:
	case BrokerRedis:
		if strings.TrimSpace(c.Redis.Addr) == "" {
			errs = append(errs, apperrors.Validation("config: redis.addr is required for the redis broker"))
		}
	case BrokerNATS:
		if strings.TrimSpace(c.NATS.URL) == "" {
			errs = append(errs, apperrors.Validation("config: nats.url is required for the nats broker"))
		}
	default:
		errs = append(errs, apperrors.Validationf("config: unknown fanout.broker %q", c.Fanout.Broker))
	}
	switch strings.ToLower(c.DB.Driver) {
	case "postgres", "postgresql", "sqlite":
	default:
		errs = append(errs, apperrors.Validationf("config: unknown db.driver %q", c.DB.Driver))
	}
	if err := c.Prediction.Config.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Fanout.MaxAttempts < 0 || c.Fanout.Workers < 0 {
		errs = append(errs, apperrors.Validation("config: fanout workers and max_attempts must not be negative"))
	}
	if c.Relay.MaxAttempts < 0 {
		errs = append(errs, apperrors.Validation("config: relay.max_attempts must not be negative"))
	}
	return errors.Join(errs...)
}

const redacted = "******"

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	if c.DB.Password != "" {
		c.DB.Password = redacted
	}
	if c.Redis.Password != "" {
		c.Redis.Password = redacted
	}
	if c.Neo4j.Password != "" {
		c.Neo4j.Password = redacted
	}
	return c
}

// splitList accepts comma-separated env values ("a,b") as well as YAML lists.
func splitList(in []string) []string {
	var out []string
	for _, raw := range in {
		for _, part := range strings.Split(raw, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
