package app

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	apperrors "github.com/yungbote/ontomap-backend/internal/pkg/errors"
	"github.com/yungbote/ontomap-backend/internal/prediction"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Fanout.Broker != BrokerMemory || cfg.Fanout.Group != "ontomap" || cfg.Fanout.MaxAttempts != 5 {
		t.Fatalf("fanout defaults: got=%+v", cfg.Fanout)
	}
	if cfg.Prediction.CutoffScore != prediction.DefaultCutoffScore || cfg.Prediction.CutoffPercentage != prediction.DefaultCutoffPercentage {
		t.Fatalf("prediction defaults: got=%+v", cfg.Prediction)
	}
	if cfg.Relay.Interval != time.Second || cfg.HTTP.Addr != ":8080" || cfg.DB.Driver != "postgres" {
		t.Fatalf("defaults: relay=%v addr=%q driver=%q", cfg.Relay.Interval, cfg.HTTP.Addr, cfg.DB.Driver)
	}
	if cfg.Relay.MaxAttempts != 10 || cfg.Relay.PublishTimeout != 10*time.Second || cfg.Relay.ClaimLease != time.Minute {
		t.Fatalf("relay defaults: got=%+v", cfg.Relay)
	}
}

func TestLoadConfigLayersFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ontomap.yaml")
	raw := []byte(`
fanout:
  broker: redis
  workers: 3
redis:
  addr: localhost:6379
prediction:
  cutoff_score: 0.9
db:
  driver: sqlite
  sqlite_path: /tmp/ontomap.db
`)
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("ONTOMAP_FANOUT_WORKERS", "4")
	t.Setenv("ONTOMAP_RELAY_INTERVAL", "250ms")
	t.Setenv("ONTOMAP_HTTP_CORS_ORIGINS", "http://a.test,http://b.test")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Fanout.Broker != BrokerRedis || cfg.Redis.Addr != "localhost:6379" {
		t.Fatalf("file values: broker=%q addr=%q", cfg.Fanout.Broker, cfg.Redis.Addr)
	}
	if cfg.Fanout.Workers != 4 {
		t.Fatalf("env should override file: got=%d want=4", cfg.Fanout.Workers)
	}
	if cfg.Relay.Interval != 250*time.Millisecond {
		t.Fatalf("relay interval: got=%v", cfg.Relay.Interval)
	}
	if cfg.Prediction.CutoffScore != 0.9 || cfg.Prediction.CutoffPercentage != prediction.DefaultCutoffPercentage {
		t.Fatalf("prediction: got=%+v", cfg.Prediction.Config)
	}
	if cfg.DB.Driver != "sqlite" || cfg.DB.SQLitePath != "/tmp/ontomap.db" {
		t.Fatalf("db: got=%+v", cfg.DB.Config)
	}
	if len(cfg.HTTP.CORSOrigins) != 2 || cfg.HTTP.CORSOrigins[1] != "http://b.test" {
		t.Fatalf("cors origins: got=%v", cfg.HTTP.CORSOrigins)
	}
}

func TestLoadConfigValidation(t *testing.T) {
	cases := map[string]map[string]string{
		"unknown broker":   {"ONTOMAP_FANOUT_BROKER": "kafka"},
		"redis no addr":    {"ONTOMAP_FANOUT_BROKER": "redis"},
		"nats no url":      {"ONTOMAP_FANOUT_BROKER": "nats"},
		"cutoff too high":  {"ONTOMAP_PREDICTION_CUTOFF_SCORE": "1.5"},
		"cutoff zero":      {"ONTOMAP_PREDICTION_CUTOFF_PERCENTAGE": "0"},
		"unknown driver":   {"ONTOMAP_DB_DRIVER": "oracle"},
		"negative workers": {"ONTOMAP_FANOUT_WORKERS": "-1"},
		"negative relay":   {"ONTOMAP_RELAY_MAX_ATTEMPTS": "-1"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			if _, err := LoadConfig(""); !errors.Is(err, apperrors.ErrValidation) {
				t.Fatalf("got=%v want=%v", err, apperrors.ErrValidation)
			}
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("missing config file should fail")
	}
}

func TestRedacted(t *testing.T) {
	var cfg Config
	cfg.DB.Password = "pg-secret"
	cfg.Redis.Password = "redis-secret"
	out := cfg.Redacted()
	if out.DB.Password != redacted || out.Redis.Password != redacted || out.Neo4j.Password != "" {
		t.Fatalf("redacted: got=%q %q %q", out.DB.Password, out.Redis.Password, out.Neo4j.Password)
	}
	if cfg.DB.Password != "pg-secret" {
		t.Fatalf("Redacted must not modify the receiver")
	}
}
