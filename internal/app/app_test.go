package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yungbote/ontomap-backend/internal/data/repos/summaries"
	"github.com/yungbote/ontomap-backend/internal/domain/annotation"
	"github.com/yungbote/ontomap-backend/internal/pkg/dbctx"
	"github.com/yungbote/ontomap-backend/internal/platform/logger"
	"github.com/yungbote/ontomap-backend/internal/prediction"
	"github.com/yungbote/ontomap-backend/internal/services"
)

var appSeq atomic.Int64

func testConfig(t *testing.T) Config {
	t.Helper()
	t.Setenv("ONTOMAP_DB_DRIVER", "sqlite")
	t.Setenv("ONTOMAP_DB_SQLITE_PATH", fmt.Sprintf("file:ontomap_app_%d?mode=memory&cache=shared", appSeq.Add(1)))
	t.Setenv("ONTOMAP_METRICS_ENABLED", "false")
	t.Setenv("ONTOMAP_FANOUT_FETCH_WAIT", "20ms")
	t.Setenv("ONTOMAP_FANOUT_RETRY_BASE", "5ms")
	t.Setenv("ONTOMAP_RELAY_INTERVAL", "20ms")
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	return cfg
}

func liver(source string) services.SubmitInput {
	return services.SubmitInput{
		PropertyType:  "organism part",
		PropertyValue: "liver",
		SemanticTags:  []string{"http://purl.obolibrary.org/obo/UBERON_0002107"},
		Entities:      []services.EntityInput{{Name: "sample-1", StudyAccession: "E-MTAB-513"}},
		Provenance: annotation.ProvenanceInput{
			SourceName: source,
			SourceType: "DATABASE",
			Evidence:   "MANUAL_CURATED",
			Accuracy:   "PRECISE",
		},
	}
}

func TestSubmitFlowsThroughFanoutIntoPredictions(t *testing.T) {
	cfg := testConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := NewWithLogger(ctx, cfg, logger.Nop())
	if err != nil {
		t.Fatalf("NewWithLogger: %v", err)
	}
	defer a.Close()

	done := make(chan error, 1)
	go func() { done <- a.Work(ctx) }()

	for _, source := range []string{"atlas", "gwas"} {
		if _, err := a.Services.Annotations.Submit(ctx, liver(source)); err != nil {
			t.Fatalf("Submit %s: %v", source, err)
		}
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		rows, err := a.Repos.Summaries.Find(dbctx.New(ctx), summaries.Query{PropertyValue: "liver"})
		if err != nil {
			t.Fatalf("Find: %v", err)
		}
		if len(rows) == 1 && rows[0].VoteCount == 2 {
			if rows[0].SourceCount != 2 {
				t.Fatalf("summary sources: got=%d want=2", rows[0].SourceCount)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("summary never reached two votes: %+v", rows)
		}
		time.Sleep(10 * time.Millisecond)
	}

	preds, err := a.Services.Engine.Predict(ctx, prediction.Query{PropertyValue: " Liver "})
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if len(preds) != 1 || preds[0].Confidence != prediction.ConfidenceHigh || preds[0].MatchedValue != "liver" {
		t.Fatalf("predictions: got=%+v", preds)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/predictions?propertyValue=liver", nil)
	rec := httptest.NewRecorder()
	a.Router.ServeHTTP(rec, req)
	var body struct {
		Predictions []prediction.Prediction `json:"predictions"`
		Confidence  prediction.Confidence   `json:"confidence"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Code != http.StatusOK || body.Confidence != prediction.ConfidenceHigh || len(body.Predictions) != 1 {
		t.Fatalf("GET /api/predictions: status=%d body=%s", rec.Code, rec.Body.String())
	}

	stats, err := a.Replay(ctx, nil, true)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if stats.Events != 2 || stats.Applied != 2 {
		t.Fatalf("replay stats: got=%+v", stats)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Work: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Work did not stop after cancel")
	}
}

func TestMigrate(t *testing.T) {
	cfg := testConfig(t)
	if err := Migrate(cfg, logger.Nop()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
}
