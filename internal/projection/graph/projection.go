package graph

import (
	"context"
	"fmt"
	"sync"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/yungbote/ontomap-backend/internal/domain/annotation"
	"github.com/yungbote/ontomap-backend/internal/platform/logger"
	"github.com/yungbote/ontomap-backend/internal/platform/neo4jdb"
)

const Name = "graph"

// Projection mirrors annotations into neo4j.
type Projection struct {
	log    *logger.Logger
	client *neo4jdb.Client

	schemaOnce sync.Once
}

func New(baseLog *logger.Logger, client *neo4jdb.Client) *Projection {
	return &Projection{log: baseLog.With("projection", Name), client: client}
}

func (p *Projection) Name() string { return Name }

// EnsureSchema creates uniqueness constraints. Failures are logged, not returned.
func (p *Projection) EnsureSchema(ctx context.Context) {
	if p.client == nil || p.client.Driver == nil {
		return
	}
	session := p.client.WriteSession(ctx)
	defer session.Close(ctx)
	for _, q := range schemaStatements {
		res, err := session.Run(ctx, q, nil)
		if err != nil {
			p.log.Warn("neo4j schema init failed (continuing)", "error", err)
			continue
		}
		_, _ = res.Consume(ctx)
	}
}

// Apply writes e in one transaction, skipping annotations already present.
func (p *Projection) Apply(ctx context.Context, e annotation.Event) error {
	if p.client == nil || p.client.Driver == nil {
		return fmt.Errorf("graph projection: neo4j not configured")
	}
	p.schemaOnce.Do(func() { p.EnsureSchema(ctx) })

	stmts := BuildStatements(e)
	session := p.client.WriteSession(ctx)
	defer session.Close(ctx)

	skipped, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		skipped, err := writeEvent(ctx, managedRunner{tx}, e.ID.String(), stmts)
		return skipped, err
	})
	if err != nil {
		return fmt.Errorf("graph projection apply %s: %w", e.ID, err)
	}
	if s, _ := skipped.(bool); s {
		p.log.Debug("annotation already in graph", "annotation_id", e.ID)
	}
	return nil
}

// cypherResult and cypherRunner are the parts of a managed transaction writeEvent uses.
type cypherResult interface {
	Single(ctx context.Context) (*neo4j.Record, error)
	Consume(ctx context.Context) (neo4j.ResultSummary, error)
}

type cypherRunner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (cypherResult, error)
}

type managedRunner struct{ tx neo4j.ManagedTransaction }

func (r managedRunner) Run(ctx context.Context, cypher string, params map[string]any) (cypherResult, error) {
	return r.tx.Run(ctx, cypher, params)
}

// writeEvent runs stmts unless the annotation node already exists. It reports whether the
// event was skipped.
func writeEvent(ctx context.Context, tx cypherRunner, id string, stmts []Statement) (bool, error) {
	res, err := tx.Run(ctx, existsCypher, map[string]any{"id": id})
	if err != nil {
		return false, err
	}
	rec, err := res.Single(ctx)
	if err != nil {
		return false, err
	}
	if n, _ := rec.Get("n"); toInt64(n) > 0 {
		return true, nil
	}
	for _, st := range stmts {
		res, err := tx.Run(ctx, st.Cypher, st.Params)
		if err != nil {
			return false, err
		}
		if _, err := res.Consume(ctx); err != nil {
			return false, err
		}
	}
	return false, nil
}

// Reset deletes every node this projection owns.
func (p *Projection) Reset(ctx context.Context) error {
	if p.client == nil || p.client.Driver == nil {
		return fmt.Errorf("graph projection: neo4j not configured")
	}
	session := p.client.WriteSession(ctx)
	defer session.Close(ctx)
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (n)
WHERE n:Annotation OR n:Property OR n:SemanticTag OR n:BiologicalEntity OR n:Study OR n:Source
DETACH DELETE n
`, nil)
		if err != nil {
			return nil, err
		}
		return res.Consume(ctx)
	})
	return err
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}
