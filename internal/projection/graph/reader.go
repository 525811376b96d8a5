package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/yungbote/ontomap-backend/internal/platform/neo4jdb"
)

type EntityNode struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	URI            string `json:"uri,omitempty"`
	StudyAccession string `json:"study_accession,omitempty"`
}

// Reader answers traversal queries over the graph projection.
type Reader struct {
	client *neo4jdb.Client
}

func NewReader(client *neo4jdb.Client) *Reader {
	return &Reader{client: client}
}

func (r *Reader) Enabled() bool { return r != nil && r.client != nil && r.client.Driver != nil }

func (r *Reader) SemanticTagsForEntity(ctx context.Context, entityID uuid.UUID) ([]string, error) {
	recs, err := r.read(ctx, `
MATCH (:BiologicalEntity {id: $id})<-[:ANNOTATES]-(:Annotation)-[:HAS_SEMANTIC_TAG]->(t:SemanticTag)
RETURN DISTINCT t.uri AS uri
ORDER BY uri
`, map[string]any{"id": entityID.String()})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(recs))
	for _, rec := range recs {
		out = append(out, stringField(rec, "uri"))
	}
	return out, nil
}

func (r *Reader) EntitiesForSemanticTag(ctx context.Context, uri string) ([]EntityNode, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return []EntityNode{}, nil
	}
	recs, err := r.read(ctx, `
MATCH (:SemanticTag {uri: $uri})<-[:HAS_SEMANTIC_TAG]-(:Annotation)-[:ANNOTATES]->(be:BiologicalEntity)
OPTIONAL MATCH (be)-[:PART_OF]->(st:Study)
RETURN DISTINCT be.id AS id, be.name AS name, be.uri AS uri, st.accession AS study
ORDER BY name, id
`, map[string]any{"uri": uri})
	if err != nil {
		return nil, err
	}
	out := make([]EntityNode, 0, len(recs))
	for _, rec := range recs {
		out = append(out, EntityNode{
			ID:             stringField(rec, "id"),
			Name:           stringField(rec, "name"),
			URI:            stringField(rec, "uri"),
			StudyAccession: stringField(rec, "study"),
		})
	}
	return out, nil
}

func (r *Reader) read(ctx context.Context, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	if !r.Enabled() {
		return nil, fmt.Errorf("graph reader: neo4j not configured")
	}
	session := r.client.ReadSession(ctx)
	defer session.Close(ctx)
	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, err
	}
	recs, _ := out.([]*neo4j.Record)
	return recs, nil
}

func stringField(rec *neo4j.Record, key string) string {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return ""
	}
	s, _ := v.(string)
	return s
}
