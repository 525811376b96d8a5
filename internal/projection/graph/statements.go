package graph

import (
	"time"

	"github.com/yungbote/ontomap-backend/internal/domain/annotation"
)

// Statement is one parameterised Cypher write.
type Statement struct {
	Cypher string
	Params map[string]any
}

var schemaStatements = []string{
	`CREATE CONSTRAINT annotation_id_unique IF NOT EXISTS FOR (a:Annotation) REQUIRE a.id IS UNIQUE`,
	`CREATE CONSTRAINT property_key_unique IF NOT EXISTS FOR (p:Property) REQUIRE p.key IS UNIQUE`,
	`CREATE CONSTRAINT semantic_tag_uri_unique IF NOT EXISTS FOR (t:SemanticTag) REQUIRE t.uri IS UNIQUE`,
	`CREATE CONSTRAINT biological_entity_id_unique IF NOT EXISTS FOR (e:BiologicalEntity) REQUIRE e.id IS UNIQUE`,
	`CREATE CONSTRAINT study_id_unique IF NOT EXISTS FOR (s:Study) REQUIRE s.id IS UNIQUE`,
	`CREATE CONSTRAINT source_name_unique IF NOT EXISTS FOR (s:Source) REQUIRE s.name IS UNIQUE`,
}

const existsCypher = `MATCH (a:Annotation {id: $id}) RETURN count(a) AS n`

// BuildStatements renders the writes that mirror e as
// entity -> property -> semantic tag, with provenance hanging off the annotation.
// Every statement MERGEs, so replaying them is harmless.
func BuildStatements(e annotation.Event) []Statement {
	id := e.ID.String()
	propKey := annotation.NormalizeValue(e.PropertyType) + "\x1f" + annotation.NormalizeValue(e.PropertyValue)
	prov := e.Provenance

	annParams := map[string]any{
		"id":              id,
		"quality":         e.Quality,
		"batch_load":      e.BatchLoad,
		"created_at":      formatTime(e.CreatedAt),
		"evidence":        string(prov.Evidence),
		"accuracy":        string(prov.Accuracy),
		"generator":       prov.Generator,
		"annotator":       prov.Annotator,
		"generated_date":  formatTime(prov.GeneratedDate),
		"annotation_date": "",
		"prop_key":        propKey,
		"prop_type":       e.PropertyType,
		"prop_value":      e.PropertyValue,
		"source_name":     prov.Source.Name,
		"source_type":     string(prov.Source.Type),
		"source_uri":      prov.Source.URI,
		"source_topic":    prov.Source.Topic,
	}
	if prov.AnnotationDate != nil {
		annParams["annotation_date"] = formatTime(*prov.AnnotationDate)
	}

	out := []Statement{{
		Cypher: `
MERGE (a:Annotation {id: $id})
SET a.quality = $quality,
    a.batch_load = $batch_load,
    a.created_at = $created_at,
    a.evidence = $evidence,
    a.accuracy = $accuracy,
    a.generator = $generator,
    a.annotator = $annotator,
    a.generated_date = $generated_date,
    a.annotation_date = $annotation_date
MERGE (p:Property {key: $prop_key})
ON CREATE SET p.type = $prop_type, p.value = $prop_value
MERGE (a)-[:HAS_PROPERTY]->(p)
MERGE (s:Source {name: $source_name})
SET s.type = $source_type, s.uri = $source_uri, s.topic = $source_topic
MERGE (a)-[:HAS_PROVENANCE]->(s)
`,
		Params: annParams,
	}}

	if len(e.SemanticTags) > 0 {
		out = append(out, Statement{
			Cypher: `
UNWIND $tags AS uri
MERGE (t:SemanticTag {uri: uri})
WITH t
MATCH (a:Annotation {id: $id})-[:HAS_PROPERTY]->(p:Property)
MERGE (a)-[:HAS_SEMANTIC_TAG]->(t)
MERGE (p)-[:MAPPED_TO]->(t)
`,
			Params: map[string]any{"id": id, "tags": append([]string{}, e.SemanticTags...)},
		})
	}

	if len(e.BiologicalEntities) > 0 {
		rows := make([]map[string]any, 0, len(e.BiologicalEntities))
		for _, be := range e.BiologicalEntities {
			studyID := ""
			if be.StudyID != nil {
				studyID = be.StudyID.String()
			}
			rows = append(rows, map[string]any{
				"id":              be.ID.String(),
				"name":            be.Name,
				"uri":             be.URI,
				"study_id":        studyID,
				"study_accession": be.StudyAccession,
			})
		}
		out = append(out, Statement{
			Cypher: `
UNWIND $entities AS e
MERGE (be:BiologicalEntity {id: e.id})
SET be.name = e.name, be.uri = e.uri
WITH be, e
MATCH (a:Annotation {id: $id})-[:HAS_PROPERTY]->(p:Property)
MERGE (a)-[:ANNOTATES]->(be)
MERGE (be)-[:HAS_PROPERTY]->(p)
WITH be, e
WHERE e.study_id <> ''
MERGE (st:Study {id: e.study_id})
SET st.accession = e.study_accession
MERGE (be)-[:PART_OF]->(st)
`,
			Params: map[string]any{"id": id, "entities": rows},
		})
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
