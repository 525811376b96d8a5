package annotation

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/yungbote/ontomap-backend/internal/pkg/errors"
)

// Event is the fanout payload for one committed annotation.
type Event struct {
	ID                 uuid.UUID   `json:"id"`
	BiologicalEntities []EntityRef `json:"biological_entities,omitempty"`
	PropertyType       string      `json:"property_type,omitempty"`
	PropertyValue      string      `json:"property_value"`
	SemanticTags       []string    `json:"semantic_tags"`
	Provenance         Provenance  `json:"provenance"`
	Quality            float64     `json:"quality"`
	BatchLoad          bool        `json:"batch_load"`
	CreatedAt          time.Time   `json:"created_at"`
}

func NewEvent(a *Annotation, entities []EntityRef) Event {
	tags := a.SemanticTags
	if tags == nil {
		tags = []string{}
	}
	return Event{
		ID:                 a.ID,
		BiologicalEntities: entities,
		PropertyType:       a.Property.Type,
		PropertyValue:      a.Property.Value,
		SemanticTags:       tags,
		Provenance:         a.Provenance,
		Quality:            a.Quality,
		BatchLoad:          a.BatchLoad,
		CreatedAt:          a.CreatedAt,
	}
}

func (e Event) Validate() error {
	if e.ID == uuid.Nil {
		return apperrors.Validation("event: annotation id is required")
	}
	if strings.TrimSpace(e.PropertyValue) == "" {
		return apperrors.Validation("event: property value is required")
	}
	if strings.TrimSpace(e.Provenance.Source.Name) == "" {
		return apperrors.Validation("event: source name is required")
	}
	return nil
}

func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

func DecodeEvent(raw []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(raw, &e); err != nil {
		return Event{}, fmt.Errorf("decode annotation event: %w", err)
	}
	if err := e.Validate(); err != nil {
		return Event{}, err
	}
	e.SemanticTags = NormalizeTags(e.SemanticTags)
	return e, nil
}
