package annotation

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	apperrors "github.com/yungbote/ontomap-backend/internal/pkg/errors"
)

type Property struct {
	Type  string `gorm:"column:property_type;index" json:"property_type,omitempty"`
	Value string `gorm:"column:property_value;not null;index" json:"property_value"`
}

// Annotation is a single curated fact. It is create-only: the ID is assigned on first write
// and Quality is fixed by NewAnnotation.
type Annotation struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`

	Property Property `gorm:"embedded" json:"property"`

	SemanticTags     []string       `gorm:"-" json:"semantic_tags"`
	SemanticTagsJSON datatypes.JSON `gorm:"column:semantic_tags" json:"-"`

	// Entities are referenced by ID; see BiologicalEntity.
	BiologicalEntityIDs     []uuid.UUID    `gorm:"-" json:"biological_entity_ids,omitempty"`
	BiologicalEntityIDsJSON datatypes.JSON `gorm:"column:biological_entity_ids" json:"-"`

	Provenance Provenance `gorm:"embedded" json:"provenance"`
	Quality    float64    `gorm:"column:quality;not null" json:"quality"`
	BatchLoad  bool       `gorm:"column:batch_load;not null;default:false" json:"batch_load"`

	CreatedAt time.Time `gorm:"column:created_at;not null;index" json:"created_at"`
}

func (Annotation) TableName() string { return "annotation" }

func (a *Annotation) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return a.encodeLists()
}

func (a *Annotation) AfterFind(tx *gorm.DB) error {
	return a.decodeLists()
}

func (a *Annotation) encodeLists() error {
	tags := a.SemanticTags
	if tags == nil {
		tags = []string{}
	}
	raw, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("encode semantic tags: %w", err)
	}
	a.SemanticTagsJSON = datatypes.JSON(raw)

	ids := a.BiologicalEntityIDs
	if ids == nil {
		ids = []uuid.UUID{}
	}
	raw, err = json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("encode entity ids: %w", err)
	}
	a.BiologicalEntityIDsJSON = datatypes.JSON(raw)
	return nil
}

func (a *Annotation) decodeLists() error {
	a.SemanticTags = []string{}
	if len(a.SemanticTagsJSON) > 0 {
		if err := json.Unmarshal(a.SemanticTagsJSON, &a.SemanticTags); err != nil {
			return fmt.Errorf("decode semantic tags: %w", err)
		}
	}
	a.BiologicalEntityIDs = nil
	if len(a.BiologicalEntityIDsJSON) > 0 {
		if err := json.Unmarshal(a.BiologicalEntityIDsJSON, &a.BiologicalEntityIDs); err != nil {
			return fmt.Errorf("decode entity ids: %w", err)
		}
	}
	return nil
}

// HasMapping is false for "property seen, no mapping known".
func (a *Annotation) HasMapping() bool { return len(a.SemanticTags) > 0 }

type Input struct {
	PropertyType        string
	PropertyValue       string
	SemanticTags        []string
	BiologicalEntityIDs []uuid.UUID
	Provenance          Provenance
	BatchLoad           bool
}

// NewAnnotation validates in and computes Quality from the provenance. The ID is left nil until
// the record store writes it.
func NewAnnotation(in Input) (*Annotation, error) {
	value := strings.TrimSpace(in.PropertyValue)
	if value == "" {
		return nil, apperrors.Validation("annotation: property value is required")
	}
	if strings.TrimSpace(in.Provenance.Source.Name) == "" || in.Provenance.GeneratedDate.IsZero() {
		return nil, apperrors.Validation("annotation: provenance must be built with NewProvenance")
	}
	return &Annotation{
		Property: Property{
			Type:  strings.TrimSpace(in.PropertyType),
			Value: value,
		},
		SemanticTags:        NormalizeTags(in.SemanticTags),
		BiologicalEntityIDs: dedupeIDs(in.BiologicalEntityIDs),
		Provenance:          in.Provenance,
		Quality:             Quality(in.Provenance.Evidence, in.Provenance.Accuracy),
		BatchLoad:           in.BatchLoad,
	}, nil
}

// NormalizeTags trims, drops blanks, dedupes and sorts semantic tag URIs.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func dedupeIDs(ids []uuid.UUID) []uuid.UUID {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// NormalizeValue is the comparison form of a property type or value.
func NormalizeValue(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
