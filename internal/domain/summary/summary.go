package summary

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/ontomap-backend/internal/domain/annotation"
)

// AnnotationSummary aggregates every annotation sharing (type, value, tags).
//
// VoteCount and SourceCount only grow. Quality is the max of the contributing annotation
// qualities.
type AnnotationSummary struct {
	ID  uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Key string    `gorm:"column:summary_key;not null;uniqueIndex" json:"key"`

	PropertyType    string `gorm:"column:property_type;index" json:"property_type,omitempty"`
	PropertyValue   string `gorm:"column:property_value;not null" json:"property_value"`
	NormalizedType  string `gorm:"column:normalized_type;index" json:"-"`
	NormalizedValue string `gorm:"column:normalized_value;not null;index" json:"-"`

	SemanticTags     []string       `gorm:"-" json:"semantic_tags"`
	SemanticTagsJSON datatypes.JSON `gorm:"column:semantic_tags" json:"-"`

	VoteCount   int     `gorm:"column:vote_count;not null;default:0" json:"vote_count"`
	SourceCount int     `gorm:"column:source_count;not null;default:0" json:"source_count"`
	Quality     float64 `gorm:"column:quality;not null;default:0" json:"quality"`

	// Loaded from the membership tables on read.
	AnnotationIDs []uuid.UUID `gorm:"-" json:"annotation_ids"`
	SourceNames   []string    `gorm:"-" json:"source_names"`

	CreatedAt time.Time `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null" json:"updated_at"`
}

func (AnnotationSummary) TableName() string { return "annotation_summary" }

func (s *AnnotationSummary) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	tags := s.SemanticTags
	if tags == nil {
		tags = []string{}
	}
	raw, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("encode summary tags: %w", err)
	}
	s.SemanticTagsJSON = datatypes.JSON(raw)
	return nil
}

func (s *AnnotationSummary) AfterFind(tx *gorm.DB) error {
	s.SemanticTags = []string{}
	if len(s.SemanticTagsJSON) == 0 {
		return nil
	}
	if err := json.Unmarshal(s.SemanticTagsJSON, &s.SemanticTags); err != nil {
		return fmt.Errorf("decode summary tags: %w", err)
	}
	return nil
}

// Member records that an annotation has been merged into a summary.
type Member struct {
	SummaryID    uuid.UUID `gorm:"type:uuid;column:summary_id;primaryKey" json:"summary_id"`
	AnnotationID uuid.UUID `gorm:"type:uuid;column:annotation_id;primaryKey" json:"annotation_id"`
	CreatedAt    time.Time `gorm:"column:created_at;not null" json:"created_at"`
}

func (Member) TableName() string { return "annotation_summary_member" }

// Source records a distinct contributing source name.
type Source struct {
	SummaryID  uuid.UUID `gorm:"type:uuid;column:summary_id;primaryKey" json:"summary_id"`
	SourceName string    `gorm:"column:source_name;primaryKey" json:"source_name"`
	CreatedAt  time.Time `gorm:"column:created_at;not null" json:"created_at"`
}

func (Source) TableName() string { return "annotation_summary_source" }

// Key identifies a summary by normalised type, value and sorted tag set.
func Key(propertyType, propertyValue string, tags []string) string {
	h := sha256.New()
	h.Write([]byte(annotation.NormalizeValue(propertyType)))
	h.Write([]byte{0x1f})
	h.Write([]byte(annotation.NormalizeValue(propertyValue)))
	h.Write([]byte{0x1f})
	h.Write([]byte(strings.Join(annotation.NormalizeTags(tags), "\x1e")))
	return hex.EncodeToString(h.Sum(nil))
}

// FromEvent builds the initial (zero-vote) row for an event's key.
func FromEvent(e annotation.Event) *AnnotationSummary {
	tags := annotation.NormalizeTags(e.SemanticTags)
	return &AnnotationSummary{
		Key:             Key(e.PropertyType, e.PropertyValue, tags),
		PropertyType:    strings.TrimSpace(e.PropertyType),
		PropertyValue:   strings.TrimSpace(e.PropertyValue),
		NormalizedType:  annotation.NormalizeValue(e.PropertyType),
		NormalizedValue: annotation.NormalizeValue(e.PropertyValue),
		SemanticTags:    tags,
	}
}
