package annotation

import (
	"strings"
	"time"

	apperrors "github.com/yungbote/ontomap-backend/internal/pkg/errors"
)

type SourceType string

const (
	SourceTypeDatabase SourceType = "DATABASE"
	SourceTypeOntology SourceType = "ONTOLOGY"
)

func ParseSourceType(s string) (SourceType, bool) {
	switch SourceType(strings.ToUpper(strings.TrimSpace(s))) {
	case SourceTypeDatabase:
		return SourceTypeDatabase, true
	case SourceTypeOntology:
		return SourceTypeOntology, true
	}
	return "", false
}

// Evidence classes, strongest first.
type Evidence string

const (
	EvidenceManualCurated        Evidence = "MANUAL_CURATED"
	EvidenceSubmitterProvided    Evidence = "SUBMITTER_PROVIDED"
	EvidenceInferredFromCurated  Evidence = "INFERRED_FROM_CURATED"
	EvidenceComputedFromOntology Evidence = "COMPUTED_FROM_ONTOLOGY"
	EvidenceAutomatic            Evidence = "AUTOMATIC"
	EvidenceNonCurated           Evidence = "NON_CURATED"
	EvidenceUnknown              Evidence = "UNKNOWN"
)

var evidenceWeights = map[Evidence]float64{
	EvidenceManualCurated:        1.0,
	EvidenceSubmitterProvided:    0.9,
	EvidenceInferredFromCurated:  0.8,
	EvidenceComputedFromOntology: 0.7,
	EvidenceAutomatic:            0.6,
	EvidenceNonCurated:           0.5,
	EvidenceUnknown:              0.4,
}

func ParseEvidence(s string) (Evidence, bool) {
	e := Evidence(strings.ToUpper(strings.TrimSpace(s)))
	if e == "" {
		return EvidenceUnknown, true
	}
	_, ok := evidenceWeights[e]
	return e, ok
}

type Accuracy string

const (
	AccuracyPrecise      Accuracy = "PRECISE"
	AccuracyNotSpecified Accuracy = "NOT_SPECIFIED"
	AccuracyBroad        Accuracy = "BROAD"
	AccuracyNarrow       Accuracy = "NARROW"
)

var accuracyWeights = map[Accuracy]float64{
	AccuracyPrecise:      1.0,
	AccuracyNotSpecified: 0.9,
	AccuracyBroad:        0.8,
	AccuracyNarrow:       0.8,
}

func ParseAccuracy(s string) (Accuracy, bool) {
	a := Accuracy(strings.ToUpper(strings.TrimSpace(s)))
	if a == "" {
		return AccuracyNotSpecified, true
	}
	_, ok := accuracyWeights[a]
	return a, ok
}

// Quality is evidence weight times accuracy weight, so it lies in (0,1].
func Quality(e Evidence, a Accuracy) float64 {
	ew, ok := evidenceWeights[e]
	if !ok {
		ew = evidenceWeights[EvidenceUnknown]
	}
	aw, ok := accuracyWeights[a]
	if !ok {
		aw = accuracyWeights[AccuracyNotSpecified]
	}
	return ew * aw
}

type Source struct {
	Name  string     `gorm:"column:name;not null;index" json:"name"`
	Topic string     `gorm:"column:topic" json:"topic,omitempty"`
	Type  SourceType `gorm:"column:type;not null" json:"type"`
	URI   string     `gorm:"column:uri" json:"uri,omitempty"`
}

type Provenance struct {
	Source         Source     `gorm:"embedded;embeddedPrefix:source_" json:"source"`
	Evidence       Evidence   `gorm:"column:evidence;not null" json:"evidence"`
	Accuracy       Accuracy   `gorm:"column:accuracy;not null" json:"accuracy"`
	Generator      string     `gorm:"column:generator" json:"generator,omitempty"`
	Annotator      string     `gorm:"column:annotator" json:"annotator,omitempty"`
	AnnotationDate *time.Time `gorm:"column:annotation_date" json:"annotation_date,omitempty"`
	GeneratedDate  time.Time  `gorm:"column:generated_date;not null" json:"generated_date"`
}

type ProvenanceInput struct {
	SourceName     string     `json:"source_name"`
	SourceTopic    string     `json:"source_topic,omitempty"`
	SourceType     string     `json:"source_type"`
	SourceURI      string     `json:"source_uri,omitempty"`
	Evidence       string     `json:"evidence,omitempty"`
	Accuracy       string     `json:"accuracy,omitempty"`
	Generator      string     `json:"generator,omitempty"`
	Annotator      string     `json:"annotator,omitempty"`
	AnnotationDate *time.Time `json:"annotation_date,omitempty"`
	GeneratedDate  *time.Time `json:"generated_date,omitempty"`
}

// NewProvenance validates in and returns an immutable provenance value.
// GeneratedDate defaults to now when unset.
func NewProvenance(in ProvenanceInput, now time.Time) (Provenance, error) {
	name := strings.TrimSpace(in.SourceName)
	if name == "" {
		return Provenance{}, apperrors.Validation("provenance: source name is required")
	}
	st, ok := ParseSourceType(in.SourceType)
	if !ok {
		return Provenance{}, apperrors.Validationf("provenance: source type %q must be DATABASE or ONTOLOGY", in.SourceType)
	}
	ev, ok := ParseEvidence(in.Evidence)
	if !ok {
		return Provenance{}, apperrors.Validationf("provenance: unknown evidence %q", in.Evidence)
	}
	acc, ok := ParseAccuracy(in.Accuracy)
	if !ok {
		return Provenance{}, apperrors.Validationf("provenance: unknown accuracy %q", in.Accuracy)
	}

	generated := now.UTC()
	if in.GeneratedDate != nil && !in.GeneratedDate.IsZero() {
		generated = in.GeneratedDate.UTC()
	}
	var annotated *time.Time
	if in.AnnotationDate != nil && !in.AnnotationDate.IsZero() {
		t := in.AnnotationDate.UTC()
		annotated = &t
	}

	return Provenance{
		Source: Source{
			Name:  name,
			Topic: strings.TrimSpace(in.SourceTopic),
			Type:  st,
			URI:   strings.TrimSpace(in.SourceURI),
		},
		Evidence:       ev,
		Accuracy:       acc,
		Generator:      strings.TrimSpace(in.Generator),
		Annotator:      strings.TrimSpace(in.Annotator),
		AnnotationDate: annotated,
		GeneratedDate:  generated,
	}, nil
}
