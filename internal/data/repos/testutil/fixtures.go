package testutil

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/ontomap-backend/internal/domain/annotation"
)

var FixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func Provenance(tb testing.TB, source, evidence string) annotation.Provenance {
	tb.Helper()
	p, err := annotation.NewProvenance(annotation.ProvenanceInput{
		SourceName: source,
		SourceType: "DATABASE",
		Evidence:   evidence,
		Accuracy:   "PRECISE",
	}, FixedNow)
	if err != nil {
		tb.Fatalf("provenance: %v", err)
	}
	return p
}

func Annotation(tb testing.TB, propertyType, value, source string, tags ...string) *annotation.Annotation {
	tb.Helper()
	a, err := annotation.NewAnnotation(annotation.Input{
		PropertyType:  propertyType,
		PropertyValue: value,
		SemanticTags:  tags,
		Provenance:    Provenance(tb, source, "MANUAL_CURATED"),
	})
	if err != nil {
		tb.Fatalf("annotation: %v", err)
	}
	return a
}

// Event builds an event with a fresh ID without touching a database.
func Event(tb testing.TB, propertyType, value, source string, tags ...string) annotation.Event {
	tb.Helper()
	a := Annotation(tb, propertyType, value, source, tags...)
	a.ID = uuid.New()
	a.CreatedAt = FixedNow
	return annotation.NewEvent(a, nil)
}
