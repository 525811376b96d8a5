package summary

import (
	"testing"

	"github.com/google/uuid"

	"github.com/yungbote/ontomap-backend/internal/domain/annotation"
)

func TestKeyIgnoresCaseWhitespaceAndTagOrder(t *testing.T) {
	a := Key("Organism Part", "  Liver ", []string{"b", "a"})
	b := Key("organism part", "liver", []string{"a", "b", "a"})
	if a != b {
		t.Fatalf("keys differ: %s vs %s", a, b)
	}
}

func TestKeyDistinguishesTagSets(t *testing.T) {
	if Key("", "liver", nil) == Key("", "liver", []string{"UBERON:0002107"}) {
		t.Fatalf("unmapped and mapped summaries must not share a key")
	}
	if Key("organism part", "liver", nil) == Key("", "liver", nil) {
		t.Fatalf("typed and untyped summaries must not share a key")
	}
}

func TestFromEvent(t *testing.T) {
	s := FromEvent(annotation.Event{
		ID:            uuid.New(),
		PropertyType:  "Organism Part",
		PropertyValue: "Liver",
		SemanticTags:  []string{"UBERON:0002107"},
	})
	if s.NormalizedValue != "liver" || s.NormalizedType != "organism part" {
		t.Fatalf("normalised fields: %+v", s)
	}
	if s.PropertyValue != "Liver" || s.VoteCount != 0 {
		t.Fatalf("unexpected initial summary: %+v", s)
	}
	if s.Key != Key("organism part", "liver", []string{"UBERON:0002107"}) {
		t.Fatalf("key mismatch")
	}
}
