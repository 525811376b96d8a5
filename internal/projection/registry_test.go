package projection

import (
	"context"
	"testing"

	"github.com/yungbote/ontomap-backend/internal/domain/annotation"
)

type namedProjection string

func (n namedProjection) Name() string                                        { return string(n) }
func (n namedProjection) Apply(ctx context.Context, e annotation.Event) error { return nil }

func TestRegistryKeepsRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	for _, n := range []string{"summary", "graph", "audit"} {
		if err := r.Register(namedProjection(n)); err != nil {
			t.Fatalf("Register(%s): %v", n, err)
		}
	}
	got := r.Names()
	want := []string{"summary", "graph", "audit"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Names[%d]: got=%s want=%s", i, got[i], want[i])
		}
	}
	if err := r.Register(namedProjection("graph")); err == nil {
		t.Fatalf("duplicate Register should fail")
	}
	if err := r.Register(namedProjection(" ")); err == nil {
		t.Fatalf("blank name should fail")
	}
}

func TestRegistrySelect(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(namedProjection("summary"))
	_ = r.Register(namedProjection("graph"))

	got, err := r.Select([]string{"graph", "summary"})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(got) != 2 || got[0].Name() != "summary" || got[1].Name() != "graph" {
		t.Fatalf("Select order: got=%v", got)
	}
	if _, err := r.Select([]string{"nope"}); err == nil {
		t.Fatalf("Select unknown should fail")
	}
	if all, _ := r.Select(nil); len(all) != 2 {
		t.Fatalf("Select(nil): got=%d want=2", len(all))
	}
	if Topic("summary") != "annotation.save.summary" {
		t.Fatalf("Topic: got=%s", Topic("summary"))
	}
}
