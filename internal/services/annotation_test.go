package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/yungbote/ontomap-backend/internal/data/repos"
	"github.com/yungbote/ontomap-backend/internal/data/repos/testutil"
	"github.com/yungbote/ontomap-backend/internal/domain/annotation"
	"github.com/yungbote/ontomap-backend/internal/pkg/dbctx"
	apperrors "github.com/yungbote/ontomap-backend/internal/pkg/errors"
)

func liverInput(source string) SubmitInput {
	return SubmitInput{
		PropertyType:  "organism part",
		PropertyValue: "liver",
		SemanticTags:  []string{"http://purl.obolibrary.org/obo/UBERON_0002107"},
		Entities: []EntityInput{
			{Name: "sample-1", StudyAccession: "E-MTAB-513"},
			{Name: "sample-1", StudyAccession: "E-MTAB-513"},
			{Name: "orphan"},
		},
		Provenance: annotation.ProvenanceInput{
			SourceName: source,
			SourceType: "DATABASE",
			Evidence:   "MANUAL_CURATED",
			Accuracy:   "PRECISE",
		},
	}
}

func TestSubmitRecordsAnnotationAndOutbox(t *testing.T) {
	db := testutil.DB(t)
	set := repos.NewSet(db, testutil.Logger(t))
	commits := 0
	svc := NewAnnotationService(db, testutil.Logger(t), set, WithCommitHook(func() { commits++ }))
	ctx := context.Background()

	id, err := svc.Submit(ctx, liverInput("atlas"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	got, err := svc.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Quality != 1.0 || got.BatchLoad || len(got.BiologicalEntityIDs) != 2 {
		t.Fatalf("annotation: quality=%v batch=%v entities=%d", got.Quality, got.BatchLoad, len(got.BiologicalEntityIDs))
	}
	if got.Provenance.GeneratedDate.IsZero() {
		t.Fatalf("generated date should default to now")
	}

	rows, err := set.Outbox.ListAfter(dbctx.New(ctx), 0, 10)
	if err != nil || len(rows) != 1 {
		t.Fatalf("outbox: n=%d err=%v", len(rows), err)
	}
	e, err := annotation.DecodeEvent(rows[0].Payload)
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	if e.ID != id || e.PropertyValue != "liver" || len(e.BiologicalEntities) != 2 {
		t.Fatalf("event: got=%+v", e)
	}
	if e.BiologicalEntities[0].StudyAccession != "E-MTAB-513" || e.BiologicalEntities[0].StudyID == nil {
		t.Fatalf("event entity study: got=%+v", e.BiologicalEntities[0])
	}
	if commits != 1 {
		t.Fatalf("commit hook: got=%d want=1", commits)
	}

	// Entities and studies are reused across submissions.
	id2, err := svc.Submit(ctx, liverInput("gwas"))
	if err != nil {
		t.Fatalf("Submit again: %v", err)
	}
	second, _ := svc.Get(ctx, id2)
	if second.BiologicalEntityIDs[0] != got.BiologicalEntityIDs[0] {
		t.Fatalf("entity reuse: got=%v want=%v", second.BiologicalEntityIDs[0], got.BiologicalEntityIDs[0])
	}

	list, err := svc.ListByPropertyValue(ctx, "LIVER", 10)
	if err != nil || len(list) != 2 {
		t.Fatalf("ListByPropertyValue: n=%d err=%v", len(list), err)
	}
}

func TestSubmitRejectsInvalidInput(t *testing.T) {
	db := testutil.DB(t)
	set := repos.NewSet(db, testutil.Logger(t))
	svc := NewAnnotationService(db, testutil.Logger(t), set)
	ctx := context.Background()

	cases := map[string]func(*SubmitInput){
		"blank value":  func(in *SubmitInput) { in.PropertyValue = "  " },
		"no source":    func(in *SubmitInput) { in.Provenance.SourceName = "" },
		"bad type":     func(in *SubmitInput) { in.Provenance.SourceType = "WEBSITE" },
		"bad evidence": func(in *SubmitInput) { in.Provenance.Evidence = "HUNCH" },
		"blank entity": func(in *SubmitInput) { in.Entities = []EntityInput{{Name: " "}} },
	}
	for name, mutate := range cases {
		in := liverInput("atlas")
		mutate(&in)
		if _, err := svc.Submit(ctx, in); !errors.Is(err, apperrors.ErrValidation) {
			t.Fatalf("%s: got=%v want=%v", name, err, apperrors.ErrValidation)
		}
	}
	if n, err := set.Annotations.Count(dbctx.New(ctx)); err != nil || n != 0 {
		t.Fatalf("nothing should be written: n=%d err=%v", n, err)
	}
	if n, err := set.Outbox.CountUnpublished(dbctx.New(ctx)); err != nil || n != 0 {
		t.Fatalf("no outbox rows expected: n=%d err=%v", n, err)
	}
}

func TestSubmitBatch(t *testing.T) {
	db := testutil.DB(t)
	set := repos.NewSet(db, testutil.Logger(t))
	svc := NewAnnotationService(db, testutil.Logger(t), set)
	ctx := context.Background()

	ids, err := svc.SubmitBatch(ctx, []SubmitInput{liverInput("atlas"), liverInput("gwas")})
	if err != nil || len(ids) != 2 {
		t.Fatalf("SubmitBatch: n=%d err=%v", len(ids), err)
	}
	for _, id := range ids {
		a, err := svc.Get(ctx, id)
		if err != nil || !a.BatchLoad {
			t.Fatalf("batch annotation %s: batch=%v err=%v", id, a != nil && a.BatchLoad, err)
		}
	}
	if n, _ := set.Outbox.CountUnpublished(dbctx.New(ctx)); n != 2 {
		t.Fatalf("outbox rows: got=%d want=2", n)
	}

	bad := liverInput("atlas")
	bad.PropertyValue = ""
	_, err = svc.SubmitBatch(ctx, []SubmitInput{liverInput("atlas"), bad})
	if !errors.Is(err, apperrors.ErrValidation) || !strings.Contains(err.Error(), "annotation[1]") {
		t.Fatalf("SubmitBatch invalid: got=%v", err)
	}
	if n, _ := set.Annotations.Count(dbctx.New(ctx)); n != 2 {
		t.Fatalf("failed batch must write nothing: count=%d want=2", n)
	}
	if _, err := svc.SubmitBatch(ctx, nil); !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("empty batch: got=%v", err)
	}
}
