package annotations

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/ontomap-backend/internal/data/repos/testutil"
	"github.com/yungbote/ontomap-backend/internal/domain/annotation"
	"github.com/yungbote/ontomap-backend/internal/pkg/dbctx"
	apperrors "github.com/yungbote/ontomap-backend/internal/pkg/errors"
)

func TestAnnotationRepo(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.WithTx(context.Background(), tx)
	repo := NewAnnotationRepo(db, testutil.Logger(t))

	a := testutil.Annotation(t, "organism part", "Liver", "atlas", "http://purl.obolibrary.org/obo/UBERON_0002107")
	b := testutil.Annotation(t, "organism part", "heart", "atlas")
	rows, err := repo.Create(dbc, []*annotation.Annotation{a, b})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(rows) != 2 || a.ID == uuid.Nil || b.ID == uuid.Nil || a.ID == b.ID {
		t.Fatalf("Create ids: a=%s b=%s", a.ID, b.ID)
	}

	got, err := repo.GetByID(dbc, a.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Property.Value != "Liver" || len(got.SemanticTags) != 1 || got.Quality != a.Quality {
		t.Fatalf("GetByID: got=%+v", got)
	}
	if got.Provenance.Source.Name != "atlas" || got.Provenance.Evidence != annotation.EvidenceManualCurated {
		t.Fatalf("GetByID provenance: got=%+v", got.Provenance)
	}
	if !got.HasMapping() {
		t.Fatalf("GetByID: expected mapping")
	}

	if rows, err := repo.GetByIDs(dbc, []uuid.UUID{a.ID, b.ID}); err != nil || len(rows) != 2 {
		t.Fatalf("GetByIDs: err=%v len=%d", err, len(rows))
	}
	if rows, err := repo.ListByPropertyValue(dbc, "liver", 10); err != nil || len(rows) != 1 || rows[0].ID != a.ID {
		t.Fatalf("ListByPropertyValue: err=%v len=%d", err, len(rows))
	}
	if n, err := repo.Count(dbc); err != nil || n != 2 {
		t.Fatalf("Count: n=%d err=%v", n, err)
	}

	if _, err := repo.GetByID(dbc, uuid.New()); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("GetByID missing: got=%v want=%v", err, apperrors.ErrNotFound)
	}

	preset := testutil.Annotation(t, "organism part", "kidney", "atlas")
	preset.ID = uuid.New()
	if _, err := repo.Create(dbc, []*annotation.Annotation{preset}); !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("Create preset id: got=%v want=%v", err, apperrors.ErrValidation)
	}
}

func TestStudyAndEntityGetOrCreate(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.WithTx(context.Background(), tx)
	studies := NewStudyRepo(db, testutil.Logger(t))
	entities := NewBiologicalEntityRepo(db, testutil.Logger(t))

	s1, err := studies.GetOrCreate(dbc, "E-MTAB-513", "")
	if err != nil {
		t.Fatalf("GetOrCreate study: %v", err)
	}
	s2, err := studies.GetOrCreate(dbc, "E-MTAB-513", "http://example.org/E-MTAB-513")
	if err != nil {
		t.Fatalf("GetOrCreate study again: %v", err)
	}
	if s1.ID != s2.ID {
		t.Fatalf("study not reused: %s != %s", s1.ID, s2.ID)
	}

	e1, err := entities.GetOrCreate(dbc, "sample-1", &s1.ID, "")
	if err != nil {
		t.Fatalf("GetOrCreate entity: %v", err)
	}
	e2, err := entities.GetOrCreate(dbc, "sample-1", &s1.ID, "")
	if err != nil {
		t.Fatalf("GetOrCreate entity again: %v", err)
	}
	if e1.ID != e2.ID {
		t.Fatalf("entity not reused: %s != %s", e1.ID, e2.ID)
	}

	orphan1, err := entities.GetOrCreate(dbc, "sample-1", nil, "")
	if err != nil {
		t.Fatalf("GetOrCreate orphan: %v", err)
	}
	orphan2, err := entities.GetOrCreate(dbc, "sample-1", nil, "")
	if err != nil {
		t.Fatalf("GetOrCreate orphan again: %v", err)
	}
	if orphan1.ID == e1.ID || orphan1.ID != orphan2.ID {
		t.Fatalf("orphan entity: got=%s/%s study-bound=%s", orphan1.ID, orphan2.ID, e1.ID)
	}

	if rows, err := entities.GetByIDs(dbc, []uuid.UUID{e1.ID, orphan1.ID}); err != nil || len(rows) != 2 {
		t.Fatalf("GetByIDs: err=%v len=%d", err, len(rows))
	}
	if _, err := studies.GetOrCreate(dbc, " ", ""); !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("GetOrCreate blank study: got=%v", err)
	}
}

func TestOutboxRepo(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.WithTx(context.Background(), tx)
	repo := NewOutboxRepo(db, testutil.Logger(t))

	before, err := repo.ListAfter(dbc, 0, 1000)
	if err != nil {
		t.Fatalf("ListAfter: %v", err)
	}
	var cursor int64
	if len(before) > 0 {
		cursor = before[len(before)-1].Seq
	}

	rows := []*annotation.OutboxEvent{
		{AnnotationID: uuid.New(), Payload: datatypes.JSON([]byte(`{"n":1}`))},
		{AnnotationID: uuid.New(), Payload: datatypes.JSON([]byte(`{"n":2}`))},
		{AnnotationID: uuid.New(), Payload: datatypes.JSON([]byte(`{"n":3}`))},
	}
	if err := repo.Create(dbc, rows); err != nil {
		t.Fatalf("Create: %v", err)
	}

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	ours := func(claimed []*annotation.OutboxEvent) []int64 {
		var seqs []int64
		for _, c := range claimed {
			for _, row := range rows {
				if c.Seq == row.Seq {
					seqs = append(seqs, c.Seq)
				}
			}
		}
		return seqs
	}

	claimed, err := repo.Claim(dbc, 1000, now, time.Minute)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if got := ours(claimed); len(got) != 3 || got[0] >= got[1] || got[1] >= got[2] {
		t.Fatalf("Claim order: got=%v", got)
	}
	if again, err := repo.Claim(dbc, 1000, now.Add(time.Second), time.Minute); err != nil || len(ours(again)) != 0 {
		t.Fatalf("leased rows claimed twice: got=%v err=%v", ours(again), err)
	}

	parked, err := repo.RecordFailure(dbc, rows[1].Seq, errors.New("broker down"), 2, now)
	if err != nil || parked {
		t.Fatalf("RecordFailure #1: parked=%v err=%v", parked, err)
	}
	if err := repo.MarkPublished(dbc, []int64{rows[0].Seq}, now); err != nil {
		t.Fatalf("MarkPublished: %v", err)
	}
	// The failure released the lease; the other rows stay leased.
	if got, err := repo.Claim(dbc, 1000, now.Add(time.Second), time.Minute); err != nil || len(ours(got)) != 1 || ours(got)[0] != rows[1].Seq {
		t.Fatalf("Claim after failure: got=%v err=%v want=[%d]", ours(got), err, rows[1].Seq)
	}
	parked, err = repo.RecordFailure(dbc, rows[1].Seq, errors.New("broker down"), 2, now)
	if err != nil || !parked {
		t.Fatalf("RecordFailure #2: parked=%v err=%v want=true", parked, err)
	}
	if got, err := repo.Claim(dbc, 1000, now.Add(2*time.Minute), time.Minute); err != nil || len(ours(got)) != 1 || ours(got)[0] != rows[2].Seq {
		t.Fatalf("Claim after lease expiry: got=%v err=%v want=[%d]", ours(got), err, rows[2].Seq)
	}
	if n, err := repo.CountParked(dbc); err != nil || n < 1 {
		t.Fatalf("CountParked: n=%d err=%v", n, err)
	}
	if n, err := repo.CountUnpublished(dbc); err != nil || n < 1 {
		t.Fatalf("CountUnpublished: n=%d err=%v", n, err)
	}

	after, err := repo.ListAfter(dbc, cursor, 10)
	if err != nil {
		t.Fatalf("ListAfter: %v", err)
	}
	if len(after) != 3 {
		t.Fatalf("ListAfter: got=%d want=3", len(after))
	}
	if after[0].PublishedAt == nil {
		t.Fatalf("first row should be published")
	}
	if after[1].Attempts != 2 || after[1].LastError != "broker down" || after[1].ParkedAt == nil {
		t.Fatalf("failure not recorded: attempts=%d err=%q parked=%v", after[1].Attempts, after[1].LastError, after[1].ParkedAt)
	}
	if after[2].PublishedAt != nil || after[2].ParkedAt != nil || after[2].ClaimedUntil == nil {
		t.Fatalf("third row should be leased only: %+v", after[2])
	}
}
