package fanout_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/datatypes"

	"github.com/yungbote/ontomap-backend/internal/data/repos/annotations"
	"github.com/yungbote/ontomap-backend/internal/data/repos/summaries"
	"github.com/yungbote/ontomap-backend/internal/data/repos/testutil"
	"github.com/yungbote/ontomap-backend/internal/domain/annotation"
	domain "github.com/yungbote/ontomap-backend/internal/domain/summary"
	"github.com/yungbote/ontomap-backend/internal/fanout"
	"github.com/yungbote/ontomap-backend/internal/observability"
	"github.com/yungbote/ontomap-backend/internal/pkg/dbctx"
	"github.com/yungbote/ontomap-backend/internal/projection"
	summaryproj "github.com/yungbote/ontomap-backend/internal/projection/summary"
)

type flakyPublisher struct {
	mu       sync.Mutex
	failNext map[int]bool
	// reject fails every publish of these annotations.
	reject   map[uuid.UUID]bool
	calls    int
	accepted [][]byte
	// during runs inside PublishRaw before the payload is accepted.
	during func(ctx context.Context) error
}

func (p *flakyPublisher) PublishRaw(ctx context.Context, payload []byte) error {
	if p.during != nil {
		if err := p.during(ctx); err != nil {
			return err
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.failNext[p.calls] {
		return errors.New("broker unavailable")
	}
	if e, err := annotation.DecodeEvent(payload); err == nil && p.reject[e.ID] {
		return errors.New("payload rejected")
	}
	p.accepted = append(p.accepted, payload)
	return nil
}

func acceptedIDs(t *testing.T, p *flakyPublisher) []uuid.UUID {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]uuid.UUID, 0, len(p.accepted))
	for _, raw := range p.accepted {
		e, err := annotation.DecodeEvent(raw)
		if err != nil {
			t.Fatalf("decode accepted: %v", err)
		}
		out = append(out, e.ID)
	}
	return out
}

func seedOutbox(t *testing.T, outbox annotations.OutboxRepo, events ...annotation.Event) []*annotation.OutboxEvent {
	t.Helper()
	rows := make([]*annotation.OutboxEvent, 0, len(events))
	for _, e := range events {
		raw, err := e.Marshal()
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rows = append(rows, &annotation.OutboxEvent{
			AnnotationID: e.ID,
			Payload:      datatypes.JSON(raw),
			CreatedAt:    testutil.FixedNow,
		})
	}
	if err := outbox.Create(dbctx.New(context.Background()), rows); err != nil {
		t.Fatalf("outbox create: %v", err)
	}
	return rows
}

func TestRelaySkipsFailedRowAndRetriesIt(t *testing.T) {
	db := testutil.DB(t)
	outbox := annotations.NewOutboxRepo(db, testutil.Logger(t))
	e1 := testutil.Event(t, "organism part", "liver", "atlas")
	e2 := testutil.Event(t, "organism part", "heart", "atlas")
	e3 := testutil.Event(t, "organism part", "kidney", "atlas")
	rows := seedOutbox(t, outbox, e1, e2, e3)

	pub := &flakyPublisher{failNext: map[int]bool{2: true}}
	relay := fanout.NewRelay(testutil.Logger(t), outbox, pub, fanout.RelayConfig{BatchSize: 10}, nil)
	ctx := context.Background()

	n, err := relay.RelayOnce(ctx)
	if err != nil || n != 2 {
		t.Fatalf("first pass: n=%d err=%v want=2", n, err)
	}
	pending, err := outbox.ListAfter(dbctx.New(ctx), 0, 10)
	if err != nil {
		t.Fatalf("ListAfter: %v", err)
	}
	if pending[0].PublishedAt == nil || pending[2].PublishedAt == nil {
		t.Fatalf("rows 1 and 3 should be published: %+v %+v", pending[0], pending[2])
	}
	if pending[1].PublishedAt != nil || pending[1].Attempts != 1 || pending[1].LastError == "" || pending[1].ClaimedUntil != nil {
		t.Fatalf("row 2 after failure: %+v", pending[1])
	}

	n, err = relay.RelayOnce(ctx)
	if err != nil || n != 1 {
		t.Fatalf("second pass: n=%d err=%v want=1", n, err)
	}
	if left, err := outbox.CountUnpublished(dbctx.New(ctx)); err != nil || left != 0 {
		t.Fatalf("CountUnpublished: got=%d err=%v", left, err)
	}
	if n, err := relay.RelayOnce(ctx); err != nil || n != 0 {
		t.Fatalf("idle pass: n=%d err=%v", n, err)
	}

	want := []uuid.UUID{e1.ID, e3.ID, e2.ID}
	got := acceptedIDs(t, pub)
	if len(got) != len(want) {
		t.Fatalf("accepted: got=%d want=%d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("accepted[%d]: got=%v want=%v", i, got[i], want[i])
		}
	}
	if rows[0].Seq >= rows[1].Seq {
		t.Fatalf("seq order: %d %d", rows[0].Seq, rows[1].Seq)
	}
}

func TestRelayParksRejectedRowAndKeepsRelaying(t *testing.T) {
	db := testutil.DB(t)
	outbox := annotations.NewOutboxRepo(db, testutil.Logger(t))
	liver := testutil.Event(t, "organism part", "liver", "atlas")
	bad := testutil.Event(t, "organism part", "heart", "atlas")
	kidney := testutil.Event(t, "organism part", "kidney", "atlas")
	seedOutbox(t, outbox, liver, bad)

	log, logs := observedLogger()
	metrics := observability.New()
	pub := &flakyPublisher{reject: map[uuid.UUID]bool{bad.ID: true}}
	relay := fanout.NewRelay(log, outbox, pub, fanout.RelayConfig{BatchSize: 10, MaxAttempts: 3}, metrics)
	ctx := context.Background()

	if n, err := relay.RelayOnce(ctx); err != nil || n != 1 {
		t.Fatalf("first pass: n=%d err=%v want=1", n, err)
	}
	// Written after the rejected row; it must not wait behind it.
	seedOutbox(t, outbox, kidney)
	if n, err := relay.RelayOnce(ctx); err != nil || n != 1 {
		t.Fatalf("second pass: n=%d err=%v want=1", n, err)
	}
	if got := acceptedIDs(t, pub); len(got) != 2 || got[1] != kidney.ID {
		t.Fatalf("accepted: got=%v want kidney second", got)
	}
	if logs.FilterField(zap.String("alert", "dead_letter")).Len() != 0 {
		t.Fatalf("row parked before running out of attempts")
	}

	if n, err := relay.RelayOnce(ctx); err != nil || n != 0 {
		t.Fatalf("third pass: n=%d err=%v want=0", n, err)
	}
	dbc := dbctx.New(ctx)
	if parked, err := outbox.CountParked(dbc); err != nil || parked != 1 {
		t.Fatalf("CountParked: got=%d err=%v want=1", parked, err)
	}
	if left, err := outbox.CountUnpublished(dbc); err != nil || left != 0 {
		t.Fatalf("CountUnpublished: got=%d err=%v want=0", left, err)
	}
	alerts := logs.FilterField(zap.String("alert", "dead_letter")).All()
	if len(alerts) != 1 || alerts[0].Level != zapcore.ErrorLevel {
		t.Fatalf("alert logs: got=%d", len(alerts))
	}
	if got := counterValue(t, metrics, "ontomap_fanout_dead_letters_total"); got != 1 {
		t.Fatalf("dead letters: got=%v want=1", got)
	}

	calls := pub.calls
	if n, err := relay.RelayOnce(ctx); err != nil || n != 0 || pub.calls != calls {
		t.Fatalf("parked row retried: n=%d err=%v calls=%d want=%d", n, err, pub.calls, calls)
	}
}

func TestRelayPublishesOutsideTransaction(t *testing.T) {
	db := testutil.DB(t)
	outbox := annotations.NewOutboxRepo(db, testutil.Logger(t))
	seedOutbox(t, outbox, testutil.Event(t, "organism part", "liver", "atlas"))

	// SQLite test databases have a single connection; a query from inside the publish call would
	// block if the relay still held a transaction.
	pub := &flakyPublisher{during: func(ctx context.Context) error {
		qctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		_, err := outbox.CountUnpublished(dbctx.New(qctx))
		return err
	}}
	relay := fanout.NewRelay(testutil.Logger(t), outbox, pub, fanout.RelayConfig{BatchSize: 10}, nil)
	if n, err := relay.RelayOnce(context.Background()); err != nil || n != 1 {
		t.Fatalf("RelayOnce: n=%d err=%v want=1", n, err)
	}
}

func TestRelayBoundsEachPublish(t *testing.T) {
	db := testutil.DB(t)
	outbox := annotations.NewOutboxRepo(db, testutil.Logger(t))
	seedOutbox(t, outbox, testutil.Event(t, "organism part", "liver", "atlas"))

	hung := &flakyPublisher{during: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	relay := fanout.NewRelay(testutil.Logger(t), outbox, hung, fanout.RelayConfig{BatchSize: 10, PublishTimeout: 20 * time.Millisecond}, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if n, err := relay.RelayOnce(context.Background()); err != nil || n != 0 {
			t.Errorf("RelayOnce: n=%d err=%v want=0", n, err)
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("hung publish was not bounded")
	}
	rows, err := outbox.ListAfter(dbctx.New(context.Background()), 0, 10)
	if err != nil || len(rows) != 1 || rows[0].Attempts != 1 {
		t.Fatalf("timed out publish not recorded: rows=%v err=%v", rows, err)
	}
}

func TestReplayRebuildsSummaries(t *testing.T) {
	db := testutil.DB(t)
	log := testutil.Logger(t)
	outbox := annotations.NewOutboxRepo(db, log)
	repo := summaries.NewSummaryRepo(db, log)
	reg := projection.NewRegistry()
	if err := reg.Register(summaryproj.New(log, repo)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	ctx := context.Background()

	a := testutil.Event(t, "organism part", "liver", "atlas", "UBERON:0002107")
	b := testutil.Event(t, "organism part", "liver", "gwas", "UBERON:0002107")
	c := testutil.Event(t, "disease", "hepatitis", "atlas")
	seedOutbox(t, outbox, a, b, c)
	if err := outbox.Create(dbctx.New(ctx), []*annotation.OutboxEvent{{
		AnnotationID: uuid.New(),
		Payload:      datatypes.JSON(`{"id":"not-a-uuid"}`),
		CreatedAt:    testutil.FixedNow,
	}}); err != nil {
		t.Fatalf("outbox create: %v", err)
	}

	replayer := fanout.NewReplayer(log, outbox, reg, 2)
	key := domain.Key("organism part", "liver", []string{"UBERON:0002107"})

	for i := 0; i < 2; i++ {
		stats, err := replayer.Replay(ctx, nil, i == 1)
		if err != nil {
			t.Fatalf("Replay #%d: %v", i, err)
		}
		if stats.Events != 4 || stats.Applied != 3 || stats.Skipped != 1 {
			t.Fatalf("Replay #%d stats: got=%+v", i, stats)
		}
		got, err := repo.GetByKey(dbctx.New(ctx), key)
		if err != nil {
			t.Fatalf("GetByKey #%d: %v", i, err)
		}
		if got.VoteCount != 2 || got.SourceCount != 2 {
			t.Fatalf("summary #%d: votes=%d sources=%d want=2/2", i, got.VoteCount, got.SourceCount)
		}
	}

	if _, err := replayer.Replay(ctx, []string{"missing"}, false); err == nil {
		t.Fatalf("Replay of unknown projection should fail")
	}
}
