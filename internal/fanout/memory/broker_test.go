package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/yungbote/ontomap-backend/internal/fanout/fanouttest"
)

func TestBrokerConformance(t *testing.T) {
	fanouttest.Conformance(t, New(Options{ClaimIdle: 50 * time.Millisecond}), 60*time.Millisecond)
}

func TestFetchWakesOnPublish(t *testing.T) {
	b := New(Options{})
	ctx := context.Background()
	topic := fanouttest.Topic()
	if err := b.Subscribe(ctx, topic, "g"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = b.Publish(ctx, topic, []byte("x"))
	}()
	start := time.Now()
	msgs, err := b.Fetch(ctx, topic, "g", "c", 1, 5*time.Second)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("Fetch: n=%d err=%v", len(msgs), err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("Fetch did not wake on publish")
	}
}

func TestRecoverAndGroupsAreIndependent(t *testing.T) {
	b := New(Options{})
	ctx := context.Background()
	topic := fanouttest.Topic()
	_ = b.Subscribe(ctx, topic, "g1")
	_ = b.Subscribe(ctx, topic, "g2")
	_ = b.Publish(ctx, topic, []byte("x"))

	m1, _ := b.Fetch(ctx, topic, "g1", "c", 1, 0)
	m2, _ := b.Fetch(ctx, topic, "g2", "c", 1, 0)
	if len(m1) != 1 || len(m2) != 1 {
		t.Fatalf("each group gets its own copy: g1=%d g2=%d", len(m1), len(m2))
	}
	_ = m2[0].Ack(ctx)

	if none, _ := b.Fetch(ctx, topic, "g1", "c", 1, 0); len(none) != 0 {
		t.Fatalf("pending message redelivered without ClaimIdle or Recover")
	}
	if got := b.Recover(topic, "g1"); got != 1 {
		t.Fatalf("Recover g1: got=%d want=1", got)
	}
	if got := b.Recover(topic, "g2"); got != 0 {
		t.Fatalf("Recover g2: got=%d want=0", got)
	}
	again, _ := b.Fetch(ctx, topic, "g1", "c", 1, 0)
	if len(again) != 1 || again[0].Delivery != 2 {
		t.Fatalf("after Recover: got=%+v", again)
	}
	if b.Backlog(topic, "g1") != 1 || b.Backlog(topic, "g2") != 0 {
		t.Fatalf("backlog: g1=%d g2=%d", b.Backlog(topic, "g1"), b.Backlog(topic, "g2"))
	}
}

func TestFetchUnknownGroupAndClose(t *testing.T) {
	b := New(Options{})
	ctx := context.Background()
	if _, err := b.Fetch(ctx, "t", "nope", "c", 1, 0); err == nil {
		t.Fatalf("Fetch without Subscribe should fail")
	}
	_ = b.Subscribe(ctx, "t", "g")
	done := make(chan error, 1)
	go func() {
		_, err := b.Fetch(ctx, "t", "g", "c", 1, 5*time.Second)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	_ = b.Close()
	select {
	case err := <-done:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("Fetch after Close: got=%v want=%v", err, ErrClosed)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Close did not wake Fetch")
	}
	if err := b.Publish(ctx, "t", nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("Publish after Close: got=%v want=%v", err, ErrClosed)
	}
}
