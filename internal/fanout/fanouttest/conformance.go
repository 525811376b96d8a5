package fanouttest

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/ontomap-backend/internal/fanout"
	"github.com/yungbote/ontomap-backend/internal/projection"
)

// Topic returns a topic name no other run has used.
func Topic() string {
	return projection.Topic("test_" + strings.ReplaceAll(uuid.NewString(), "-", ""))
}

// Conformance checks the delivery contract every fanout.Broker must keep: ordered first
// delivery, ack removes a message, and an unacked message comes back after redeliverAfter
// with a higher delivery count.
func Conformance(t *testing.T, b fanout.Broker, redeliverAfter time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	topic := Topic()
	const group = "conformance"

	// Published before the group exists; must still be delivered.
	if err := b.Publish(ctx, topic, []byte("first")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := b.Subscribe(ctx, topic, group); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := b.Subscribe(ctx, topic, group); err != nil {
		t.Fatalf("Subscribe twice: %v", err)
	}
	if err := b.Publish(ctx, topic, []byte("second")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	msgs := fetchN(t, ctx, b, topic, group, "c1", 2)
	if string(msgs[0].Payload) != "first" || string(msgs[1].Payload) != "second" {
		t.Fatalf("order: got=%q,%q", msgs[0].Payload, msgs[1].Payload)
	}
	for _, m := range msgs {
		if m.Delivery != 1 || m.Topic != topic || m.ID == "" {
			t.Fatalf("first delivery: got=%+v", m)
		}
	}
	if err := msgs[0].Ack(ctx); err != nil {
		t.Fatalf("Ack: %v", err)
	}

	time.Sleep(redeliverAfter)
	again := fetchN(t, ctx, b, topic, group, "c2", 1)
	if string(again[0].Payload) != "second" || again[0].Delivery < 2 {
		t.Fatalf("redelivery: payload=%q delivery=%d", again[0].Payload, again[0].Delivery)
	}
	if err := again[0].Ack(ctx); err != nil {
		t.Fatalf("Ack redelivered: %v", err)
	}

	time.Sleep(redeliverAfter)
	rest, err := b.Fetch(ctx, topic, group, "c3", 10, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("Fetch after acks: %v", err)
	}
	if len(rest) != 0 {
		t.Fatalf("after acks: got=%d messages want=0", len(rest))
	}
}

func fetchN(t *testing.T, ctx context.Context, b fanout.Broker, topic, group, consumer string, n int) []fanout.Message {
	t.Helper()
	var out []fanout.Message
	deadline := time.Now().Add(10 * time.Second)
	for len(out) < n && time.Now().Before(deadline) {
		msgs, err := b.Fetch(ctx, topic, group, consumer, n-len(out), time.Second)
		if err != nil {
			t.Fatalf("Fetch: %v", err)
		}
		out = append(out, msgs...)
	}
	if len(out) < n {
		t.Fatalf("Fetch: got=%d messages want=%d", len(out), n)
	}
	return out
}
