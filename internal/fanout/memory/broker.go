package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/yungbote/ontomap-backend/internal/fanout"
)

var ErrClosed = errors.New("memory broker closed")

type Options struct {
	// ClaimIdle redelivers a pending message once it has gone unacked this long. 0 disables
	// automatic redelivery; Recover still works.
	ClaimIdle time.Duration
}

// Broker is an in-process fanout.Broker with the same pending/redelivery rules as the
// networked backends. State does not survive the process.
type Broker struct {
	mu     sync.Mutex
	opts   Options
	topics map[string]*topicLog
	closed bool
}

type topicLog struct {
	entries []entry
	groups  map[string]*group
	notify  chan struct{}
}

type entry struct {
	id      string
	payload []byte
}

type group struct {
	next    int
	pending map[string]*pending
}

type pending struct {
	idx         int
	delivery    int
	deliveredAt time.Time
	forced      bool
}

func New(opts Options) *Broker {
	return &Broker{opts: opts, topics: make(map[string]*topicLog)}
}

var _ fanout.Broker = (*Broker)(nil)

func (b *Broker) topic(name string) *topicLog {
	t, ok := b.topics[name]
	if !ok {
		t = &topicLog{groups: make(map[string]*group), notify: make(chan struct{})}
		b.topics[name] = t
	}
	return t
}

func (t *topicLog) wake() {
	close(t.notify)
	t.notify = make(chan struct{})
}

func (b *Broker) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	t := b.topic(topic)
	id := strconv.Itoa(len(t.entries) + 1)
	t.entries = append(t.entries, entry{id: id, payload: append([]byte(nil), payload...)})
	t.wake()
	return nil
}

func (b *Broker) Subscribe(ctx context.Context, topic, groupName string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	t := b.topic(topic)
	if _, ok := t.groups[groupName]; !ok {
		t.groups[groupName] = &group{pending: make(map[string]*pending)}
	}
	return nil
}

func (b *Broker) Fetch(ctx context.Context, topic, groupName, consumer string, max int, wait time.Duration) ([]fanout.Message, error) {
	if max <= 0 {
		max = 1
	}
	var timeout <-chan time.Time
	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		timeout = timer.C
	}
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return nil, ErrClosed
		}
		t := b.topic(topic)
		g, ok := t.groups[groupName]
		if !ok {
			b.mu.Unlock()
			return nil, fmt.Errorf("memory broker: no group %q on %q", groupName, topic)
		}
		msgs := b.claim(topic, t, g, max)
		notify := t.notify
		b.mu.Unlock()

		if len(msgs) > 0 || wait <= 0 {
			return msgs, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timeout:
			return nil, nil
		case <-notify:
		}
	}
}

// claim must be called with b.mu held. Stale pending entries go first, then new ones.
func (b *Broker) claim(topicName string, t *topicLog, g *group, max int) []fanout.Message {
	now := time.Now()
	var out []fanout.Message

	stale := make([]*pending, 0)
	for _, p := range g.pending {
		if p.forced || (b.opts.ClaimIdle > 0 && now.Sub(p.deliveredAt) >= b.opts.ClaimIdle) {
			stale = append(stale, p)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].idx < stale[j].idx })
	for _, p := range stale {
		if len(out) >= max {
			return out
		}
		p.delivery++
		p.deliveredAt = now
		p.forced = false
		out = append(out, b.message(topicName, g, t.entries[p.idx], p.delivery))
	}

	for len(out) < max && g.next < len(t.entries) {
		e := t.entries[g.next]
		g.pending[e.id] = &pending{idx: g.next, delivery: 1, deliveredAt: now}
		g.next++
		out = append(out, b.message(topicName, g, e, 1))
	}
	return out
}

func (b *Broker) message(topic string, g *group, e entry, delivery int) fanout.Message {
	id := e.id
	ack := func(context.Context) error {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(g.pending, id)
		return nil
	}
	touch := func(context.Context) error {
		b.mu.Lock()
		defer b.mu.Unlock()
		if p, ok := g.pending[id]; ok {
			p.deliveredAt = time.Now()
		}
		return nil
	}
	return fanout.NewMessage(topic, id, e.payload, delivery, ack, touch)
}

// Recover makes every pending message of the group deliverable again, as happens when a
// consumer dies holding unacked messages.
func (b *Broker) Recover(topic, groupName string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[topic]
	if !ok {
		return 0
	}
	g, ok := t.groups[groupName]
	if !ok {
		return 0
	}
	for _, p := range g.pending {
		p.forced = true
	}
	if len(g.pending) > 0 {
		t.wake()
	}
	return len(g.pending)
}

func (b *Broker) Pending(topic, groupName string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[topic]
	if !ok {
		return 0
	}
	g, ok := t.groups[groupName]
	if !ok {
		return 0
	}
	return len(g.pending)
}

// Backlog counts messages the group has not acked yet, delivered or not.
func (b *Broker) Backlog(topic, groupName string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[topic]
	if !ok {
		return 0
	}
	g, ok := t.groups[groupName]
	if !ok {
		return len(t.entries)
	}
	return len(t.entries) - g.next + len(g.pending)
}

// Published returns every payload ever published on topic, in order.
func (b *Broker) Published(topic string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[topic]
	if !ok {
		return nil
	}
	out := make([][]byte, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, append([]byte(nil), e.payload...))
	}
	return out
}

func (b *Broker) DeadLetters(topic string) [][]byte {
	return b.Published(fanout.DLQTopic(topic))
}

func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, t := range b.topics {
		t.wake()
	}
	return nil
}
