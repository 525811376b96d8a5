package projection

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/yungbote/ontomap-backend/internal/domain/annotation"
)

const TopicPrefix = "annotation.save."

// Projection maintains one derived view of the record store. Apply must be idempotent on
// event.ID and must not touch the record store or the fanout.
type Projection interface {
	Name() string
	Apply(ctx context.Context, e annotation.Event) error
}

// Resetter is implemented by projections that can drop their state ahead of a replay.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Topic is the fanout topic a projection consumes.
func Topic(name string) string { return TopicPrefix + name }

// Registry maps projection names to handlers. Iteration follows registration order.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Projection
	order  []string
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Projection)}
}

func (r *Registry) Register(p Projection) error {
	if p == nil {
		return fmt.Errorf("nil projection")
	}
	name := strings.TrimSpace(p.Name())
	if name == "" {
		return fmt.Errorf("projection Name() is empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("projection already registered: %s", name)
	}
	r.byName[name] = p
	r.order = append(r.order, name)
	return nil
}

func (r *Registry) Get(name string) (Projection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byName[name]
	return p, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

func (r *Registry) All() []Projection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Projection, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

// Select returns the named projections in registration order, or all of them when names is
// empty.
func (r *Registry) Select(names []string) ([]Projection, error) {
	if len(names) == 0 {
		return r.All(), nil
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if _, ok := r.Get(n); !ok {
			return nil, fmt.Errorf("unknown projection: %s", n)
		}
		want[n] = true
	}
	out := make([]Projection, 0, len(want))
	for _, p := range r.All() {
		if want[p.Name()] {
			out = append(out, p)
		}
	}
	return out, nil
}
