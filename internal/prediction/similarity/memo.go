package similarity

import (
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// ScoreFunc computes a similarity for two strings. It must be symmetric.
type ScoreFunc func(a, b string) float64

// Memo caches scores per unordered pair. Concurrent callers asking for the same pair share one
// computation; different pairs compute in parallel.
type Memo struct {
	fn    ScoreFunc
	cache *gocache.Cache
	group singleflight.Group

	computed atomic.Int64
}

type MemoOptions struct {
	// TTL of a cached score; zero keeps entries until Reset.
	TTL             time.Duration
	CleanupInterval time.Duration
	Func            ScoreFunc
}

func NewMemo(opts MemoOptions) *Memo {
	fn := opts.Func
	if fn == nil {
		fn = Score
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	cleanup := opts.CleanupInterval
	if cleanup <= 0 {
		cleanup = 10 * time.Minute
	}
	return &Memo{fn: fn, cache: gocache.New(ttl, cleanup)}
}

func (m *Memo) Score(a, b string) float64 {
	na, nb := Normalize(a), Normalize(b)
	key := pairKey(na, nb)
	if v, ok := m.cache.Get(key); ok {
		return v.(float64)
	}
	v, _, _ := m.group.Do(key, func() (any, error) {
		if cached, ok := m.cache.Get(key); ok {
			return cached, nil
		}
		s := m.fn(na, nb)
		m.computed.Add(1)
		m.cache.SetDefault(key, s)
		return s, nil
	})
	return v.(float64)
}

// Computations is the number of times the underlying ScoreFunc ran.
func (m *Memo) Computations() int64 { return m.computed.Load() }

func (m *Memo) Len() int { return m.cache.ItemCount() }

// Reset drops every cached score.
func (m *Memo) Reset() { m.cache.Flush() }

func pairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "\x00" + b
}
