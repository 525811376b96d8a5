package similarity

import (
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDistance(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"kitten", "sitting", 3},
		{"", "abc", 3},
		{"abc", "", 3},
		{"liver", "liver", 0},
		{"flaw", "lawn", 2},
		{"größe", "grösse", 2},
	}
	for _, tc := range tests {
		if got := Distance([]rune(tc.a), []rune(tc.b)); got != tc.want {
			t.Fatalf("Distance(%q,%q): got=%d want=%d", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestScoreBounds(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"liver", "liver", 1},
		{"Liver", "  LIVER ", 1},
		{"abc", "xyz", 0},
		{"", "liver", 0},
		{"liver", "", 0},
		{"", "", 0},
		{"kitten", "sitting", 1 - 3.0/7.0},
	}
	for _, tc := range tests {
		got := Score(tc.a, tc.b)
		if math.Abs(got-tc.want) > 1e-9 {
			t.Fatalf("Score(%q,%q): got=%v want=%v", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestScoreIsSymmetricAndBounded(t *testing.T) {
	words := []string{"liver", "Liver cancer", "heart", "xyzzy123", "", "hepatic tissue", "liv", "ĺiver"}
	for _, a := range words {
		for _, b := range words {
			ab, ba := Score(a, b), Score(b, a)
			if ab != ba {
				t.Fatalf("Score(%q,%q)=%v but Score(%q,%q)=%v", a, b, ab, b, a, ba)
			}
			if ab < 0 || ab > 1 {
				t.Fatalf("Score(%q,%q) out of range: %v", a, b, ab)
			}
		}
		if a != "" && Score(a, a) != 1 {
			t.Fatalf("Score(%q,%q): got=%v want=1", a, a, Score(a, a))
		}
	}
}

func TestScoreIsMonotoneInAlignment(t *testing.T) {
	if !(Score("liver", "liver") > Score("liver", "livers")) {
		t.Fatalf("exact match should beat one edit")
	}
	if !(Score("liver", "livers") > Score("liver", "lover cancer")) {
		t.Fatalf("one edit should beat many edits")
	}
}

func TestMemoComputesOncePerPair(t *testing.T) {
	var calls atomic.Int64
	release := make(chan struct{})
	m := NewMemo(MemoOptions{Func: func(a, b string) float64 {
		calls.Add(1)
		<-release
		return Score(a, b)
	}})

	const callers = 32
	var wg sync.WaitGroup
	results := make([]float64, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				results[i] = m.Score("liver", "Liver cancer")
			} else {
				results[i] = m.Score("LIVER CANCER", "liver")
			}
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Fatalf("computations: got=%d want=1", got)
	}
	if m.Computations() != 1 || m.Len() != 1 {
		t.Fatalf("memo state: computations=%d len=%d", m.Computations(), m.Len())
	}
	for i, r := range results {
		if r != results[0] {
			t.Fatalf("result %d differs: got=%v want=%v", i, r, results[0])
		}
	}

	m.Score("liver", "Liver cancer")
	if got := calls.Load(); got != 1 {
		t.Fatalf("cached lookup recomputed: calls=%d", got)
	}
}

func TestMemoDistinctKeysRunInParallel(t *testing.T) {
	var inFlight, peak atomic.Int64
	gate := make(chan struct{})
	m := NewMemo(MemoOptions{Func: func(a, b string) float64 {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-gate
		inFlight.Add(-1)
		return Score(a, b)
	}})

	var wg sync.WaitGroup
	for _, c := range []string{"liver", "heart", "kidney"} {
		wg.Add(1)
		go func(c string) {
			defer wg.Done()
			m.Score("query", c)
		}(c)
	}
	deadline := time.Now().Add(2 * time.Second)
	for peak.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	close(gate)
	wg.Wait()

	if got := peak.Load(); got != 3 {
		t.Fatalf("parallel computations: got=%d want=3", got)
	}
	m.Reset()
	if m.Len() != 0 {
		t.Fatalf("Reset: len=%d", m.Len())
	}
}
