package otel

import (
	"maps"
	"sync"
)

// DefaultRingSize is the capacity used when NewRingBuffer gets a
// non-positive size.
const DefaultRingSize = 1024

// RingBuffer keeps the most recent events. Safe for concurrent use.
type RingBuffer struct {
	mu    sync.Mutex
	buf   []Event
	head  int // next write slot
	count int
}

func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = DefaultRingSize
	}
	return &RingBuffer{buf: make([]Event, size)}
}

// Push stores e, evicting the oldest event when full. Extra is copied so
// the caller may keep mutating its map.
func (r *RingBuffer) Push(e Event) {
	if e.Extra != nil {
		e.Extra = maps.Clone(e.Extra)
	}
	r.mu.Lock()
	r.buf[r.head] = e
	r.head = (r.head + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
	r.mu.Unlock()
}

// at returns the i-th oldest buffered event. Caller holds r.mu.
func (r *RingBuffer) at(i int) Event {
	start := 0
	if r.count == len(r.buf) {
		start = r.head
	}
	return r.buf[(start+i)%len(r.buf)]
}

// Snapshot returns every buffered event, oldest first.
func (r *RingBuffer) Snapshot() []Event {
	return r.Last(r.Cap())
}

// Last returns up to n of the newest events, oldest first.
func (r *RingBuffer) Last(n int) []Event {
	return r.Find(Filter{}, n)
}

// Find returns up to n of the newest events matching f, oldest first.
func (r *RingBuffer) Find(f Filter, n int) []Event {
	if n <= 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var picked []Event
	for i := r.count - 1; i >= 0 && len(picked) < n; i-- {
		if e := r.at(i); f.Match(e) {
			picked = append(picked, e)
		}
	}
	if len(picked) == 0 {
		return nil
	}
	for i, j := 0, len(picked)-1; i < j; i, j = i+1, j-1 {
		picked[i], picked[j] = picked[j], picked[i]
	}
	return picked
}

func (r *RingBuffer) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

func (r *RingBuffer) Cap() int {
	return len(r.buf)
}

// Stats counts buffered events per kind.
func (r *RingBuffer) Stats() map[EventKind]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := make(map[EventKind]int)
	for i := 0; i < r.count; i++ {
		counts[r.at(i).Kind]++
	}
	return counts
}
