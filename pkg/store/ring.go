package store

import "github.com/devicelab-dev/publish-agent/pkg/core"

// ring is a fixed-capacity log buffer; the oldest entry is evicted first.
type ring struct {
	buf   []core.LogEntry
	start int
	n     int
}

func newRing(capacity int) *ring {
	if capacity < 1 {
		capacity = 1
	}
	return &ring{buf: make([]core.LogEntry, capacity)}
}

func (r *ring) push(e core.LogEntry) {
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = e
		r.n++
		return
	}
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

// entries returns the retained entries, oldest first.
func (r *ring) entries() []core.LogEntry {
	out := make([]core.LogEntry, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

// resize keeps the newest entries that fit the new capacity.
func (r *ring) resize(capacity int) {
	if capacity < 1 {
		capacity = 1
	}
	if capacity == len(r.buf) {
		return
	}
	keep := r.entries()
	if len(keep) > capacity {
		keep = keep[len(keep)-capacity:]
	}
	r.buf = make([]core.LogEntry, capacity)
	r.start = 0
	r.n = copy(r.buf, keep)
}

func (r *ring) clear() {
	r.start, r.n = 0, 0
}
