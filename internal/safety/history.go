package safety

import (
	"sync"
	"time"

	"agentguard/internal/domain"
)

// historyRing is a fixed-capacity execution log. When full, the oldest record
// is overwritten, so memory stays bounded no matter how long the process runs.
type historyRing struct {
	mu   sync.RWMutex
	buf  []domain.CommandRecord
	next int
	full bool
}

func newHistoryRing(capacity int) *historyRing {
	return &historyRing{buf: make([]domain.CommandRecord, capacity)}
}

func (r *historyRing) add(rec domain.CommandRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = rec
	r.next++
	if r.next == len(r.buf) {
		r.next = 0
		r.full = true
	}
}

func (r *historyRing) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.full {
		return len(r.buf)
	}
	return r.next
}

// newestFirst returns up to limit records, most recent first. limit <= 0
// means all.
func (r *historyRing) newestFirst(limit int) []domain.CommandRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := r.next
	if r.full {
		n = len(r.buf)
	}
	if limit <= 0 || limit > n {
		limit = n
	}

	out := make([]domain.CommandRecord, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (r.next - i + len(r.buf)) % len(r.buf)
		out = append(out, r.buf[idx])
	}
	return out
}

// clearOlderThan drops records before cutoff and reports how many were
// removed. Surviving records keep their relative order.
func (r *historyRing) clearOlderThan(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.next
	if r.full {
		n = len(r.buf)
	}
	kept := make([]domain.CommandRecord, 0, n)
	start := 0
	if r.full {
		start = r.next
	}
	for i := 0; i < n; i++ {
		rec := r.buf[(start+i)%len(r.buf)]
		if !rec.Timestamp.Before(cutoff) {
			kept = append(kept, rec)
		}
	}
	removed := n - len(kept)

	clear(r.buf)
	copy(r.buf, kept)
	r.next = len(kept) % len(r.buf)
	r.full = len(kept) == len(r.buf)
	return removed
}
