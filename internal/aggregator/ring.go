package aggregator

import (
	"time"

	"github.com/0xc0d3d00d/marketcore/internal/domain"
)

// candleRing is a bounded FIFO of closed candles. Oldest entries are evicted
// on overflow. Not safe for concurrent use; the owning series locks around it.
type candleRing struct {
	buf   []*domain.Candle
	head  int
	count int
}

func newCandleRing(capacity int) *candleRing {
	return &candleRing{buf: make([]*domain.Candle, capacity)}
}

func (r *candleRing) push(c *domain.Candle) {
	tail := (r.head + r.count) % len(r.buf)
	r.buf[tail] = c
	if r.count == len(r.buf) {
		r.head = (r.head + 1) % len(r.buf)
	} else {
		r.count++
	}
}

// snapshot copies the retained candles in insertion order.
func (r *candleRing) snapshot() []*domain.Candle {
	out := make([]*domain.Candle, 0, r.count)
	for i := 0; i < r.count; i++ {
		out = append(out, r.buf[(r.head+i)%len(r.buf)])
	}
	return out
}

// dropOlderThan evicts entries with a timestamp before cutoff and reports how
// many were removed. Entries are time-ordered, so eviction stops at the first
// survivor.
func (r *candleRing) dropOlderThan(cutoff time.Time) int {
	removed := 0
	for r.count > 0 {
		oldest := r.buf[r.head]
		if !oldest.Timestamp.Before(cutoff) {
			break
		}
		r.buf[r.head] = nil
		r.head = (r.head + 1) % len(r.buf)
		r.count--
		removed++
	}
	return removed
}

func (r *candleRing) len() int {
	return r.count
}
