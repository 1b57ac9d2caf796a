package indicator

import "github.com/0xc0d3d00d/marketcore/internal/domain"

// sampleRing is a bounded FIFO of indicator samples with oldest-first
// eviction. Callers synchronize access.
type sampleRing struct {
	buf   []*domain.IndicatorSample
	head  int
	count int
}

func newSampleRing(capacity int) *sampleRing {
	return &sampleRing{buf: make([]*domain.IndicatorSample, capacity)}
}

func (r *sampleRing) push(s *domain.IndicatorSample) {
	tail := (r.head + r.count) % len(r.buf)
	r.buf[tail] = s
	if r.count == len(r.buf) {
		r.head = (r.head + 1) % len(r.buf)
	} else {
		r.count++
	}
}

func (r *sampleRing) snapshot() []*domain.IndicatorSample {
	out := make([]*domain.IndicatorSample, 0, r.count)
	for i := 0; i < r.count; i++ {
		out = append(out, r.buf[(r.head+i)%len(r.buf)])
	}
	return out
}

func (r *sampleRing) len() int {
	return r.count
}
