package aggregator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xc0d3d00d/marketcore/internal/domain"
)

// closeCollector records dispatched close events for assertions.
type closeCollector struct {
	mu     sync.Mutex
	closed []*domain.Candle
	notify chan struct{}
}

func newCloseCollector() *closeCollector {
	return &closeCollector{notify: make(chan struct{}, 64)}
}

func (cc *closeCollector) handler(_ context.Context, _ string, candle *domain.Candle) error {
	cc.mu.Lock()
	cc.closed = append(cc.closed, candle)
	cc.mu.Unlock()
	cc.notify <- struct{}{}
	return nil
}

func (cc *closeCollector) waitFor(t *testing.T, n int) []*domain.Candle {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		cc.mu.Lock()
		if len(cc.closed) >= n {
			out := make([]*domain.Candle, len(cc.closed))
			copy(out, cc.closed)
			cc.mu.Unlock()
			return out
		}
		cc.mu.Unlock()
		select {
		case <-cc.notify:
		case <-deadline:
			t.Fatalf("timed out waiting for %d close events", n)
		}
	}
}

func findClosed(candles []*domain.Candle, tf domain.Timeframe) *domain.Candle {
	for _, c := range candles {
		if c.Timeframe == tf {
			return c
		}
	}
	return nil
}

func TestOneMinuteScenario(t *testing.T) {
	agg := New(nil)
	collector := newCloseCollector()
	agg.OnCandleClose(collector.handler)

	t0 := time.Date(2024, 3, 5, 14, 37, 0, 0, time.UTC)
	agg.ProcessTick("BTC/USDT", 100, 1, t0)
	agg.ProcessTick("BTC/USDT", 105, 2, t0.Add(10*time.Second))
	agg.ProcessTick("BTC/USDT", 95, 1, t0.Add(70*time.Second))

	// The third tick also closes the 15s and 30s buckets; wait until the 1m
	// close shows up.
	var closed *domain.Candle
	for i := 1; closed == nil; i++ {
		closed = findClosed(collector.waitFor(t, i), domain.Timeframe1m)
	}

	assert.Equal(t, t0, closed.Timestamp)
	assert.Equal(t, 100.0, closed.Open)
	assert.Equal(t, 105.0, closed.High)
	assert.Equal(t, 100.0, closed.Low)
	assert.Equal(t, 105.0, closed.Close)
	assert.Equal(t, 3.0, closed.Volume)
	assert.True(t, closed.IsClosed)

	history := agg.GetCandleHistory("BTC/USDT", domain.Timeframe1m)
	require.Len(t, history, 2)
	current := history[1]
	assert.Equal(t, t0.Add(time.Minute), current.Timestamp)
	assert.Equal(t, 95.0, current.Open)
	assert.Equal(t, 95.0, current.High)
	assert.Equal(t, 95.0, current.Low)
	assert.Equal(t, 95.0, current.Close)
	assert.Equal(t, 1.0, current.Volume)
	assert.False(t, current.IsClosed)
}

func TestTicksAggregateAcrossAllTimeframes(t *testing.T) {
	agg := New(nil)
	t0 := time.Date(2024, 3, 5, 14, 0, 0, 0, time.UTC)
	agg.ProcessTick("BTC/USDT", 100, 1, t0)

	for _, tf := range domain.AllTimeframes() {
		history := agg.GetCandleHistory("BTC/USDT", tf)
		require.Len(t, history, 1, tf.String())
		assert.Equal(t, t0, history[0].Timestamp, tf.String())
	}
	assert.Len(t, agg.GetAvailableTimeframes("BTC/USDT"), len(domain.AllTimeframes()))
	assert.Empty(t, agg.GetAvailableTimeframes("ETH/USDT"))
}

func TestCandleInvariantsWithinBucket(t *testing.T) {
	agg := New(nil)
	t0 := time.Date(2024, 3, 5, 14, 0, 0, 0, time.UTC)
	prices := []float64{100, 103, 97, 101, 99}
	for i, p := range prices {
		agg.ProcessTick("BTC/USDT", p, 2, t0.Add(time.Duration(i)*time.Second))
	}

	history := agg.GetCandleHistory("BTC/USDT", domain.Timeframe1m)
	require.Len(t, history, 1)
	c := history[0]
	assert.Equal(t, 100.0, c.Open)
	assert.Equal(t, 103.0, c.High)
	assert.Equal(t, 97.0, c.Low)
	assert.Equal(t, 99.0, c.Close)
	assert.Equal(t, 10.0, c.Volume)
	assert.NoError(t, c.Validate())
}

func TestHandlerFailureDoesNotAffectIngestion(t *testing.T) {
	agg := New(nil)
	collector := newCloseCollector()
	agg.OnCandleClose(func(context.Context, string, *domain.Candle) error {
		return errors.New("handler exploded")
	})
	agg.OnCandleClose(func(context.Context, string, *domain.Candle) error {
		panic("handler panicked")
	})
	agg.OnCandleClose(collector.handler)

	t0 := time.Date(2024, 3, 5, 14, 37, 0, 0, time.UTC)
	agg.ProcessTick("BTC/USDT", 100, 1, t0)
	agg.ProcessTick("BTC/USDT", 101, 1, t0.Add(16*time.Second))

	// The healthy handler still receives the 15s close.
	closed := collector.waitFor(t, 1)
	assert.Equal(t, domain.Timeframe15s, closed[0].Timeframe)
}

func TestHandlerReceivesCopy(t *testing.T) {
	agg := New(nil)
	collector := newCloseCollector()
	agg.OnCandleClose(collector.handler)

	t0 := time.Date(2024, 3, 5, 14, 37, 0, 0, time.UTC)
	agg.ProcessTick("BTC/USDT", 100, 1, t0)
	agg.ProcessTick("BTC/USDT", 101, 1, t0.Add(16*time.Second))

	closed := collector.waitFor(t, 1)[0]
	closed.Close = -1

	history := agg.GetCandleHistory("BTC/USDT", domain.Timeframe15s)
	require.Len(t, history, 2)
	assert.Equal(t, 100.0, history[0].Close)
}

func TestMalformedTickIsDropped(t *testing.T) {
	agg := New(nil)
	agg.ProcessTick("", 100, 1, time.Now().UTC())
	agg.ProcessTick("BTC/USDT", -5, 1, time.Now().UTC())
	agg.ProcessTick("BTC/USDT", 100, -1, time.Now().UTC())

	assert.Empty(t, agg.GetCandleHistory("BTC/USDT", domain.Timeframe1m))
	assert.Equal(t, int64(3), agg.Diagnostics().TickErrors)
}

func TestNonUTCTimestampNormalized(t *testing.T) {
	agg := New(nil)
	zone := time.FixedZone("CET", 3600)
	local := time.Date(2024, 3, 5, 15, 37, 10, 0, zone) // 14:37:10 UTC

	agg.ProcessTick("BTC/USDT", 100, 1, local)

	history := agg.GetCandleHistory("BTC/USDT", domain.Timeframe1m)
	require.Len(t, history, 1)
	assert.Equal(t, time.Date(2024, 3, 5, 14, 37, 0, 0, time.UTC), history[0].Timestamp)
}

func TestCleanupOldData(t *testing.T) {
	agg := New(nil)
	// Hour-aligned so the two ticks only straddle a 15s bucket boundary.
	old := time.Now().UTC().Add(-2 * time.Hour).Truncate(time.Hour)
	agg.ProcessTick("BTC/USDT", 100, 1, old)
	agg.ProcessTick("BTC/USDT", 101, 1, old.Add(16*time.Second)) // closes the 15s bucket

	removed := agg.CleanupOldData(time.Hour)
	assert.Equal(t, 1, removed)
	// Only the in-progress candle remains in the 15s series.
	assert.Len(t, agg.GetCandleHistory("BTC/USDT", domain.Timeframe15s), 1)
}

func TestRingEvictsOldest(t *testing.T) {
	ring := newCandleRing(3)
	base := time.Date(2024, 3, 5, 14, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		ring.push(&domain.Candle{Timestamp: base.Add(time.Duration(i) * time.Minute)})
	}

	snap := ring.snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, 3, ring.len())
	assert.Equal(t, base.Add(2*time.Minute), snap[0].Timestamp)
	assert.Equal(t, base.Add(4*time.Minute), snap[2].Timestamp)
}
