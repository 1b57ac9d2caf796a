// Package aggregator buckets trade ticks into OHLCV candles across every
// configured timeframe and emits closed candles to subscribed handlers.
package aggregator

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/0xc0d3d00d/marketcore/internal/domain"
	"github.com/0xc0d3d00d/marketcore/internal/metrics"
)

const historyCapacity = 1000

// CloseHandler consumes a closed candle. Handlers run asynchronously;
// failures are logged and never reach the ingestion caller.
type CloseHandler func(ctx context.Context, symbol string, candle *domain.Candle) error

type seriesKey struct {
	symbol    string
	timeframe domain.Timeframe
}

// series holds the per-key accumulation state. Each key carries its own
// mutex so one hot symbol never serializes the others.
type series struct {
	mu      sync.Mutex
	current *domain.Candle
	history *candleRing
}

type Aggregator struct {
	timeframes []domain.Timeframe
	met        *metrics.Metrics

	mu     sync.RWMutex
	series map[seriesKey]*series

	handlersMu sync.RWMutex
	handlers   []CloseHandler

	ticksProcessed atomic.Int64
	candlesClosed  atomic.Int64
	tickErrors     atomic.Int64
}

func New(met *metrics.Metrics) *Aggregator {
	return &Aggregator{
		timeframes: domain.AllTimeframes(),
		met:        met,
		series:     make(map[seriesKey]*series),
	}
}

// OnCandleClose subscribes a handler to close events across all keys.
func (a *Aggregator) OnCandleClose(handler CloseHandler) {
	a.handlersMu.Lock()
	a.handlers = append(a.handlers, handler)
	a.handlersMu.Unlock()
}

// ProcessTick folds one trade into every configured timeframe independently.
// A failure on one timeframe is logged and never drops the tick for the
// others. The tick timestamp is normalized to UTC.
func (a *Aggregator) ProcessTick(symbol string, price, volume float64, timestamp time.Time) {
	if symbol == "" || price <= 0 || volume < 0 {
		a.tickErrors.Add(1)
		slog.Warn("dropping malformed tick", "symbol", symbol, "price", price, "volume", volume)
		return
	}
	if timestamp.Location() != time.UTC {
		slog.Debug("normalizing non-UTC tick timestamp", "symbol", symbol, "zone", timestamp.Location().String())
		timestamp = timestamp.UTC()
	}

	for _, tf := range a.timeframes {
		if err := a.processTimeframe(symbol, tf, price, volume, timestamp); err != nil {
			a.tickErrors.Add(1)
			slog.Error("tick processing failed for timeframe", "symbol", symbol, "timeframe", tf.String(), "error", err)
		}
	}

	a.ticksProcessed.Add(1)
	if a.met != nil {
		a.met.TicksTotal.Inc()
	}
}

func (a *Aggregator) processTimeframe(symbol string, tf domain.Timeframe, price, volume float64, timestamp time.Time) error {
	bucketStart, err := tf.BucketStart(timestamp)
	if err != nil {
		return err
	}

	sr := a.seriesFor(seriesKey{symbol: symbol, timeframe: tf})
	sr.mu.Lock()

	if sr.current != nil && sr.current.Timestamp.Equal(bucketStart) {
		sr.current.Apply(price, volume)
		sr.mu.Unlock()
		return nil
	}

	var closed *domain.Candle
	if sr.current != nil {
		sr.current.IsClosed = true
		closed = sr.current
		sr.history.push(closed)
	}
	sr.current = domain.NewCandle(symbol, tf, bucketStart, price, volume)
	sr.mu.Unlock()

	if closed != nil {
		a.candlesClosed.Add(1)
		if a.met != nil {
			a.met.CandlesClosedTotal.WithLabelValues(tf.String()).Inc()
		}
		a.dispatchClose(symbol, closed)
	}
	return nil
}

func (a *Aggregator) seriesFor(key seriesKey) *series {
	a.mu.RLock()
	sr, ok := a.series[key]
	a.mu.RUnlock()
	if ok {
		return sr
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if sr, ok = a.series[key]; ok {
		return sr
	}
	sr = &series{history: newCandleRing(historyCapacity)}
	a.series[key] = sr
	return sr
}

// dispatchClose fans the closed candle out to every handler on its own
// goroutine. Ingestion never waits on handlers; a panicking or failing
// handler is caught and logged.
func (a *Aggregator) dispatchClose(symbol string, closed *domain.Candle) {
	a.handlersMu.RLock()
	handlers := make([]CloseHandler, len(a.handlers))
	copy(handlers, a.handlers)
	a.handlersMu.RUnlock()

	for _, handler := range handlers {
		go func(h CloseHandler) {
			defer func() {
				if r := recover(); r != nil {
					if a.met != nil {
						a.met.CloseDispatchErrors.Inc()
					}
					slog.Error("candle close handler panicked", "symbol", symbol, "timeframe", closed.Timeframe.String(), "panic", r)
				}
			}()
			if err := h(context.Background(), symbol, closed.Clone()); err != nil {
				if a.met != nil {
					a.met.CloseDispatchErrors.Inc()
				}
				slog.Error("candle close handler failed", "symbol", symbol, "timeframe", closed.Timeframe.String(), "error", err)
			}
		}(handler)
	}
}

// GetCandleHistory returns the retained closed candles plus the in-progress
// candle, ascending by timestamp.
func (a *Aggregator) GetCandleHistory(symbol string, tf domain.Timeframe) []*domain.Candle {
	a.mu.RLock()
	sr, ok := a.series[seriesKey{symbol: symbol, timeframe: tf}]
	a.mu.RUnlock()
	if !ok {
		return nil
	}

	sr.mu.Lock()
	out := sr.history.snapshot()
	if sr.current != nil {
		out = append(out, sr.current.Clone())
	}
	sr.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// GetAvailableTimeframes lists timeframes that have accumulated any candle
// for the symbol.
func (a *Aggregator) GetAvailableTimeframes(symbol string) []domain.Timeframe {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]domain.Timeframe, 0, len(a.timeframes))
	for _, tf := range a.timeframes {
		if _, ok := a.series[seriesKey{symbol: symbol, timeframe: tf}]; ok {
			out = append(out, tf)
		}
	}
	return out
}

// CleanupOldData drops retained candles older than maxAge across all keys.
func (a *Aggregator) CleanupOldData(maxAge time.Duration) int {
	cutoff := time.Now().UTC().Add(-maxAge)

	a.mu.RLock()
	all := make([]*series, 0, len(a.series))
	for _, sr := range a.series {
		all = append(all, sr)
	}
	a.mu.RUnlock()

	removed := 0
	for _, sr := range all {
		sr.mu.Lock()
		removed += sr.history.dropOlderThan(cutoff)
		sr.mu.Unlock()
	}
	if removed > 0 {
		slog.Debug("aggregator cleanup removed candles", "removed", removed, "cutoff", cutoff)
	}
	return removed
}

// RunCleanup prunes history on a fixed delay until ctx is cancelled.
func (a *Aggregator) RunCleanup(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.CleanupOldData(maxAge)
		}
	}
}

type Diagnostics struct {
	SeriesCount    int   `json:"series_count"`
	TicksProcessed int64 `json:"ticks_processed"`
	CandlesClosed  int64 `json:"candles_closed"`
	TickErrors     int64 `json:"tick_errors"`
	Handlers       int   `json:"handlers"`
}

func (a *Aggregator) Diagnostics() Diagnostics {
	a.mu.RLock()
	seriesCount := len(a.series)
	a.mu.RUnlock()
	a.handlersMu.RLock()
	handlers := len(a.handlers)
	a.handlersMu.RUnlock()
	return Diagnostics{
		SeriesCount:    seriesCount,
		TicksProcessed: a.ticksProcessed.Load(),
		CandlesClosed:  a.candlesClosed.Load(),
		TickErrors:     a.tickErrors.Load(),
		Handlers:       handlers,
	}
}
