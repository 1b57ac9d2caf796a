// Package indicator hosts the registry and fan-out driver for pluggable
// microstructure calculators fed by order-book snapshots and closed candles.
package indicator

import (
	"github.com/0xc0d3d00d/marketcore/internal/domain"
)

// Calculator is the capability set every indicator implements.
//
// Calculate is invoked per order-book snapshot (candle may carry the
// in-progress bar, or be nil). ProcessCandleClose is invoked once per closed
// bar; bar-accumulating calculators flush their derived values there. Either
// hook may return (nil, nil) when it has nothing to emit.
type Calculator interface {
	Name() string
	Initialize() error
	Reset()
	Calculate(book *domain.OrderBookSnapshot, candle *domain.Candle) (*domain.IndicatorSample, error)
	ProcessCandleClose(symbol string, tf domain.Timeframe, candle *domain.Candle) (*domain.IndicatorSample, error)
	Diagnostics() map[string]any
}

// KeyedHistorian is an optional capability for calculators that maintain
// their own (symbol, timeframe)-indexed history beyond the engine's generic
// buffer. Fully-qualified history queries are routed here when implemented.
type KeyedHistorian interface {
	HistoryFor(symbol string, tf domain.Timeframe) []*domain.IndicatorSample
}
