package indicator

import (
	"sync/atomic"

	"github.com/0xc0d3d00d/marketcore/internal/domain"
)

// SpreadCalculator derives best bid/ask, absolute spread, relative spread
// and mid price from each order-book snapshot.
type SpreadCalculator struct {
	computed atomic.Int64
	skipped  atomic.Int64
}

func NewSpreadCalculator() *SpreadCalculator {
	return &SpreadCalculator{}
}

func (c *SpreadCalculator) Name() string {
	return "spread"
}

func (c *SpreadCalculator) Initialize() error {
	return nil
}

func (c *SpreadCalculator) Reset() {
	c.computed.Store(0)
	c.skipped.Store(0)
}

func (c *SpreadCalculator) Calculate(book *domain.OrderBookSnapshot, _ *domain.Candle) (*domain.IndicatorSample, error) {
	if book == nil || len(book.Bids) == 0 || len(book.Asks) == 0 {
		c.skipped.Add(1)
		return nil, nil
	}

	mid := book.MidPrice()
	spread := book.Spread()
	values := map[string]float64{
		"best_bid": book.BestBid(),
		"best_ask": book.BestAsk(),
		"spread":   spread,
		"mid":      mid,
	}
	if mid > 0 {
		values["spread_bps"] = spread / mid * 10000
	}

	c.computed.Add(1)
	return &domain.IndicatorSample{
		Name:      c.Name(),
		Symbol:    book.Symbol,
		Timestamp: book.Timestamp,
		Values:    values,
		Metadata:  map[string]string{"source": "orderbook"},
	}, nil
}

func (c *SpreadCalculator) ProcessCandleClose(string, domain.Timeframe, *domain.Candle) (*domain.IndicatorSample, error) {
	return nil, nil
}

func (c *SpreadCalculator) Diagnostics() map[string]any {
	return map[string]any{
		"computed": c.computed.Load(),
		"skipped":  c.skipped.Load(),
	}
}
