package indicator

import (
	"sync/atomic"

	"github.com/0xc0d3d00d/marketcore/internal/domain"
)

// DepthImbalanceCalculator measures buy-side versus sell-side pressure over
// the top N book levels. Imbalance ranges from -1 (all depth on the ask
// side) to +1 (all depth on the bid side).
type DepthImbalanceCalculator struct {
	levels   int
	computed atomic.Int64
}

func NewDepthImbalanceCalculator(levels int) *DepthImbalanceCalculator {
	if levels <= 0 {
		levels = 10
	}
	return &DepthImbalanceCalculator{levels: levels}
}

func (c *DepthImbalanceCalculator) Name() string {
	return "depth_imbalance"
}

func (c *DepthImbalanceCalculator) Initialize() error {
	return nil
}

func (c *DepthImbalanceCalculator) Reset() {
	c.computed.Store(0)
}

func (c *DepthImbalanceCalculator) Calculate(book *domain.OrderBookSnapshot, _ *domain.Candle) (*domain.IndicatorSample, error) {
	if book == nil || (len(book.Bids) == 0 && len(book.Asks) == 0) {
		return nil, nil
	}

	bidDepth := sideDepth(book.Bids, c.levels)
	askDepth := sideDepth(book.Asks, c.levels)
	total := bidDepth + askDepth
	if total == 0 {
		return nil, nil
	}

	values := map[string]float64{
		"bid_depth": bidDepth,
		"ask_depth": askDepth,
		"imbalance": (bidDepth - askDepth) / total,
	}
	if askDepth > 0 {
		values["bid_ask_ratio"] = bidDepth / askDepth
	}

	c.computed.Add(1)
	return &domain.IndicatorSample{
		Name:      c.Name(),
		Symbol:    book.Symbol,
		Timestamp: book.Timestamp,
		Values:    values,
	}, nil
}

func sideDepth(levels []domain.PriceLevel, n int) float64 {
	if len(levels) < n {
		n = len(levels)
	}
	depth := 0.0
	for _, level := range levels[:n] {
		depth += level.Quantity
	}
	return depth
}

func (c *DepthImbalanceCalculator) ProcessCandleClose(string, domain.Timeframe, *domain.Candle) (*domain.IndicatorSample, error) {
	return nil, nil
}

func (c *DepthImbalanceCalculator) Diagnostics() map[string]any {
	return map[string]any{
		"levels":   c.levels,
		"computed": c.computed.Load(),
	}
}
