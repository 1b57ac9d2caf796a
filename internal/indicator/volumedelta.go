package indicator

import (
	"sync"

	"github.com/0xc0d3d00d/marketcore/internal/domain"
)

const deltaHistoryCapacity = 256

// VolumeDeltaCalculator splits each closed bar's volume into an estimated
// buy and sell share and flushes the result at the bar boundary. The split
// uses the close position inside the bar's range; a bar closing at its high
// counts fully as buying pressure.
//
// It keeps its own (symbol, timeframe)-indexed history and therefore serves
// fully-qualified history queries directly.
type VolumeDeltaCalculator struct {
	mu      sync.Mutex
	history map[string]*sampleRing
	bars    int64
}

func NewVolumeDeltaCalculator() *VolumeDeltaCalculator {
	return &VolumeDeltaCalculator{}
}

func (c *VolumeDeltaCalculator) Name() string {
	return "volume_delta"
}

func (c *VolumeDeltaCalculator) Initialize() error {
	c.mu.Lock()
	c.history = make(map[string]*sampleRing)
	c.mu.Unlock()
	return nil
}

func (c *VolumeDeltaCalculator) Reset() {
	c.mu.Lock()
	c.history = make(map[string]*sampleRing)
	c.bars = 0
	c.mu.Unlock()
}

// Calculate emits nothing per snapshot; this calculator only produces values
// at bar boundaries.
func (c *VolumeDeltaCalculator) Calculate(*domain.OrderBookSnapshot, *domain.Candle) (*domain.IndicatorSample, error) {
	return nil, nil
}

func (c *VolumeDeltaCalculator) ProcessCandleClose(symbol string, tf domain.Timeframe, candle *domain.Candle) (*domain.IndicatorSample, error) {
	if candle == nil || candle.Volume <= 0 {
		return nil, nil
	}

	// Close at the high → all buying, at the low → all selling. A doji bar
	// with zero range splits evenly.
	buyFraction := 0.5
	if spread := candle.High - candle.Low; spread > 0 {
		buyFraction = (candle.Close - candle.Low) / spread
	}
	buyVolume := candle.Volume * buyFraction
	sellVolume := candle.Volume - buyVolume

	sample := &domain.IndicatorSample{
		Name:      c.Name(),
		Symbol:    symbol,
		Timeframe: tf,
		Timestamp: candle.Timestamp,
		Values: map[string]float64{
			"buy_volume":  buyVolume,
			"sell_volume": sellVolume,
			"delta":       buyVolume - sellVolume,
			"delta_pct":   (buyVolume - sellVolume) / candle.Volume * 100,
		},
	}

	key := symbol + "|" + tf.String()
	c.mu.Lock()
	ring, ok := c.history[key]
	if !ok {
		ring = newSampleRing(deltaHistoryCapacity)
		c.history[key] = ring
	}
	ring.push(sample)
	c.bars++
	c.mu.Unlock()

	return sample, nil
}

// HistoryFor serves fully-qualified history queries from the calculator's
// own indexed buffer.
func (c *VolumeDeltaCalculator) HistoryFor(symbol string, tf domain.Timeframe) []*domain.IndicatorSample {
	c.mu.Lock()
	defer c.mu.Unlock()
	ring, ok := c.history[symbol+"|"+tf.String()]
	if !ok {
		return nil
	}
	return ring.snapshot()
}

func (c *VolumeDeltaCalculator) Diagnostics() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return map[string]any{
		"bars_processed": c.bars,
		"series_tracked": len(c.history),
	}
}
