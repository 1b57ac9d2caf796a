package indicator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xc0d3d00d/marketcore/internal/domain"
)

func TestSpreadCalculator(t *testing.T) {
	calc := NewSpreadCalculator()
	require.NoError(t, calc.Initialize())

	ts := time.Date(2024, 3, 5, 14, 37, 0, 0, time.UTC)
	book := &domain.OrderBookSnapshot{
		Symbol:    "BTC/USDT",
		Timestamp: ts,
		Bids:      []domain.PriceLevel{{Price: 100, Quantity: 2}, {Price: 99, Quantity: 5}},
		Asks:      []domain.PriceLevel{{Price: 102, Quantity: 1}, {Price: 103, Quantity: 4}},
	}

	sample, err := calc.Calculate(book, nil)
	require.NoError(t, err)
	require.NotNil(t, sample)
	require.True(t, sample.IsValid())

	assert.Equal(t, "spread", sample.Name)
	assert.Equal(t, "BTC/USDT", sample.Symbol)
	assert.Equal(t, ts, sample.Timestamp)
	assert.Equal(t, 100.0, sample.Values["best_bid"])
	assert.Equal(t, 102.0, sample.Values["best_ask"])
	assert.Equal(t, 2.0, sample.Values["spread"])
	assert.Equal(t, 101.0, sample.Values["mid"])
	assert.InDelta(t, 2.0/101.0*10000, sample.Values["spread_bps"], 1e-9)
	assert.Equal(t, "orderbook", sample.Metadata["source"])
}

func TestSpreadCalculatorSkipsThinBook(t *testing.T) {
	calc := NewSpreadCalculator()
	require.NoError(t, calc.Initialize())

	sample, err := calc.Calculate(nil, nil)
	require.NoError(t, err)
	assert.Nil(t, sample)

	sample, err = calc.Calculate(&domain.OrderBookSnapshot{
		Symbol: "BTC/USDT",
		Bids:   []domain.PriceLevel{{Price: 100, Quantity: 1}},
	}, nil)
	require.NoError(t, err)
	assert.Nil(t, sample)

	assert.Equal(t, int64(2), calc.Diagnostics()["skipped"])
}

func TestDepthImbalanceCalculator(t *testing.T) {
	calc := NewDepthImbalanceCalculator(2)
	require.NoError(t, calc.Initialize())

	book := &domain.OrderBookSnapshot{
		Symbol:    "BTC/USDT",
		Timestamp: time.Date(2024, 3, 5, 14, 37, 0, 0, time.UTC),
		Bids: []domain.PriceLevel{
			{Price: 100, Quantity: 3},
			{Price: 99, Quantity: 3},
			{Price: 98, Quantity: 50}, // beyond the configured depth
		},
		Asks: []domain.PriceLevel{
			{Price: 101, Quantity: 1},
			{Price: 102, Quantity: 1},
		},
	}

	sample, err := calc.Calculate(book, nil)
	require.NoError(t, err)
	require.NotNil(t, sample)

	assert.Equal(t, 6.0, sample.Values["bid_depth"])
	assert.Equal(t, 2.0, sample.Values["ask_depth"])
	assert.InDelta(t, 0.5, sample.Values["imbalance"], 1e-9)
	assert.InDelta(t, 3.0, sample.Values["bid_ask_ratio"], 1e-9)
}

func TestDepthImbalanceOneSidedBook(t *testing.T) {
	calc := NewDepthImbalanceCalculator(0) // defaults to 10 levels
	require.NoError(t, calc.Initialize())

	sample, err := calc.Calculate(&domain.OrderBookSnapshot{
		Symbol: "BTC/USDT",
		Bids:   []domain.PriceLevel{{Price: 100, Quantity: 4}},
	}, nil)
	require.NoError(t, err)
	require.NotNil(t, sample)

	assert.Equal(t, 1.0, sample.Values["imbalance"])
	_, hasRatio := sample.Values["bid_ask_ratio"]
	assert.False(t, hasRatio)
}

func TestVolumeDeltaSplitsByClosePosition(t *testing.T) {
	calc := NewVolumeDeltaCalculator()
	require.NoError(t, calc.Initialize())

	ts := time.Date(2024, 3, 5, 14, 37, 0, 0, time.UTC)
	candle := &domain.Candle{
		Symbol:    "BTC/USDT",
		Timeframe: domain.Timeframe1m,
		Timestamp: ts,
		Open:      100,
		High:      110,
		Low:       100,
		Close:     107.5,
		Volume:    8,
		IsClosed:  true,
	}

	sample, err := calc.ProcessCandleClose("BTC/USDT", domain.Timeframe1m, candle)
	require.NoError(t, err)
	require.NotNil(t, sample)

	// close sits 75% up the range
	assert.InDelta(t, 6.0, sample.Values["buy_volume"], 1e-9)
	assert.InDelta(t, 2.0, sample.Values["sell_volume"], 1e-9)
	assert.InDelta(t, 4.0, sample.Values["delta"], 1e-9)
	assert.InDelta(t, 50.0, sample.Values["delta_pct"], 1e-9)
}

func TestVolumeDeltaZeroRangeSplitsEvenly(t *testing.T) {
	calc := NewVolumeDeltaCalculator()
	require.NoError(t, calc.Initialize())

	candle := &domain.Candle{
		Symbol: "BTC/USDT", Timeframe: domain.Timeframe1m,
		Timestamp: time.Now().UTC(),
		Open:      100, High: 100, Low: 100, Close: 100,
		Volume: 4, IsClosed: true,
	}

	sample, err := calc.ProcessCandleClose("BTC/USDT", domain.Timeframe1m, candle)
	require.NoError(t, err)
	require.NotNil(t, sample)
	assert.Equal(t, 2.0, sample.Values["buy_volume"])
	assert.Equal(t, 2.0, sample.Values["sell_volume"])
	assert.Equal(t, 0.0, sample.Values["delta"])
}

func TestVolumeDeltaKeyedHistory(t *testing.T) {
	calc := NewVolumeDeltaCalculator()
	require.NoError(t, calc.Initialize())

	base := time.Date(2024, 3, 5, 14, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		candle := domain.NewCandle("BTC/USDT", domain.Timeframe1m, base.Add(time.Duration(i)*time.Minute), 100, 1)
		candle.IsClosed = true
		_, err := calc.ProcessCandleClose("BTC/USDT", domain.Timeframe1m, candle)
		require.NoError(t, err)
	}
	other := domain.NewCandle("ETH/USDT", domain.Timeframe5m, base, 50, 1)
	other.IsClosed = true
	_, err := calc.ProcessCandleClose("ETH/USDT", domain.Timeframe5m, other)
	require.NoError(t, err)

	btc := calc.HistoryFor("BTC/USDT", domain.Timeframe1m)
	require.Len(t, btc, 3)
	assert.Equal(t, base, btc[0].Timestamp)
	assert.Len(t, calc.HistoryFor("ETH/USDT", domain.Timeframe5m), 1)
	assert.Empty(t, calc.HistoryFor("BTC/USDT", domain.Timeframe15m))

	diag := calc.Diagnostics()
	assert.Equal(t, int64(4), diag["bars_processed"])
	assert.Equal(t, 2, diag["series_tracked"])
}

func TestVolumeDeltaSkipsEmptyBar(t *testing.T) {
	calc := NewVolumeDeltaCalculator()
	require.NoError(t, calc.Initialize())

	sample, err := calc.ProcessCandleClose("BTC/USDT", domain.Timeframe1m, nil)
	require.NoError(t, err)
	assert.Nil(t, sample)

	empty := domain.NewCandle("BTC/USDT", domain.Timeframe1m, time.Now().UTC(), 100, 0)
	sample, err = calc.ProcessCandleClose("BTC/USDT", domain.Timeframe1m, empty)
	require.NoError(t, err)
	assert.Nil(t, sample)
}
