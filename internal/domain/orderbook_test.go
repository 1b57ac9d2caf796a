package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func book(bids, asks []PriceLevel) *OrderBookSnapshot {
	return &OrderBookSnapshot{
		Symbol:    "BTCUSDT",
		Timestamp: time.Now().UTC(),
		Bids:      bids,
		Asks:      asks,
	}
}

func TestOrderBookDerived(t *testing.T) {
	ob := book(
		[]PriceLevel{{Price: 100, Quantity: 2}, {Price: 99, Quantity: 1}},
		[]PriceLevel{{Price: 101, Quantity: 3}, {Price: 102, Quantity: 4}},
	)

	assert.Equal(t, 100.0, ob.BestBid())
	assert.Equal(t, 101.0, ob.BestAsk())
	assert.Equal(t, 1.0, ob.Spread())
	assert.Equal(t, 100.5, ob.MidPrice())
}

func TestOrderBookEmptySides(t *testing.T) {
	ob := book(nil, []PriceLevel{{Price: 101, Quantity: 3}})

	assert.Equal(t, 0.0, ob.BestBid())
	assert.Equal(t, 0.0, ob.Spread())
	assert.Equal(t, 0.0, ob.MidPrice())
}

func TestOrderBookCrossedSpreadIsZero(t *testing.T) {
	ob := book(
		[]PriceLevel{{Price: 102, Quantity: 1}},
		[]PriceLevel{{Price: 101, Quantity: 1}},
	)
	assert.Equal(t, 0.0, ob.Spread())
}

func TestOrderBookCloneIsDeep(t *testing.T) {
	ob := book(
		[]PriceLevel{{Price: 100, Quantity: 2}},
		[]PriceLevel{{Price: 101, Quantity: 3}},
	)

	dup := ob.Clone()
	ob.Bids[0].Price = 1
	ob.Asks[0].Quantity = 0

	assert.Equal(t, 100.0, dup.Bids[0].Price)
	assert.Equal(t, 3.0, dup.Asks[0].Quantity)
}
