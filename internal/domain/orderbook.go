package domain

import "time"

// PriceLevel is one price/quantity pair of an order book side.
type PriceLevel struct {
	Price    float64
	Quantity float64
}

// OrderBookSnapshot is a point-in-time copy of an instrument's book.
// Bids are ordered descending by price, asks ascending. Snapshots handed to
// asynchronous consumers must be deep-copied first; the feed keeps mutating
// its own working copy.
type OrderBookSnapshot struct {
	Symbol       string
	Timestamp    time.Time
	Bids         []PriceLevel
	Asks         []PriceLevel
	LastUpdateID int64
}

// BestBid returns the highest bid price, or 0 if the bid side is empty.
func (ob *OrderBookSnapshot) BestBid() float64 {
	if len(ob.Bids) == 0 {
		return 0
	}
	return ob.Bids[0].Price
}

// BestAsk returns the lowest ask price, or 0 if the ask side is empty.
func (ob *OrderBookSnapshot) BestAsk() float64 {
	if len(ob.Asks) == 0 {
		return 0
	}
	return ob.Asks[0].Price
}

// Spread returns best ask minus best bid, or 0 when either side is empty or
// the book is crossed.
func (ob *OrderBookSnapshot) Spread() float64 {
	bid, ask := ob.BestBid(), ob.BestAsk()
	if bid == 0 || ask == 0 || ask < bid {
		return 0
	}
	return ask - bid
}

// MidPrice returns the average of best bid and best ask, or 0 when either
// side is empty.
func (ob *OrderBookSnapshot) MidPrice() float64 {
	bid, ask := ob.BestBid(), ob.BestAsk()
	if bid == 0 || ask == 0 {
		return 0
	}
	return (bid + ask) / 2
}

// Clone deep-copies the snapshot so consumers can read it while the source
// keeps mutating.
func (ob *OrderBookSnapshot) Clone() *OrderBookSnapshot {
	dup := *ob
	dup.Bids = make([]PriceLevel, len(ob.Bids))
	copy(dup.Bids, ob.Bids)
	dup.Asks = make([]PriceLevel, len(ob.Asks))
	copy(dup.Asks, ob.Asks)
	return &dup
}
