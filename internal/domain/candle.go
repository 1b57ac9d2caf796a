package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidCandle = errors.New("invalid candle")
)

type Candle struct {
	Symbol    string
	Timeframe Timeframe
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	IsClosed  bool
}

// NewCandle seeds a candle from the first tick of a bucket.
func NewCandle(symbol string, timeframe Timeframe, bucketStart time.Time, price, volume float64) *Candle {
	return &Candle{
		Symbol:    symbol,
		Timeframe: timeframe,
		Timestamp: bucketStart.UTC(),
		Open:      price,
		High:      price,
		Low:       price,
		Close:     price,
		Volume:    volume,
	}
}

// Apply folds a subsequent tick from the same bucket into the candle.
func (c *Candle) Apply(price, volume float64) {
	if price > c.High {
		c.High = price
	}
	if price < c.Low {
		c.Low = price
	}
	c.Close = price
	c.Volume += volume
}

func (c *Candle) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("%w: empty symbol", ErrInvalidCandle)
	}
	if c.Timeframe == 0 {
		return fmt.Errorf("%w: empty timeframe", ErrInvalidCandle)
	}
	if c.Timestamp.IsZero() {
		return fmt.Errorf("%w: zero timestamp", ErrInvalidCandle)
	}
	if c.Open <= 0 || c.High <= 0 || c.Low <= 0 || c.Close <= 0 {
		return fmt.Errorf("%w: non-positive price", ErrInvalidCandle)
	}
	if c.High < c.Open || c.High < c.Close || c.High < c.Low {
		return fmt.Errorf("%w: high below other prices", ErrInvalidCandle)
	}
	if c.Low > c.Open || c.Low > c.Close {
		return fmt.Errorf("%w: low above other prices", ErrInvalidCandle)
	}
	if c.Volume < 0 {
		return fmt.Errorf("%w: negative volume", ErrInvalidCandle)
	}
	return nil
}

func (c *Candle) Clone() *Candle {
	dup := *c
	return &dup
}
