package domain

import (
	"errors"
	"time"
)

var ErrInvalidTimeframe = errors.New("invalid timeframe")

// Timeframe is a named aggregation granularity. The set is static; adding a
// frame means extending the tables below and the bucket rules in BucketStart.
type Timeframe time.Duration

const (
	Timeframe15s = Timeframe(15 * time.Second)
	Timeframe30s = Timeframe(30 * time.Second)
	Timeframe1m  = Timeframe(time.Minute)
	Timeframe5m  = Timeframe(5 * time.Minute)
	Timeframe15m = Timeframe(15 * time.Minute)
	Timeframe1h  = Timeframe(time.Hour)
)

var timeframeToString = map[Timeframe]string{
	Timeframe15s: "15s",
	Timeframe30s: "30s",
	Timeframe1m:  "1m",
	Timeframe5m:  "5m",
	Timeframe15m: "15m",
	Timeframe1h:  "1h",
}

var stringToTimeframe = map[string]Timeframe{
	"15s": Timeframe15s,
	"30s": Timeframe30s,
	"1m":  Timeframe1m,
	"5m":  Timeframe5m,
	"15m": Timeframe15m,
	"1h":  Timeframe1h,
}

// AllTimeframes returns the configured frames in ascending duration order.
func AllTimeframes() []Timeframe {
	return []Timeframe{Timeframe15s, Timeframe30s, Timeframe1m, Timeframe5m, Timeframe15m, Timeframe1h}
}

func (tf Timeframe) String() string {
	return timeframeToString[tf]
}

func (tf Timeframe) Duration() time.Duration {
	return time.Duration(tf)
}

func ParseTimeframe(s string) (Timeframe, error) {
	tf, ok := stringToTimeframe[s]
	if !ok {
		return 0, ErrInvalidTimeframe
	}
	return tf, nil
}

// BucketStart floors t to the start of the bucket containing it. Sub-minute
// frames floor the second-of-minute to a multiple of the frame, minute frames
// floor the minute, the hour frame zeroes minutes and seconds. Sub-second
// components are always dropped. t is normalized to UTC first.
func (tf Timeframe) BucketStart(t time.Time) (time.Time, error) {
	t = t.UTC()
	switch tf {
	case Timeframe15s, Timeframe30s:
		step := int(tf.Duration().Seconds())
		sec := t.Second() / step * step
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), sec, 0, time.UTC), nil
	case Timeframe1m, Timeframe5m, Timeframe15m:
		step := int(tf.Duration().Minutes())
		min := t.Minute() / step * step
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), min, 0, 0, time.UTC), nil
	case Timeframe1h:
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, time.UTC), nil
	}
	return time.Time{}, ErrInvalidTimeframe
}
