package storage

import (
	"errors"
	"time"

	"github.com/0xc0d3d00d/marketcore/internal/domain"
)

const (
	// formatVersion is written to every new file. Readers accept the current
	// version and the immediately preceding one; anything else is skipped.
	formatVersion    = byte(3)
	minFormatVersion = byte(2)
)

// Time-kind byte carried per record since format version 3. Files older than
// that have no kind byte and are read assuming UTC.
const (
	timeKindUnspecified = byte(0)
	timeKindUTC         = byte(1)
	timeKindLocal       = byte(2)
)

var ErrUnsupportedVersion = errors.New("unsupported format version")

// Codec serializes one record kind. The store is generic over it; the file
// header is identical across kinds, only the record payload differs.
type Codec[R any] interface {
	Encode(bw *binWriter, rec R)
	Decode(br *binReader, version byte) R
	Timestamp(rec R) time.Time
	Valid(rec R) bool
}

func encodeTimestamp(bw *binWriter, t time.Time) {
	bw.Int64(t.UTC().UnixNano())
	bw.Byte(timeKindUTC)
}

func decodeTimestamp(br *binReader, version byte) time.Time {
	nanos := br.Int64()
	if version >= 3 {
		// The kind byte only disambiguated legacy wall-clock timestamps;
		// UnixNano is absolute, so it is read and dropped.
		br.Byte()
	}
	return time.Unix(0, nanos).UTC()
}

// CandleCodec serializes closed candles.
type CandleCodec struct{}

func (CandleCodec) Encode(bw *binWriter, c *domain.Candle) {
	encodeTimestamp(bw, c.Timestamp)
	bw.Float64(c.Open)
	bw.Float64(c.High)
	bw.Float64(c.Low)
	bw.Float64(c.Close)
	bw.Float64(c.Volume)
	bw.Str(c.Symbol)
	bw.Str(c.Timeframe.String())
}

func (CandleCodec) Decode(br *binReader, version byte) *domain.Candle {
	c := &domain.Candle{IsClosed: true}
	c.Timestamp = decodeTimestamp(br, version)
	c.Open = br.Float64()
	c.High = br.Float64()
	c.Low = br.Float64()
	c.Close = br.Float64()
	c.Volume = br.Float64()
	c.Symbol = br.Str()
	c.Timeframe, _ = domain.ParseTimeframe(br.Str())
	return c
}

func (CandleCodec) Timestamp(c *domain.Candle) time.Time {
	return c.Timestamp
}

func (CandleCodec) Valid(c *domain.Candle) bool {
	return c != nil && c.Validate() == nil
}

// SampleCodec serializes indicator samples.
type SampleCodec struct{}

func (SampleCodec) Encode(bw *binWriter, s *domain.IndicatorSample) {
	encodeTimestamp(bw, s.Timestamp)
	bw.Str(s.Name)
	bw.Str(s.Symbol)
	bw.Str(s.Timeframe.String())
	bw.Int32(int32(len(s.Values)))
	for k, v := range s.Values {
		bw.Str(k)
		bw.Float64(v)
	}
	bw.Int32(int32(len(s.Metadata)))
	for k, v := range s.Metadata {
		bw.Str(k)
		bw.Str(v)
	}
}

func (SampleCodec) Decode(br *binReader, version byte) *domain.IndicatorSample {
	s := &domain.IndicatorSample{}
	s.Timestamp = decodeTimestamp(br, version)
	s.Name = br.Str()
	s.Symbol = br.Str()
	s.Timeframe, _ = domain.ParseTimeframe(br.Str())
	valueCount := br.Int32()
	if valueCount > 0 && br.Err() == nil {
		s.Values = make(map[string]float64, valueCount)
		for i := int32(0); i < valueCount && br.Err() == nil; i++ {
			k := br.Str()
			s.Values[k] = br.Float64()
		}
	}
	metaCount := br.Int32()
	if metaCount > 0 && br.Err() == nil {
		s.Metadata = make(map[string]string, metaCount)
		for i := int32(0); i < metaCount && br.Err() == nil; i++ {
			k := br.Str()
			s.Metadata[k] = br.Str()
		}
	}
	return s
}

func (SampleCodec) Timestamp(s *domain.IndicatorSample) time.Time {
	return s.Timestamp
}

func (SampleCodec) Valid(s *domain.IndicatorSample) bool {
	return s != nil && s.IsValid()
}
