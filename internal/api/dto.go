package api

import (
	"time"

	"github.com/0xc0d3d00d/marketcore/internal/domain"
)

type candleDTO struct {
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Closed    bool      `json:"closed"`
}

func toCandleDTOs(candles []*domain.Candle) []candleDTO {
	out := make([]candleDTO, 0, len(candles))
	for _, c := range candles {
		out = append(out, candleDTO{
			Symbol:    c.Symbol,
			Timeframe: c.Timeframe.String(),
			Timestamp: c.Timestamp,
			Open:      c.Open,
			High:      c.High,
			Low:       c.Low,
			Close:     c.Close,
			Volume:    c.Volume,
			Closed:    c.IsClosed,
		})
	}
	return out
}

type sampleDTO struct {
	Name      string             `json:"name"`
	Symbol    string             `json:"symbol"`
	Timeframe string             `json:"timeframe,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
	Values    map[string]float64 `json:"values"`
	Metadata  map[string]string  `json:"metadata,omitempty"`
}

func toSampleDTOs(samples []*domain.IndicatorSample) []sampleDTO {
	out := make([]sampleDTO, 0, len(samples))
	for _, s := range samples {
		out = append(out, sampleDTO{
			Name:      s.Name,
			Symbol:    s.Symbol,
			Timeframe: s.Timeframe.String(),
			Timestamp: s.Timestamp,
			Values:    s.Values,
			Metadata:  s.Metadata,
		})
	}
	return out
}
