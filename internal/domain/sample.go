package domain

import "time"

// IndicatorSample is one computed output of a calculator at a point in time.
type IndicatorSample struct {
	Name      string
	Symbol    string
	Timeframe Timeframe
	Timestamp time.Time
	Values    map[string]float64
	Metadata  map[string]string
}

// IsValid reports whether the sample carries enough to be persisted: a name,
// a symbol, a timestamp and at least one value.
func (s *IndicatorSample) IsValid() bool {
	return s.Name != "" && s.Symbol != "" && !s.Timestamp.IsZero() && len(s.Values) > 0
}

// Clone deep-copies the sample including its value and metadata maps.
func (s *IndicatorSample) Clone() *IndicatorSample {
	dup := *s
	if s.Values != nil {
		dup.Values = make(map[string]float64, len(s.Values))
		for k, v := range s.Values {
			dup.Values[k] = v
		}
	}
	if s.Metadata != nil {
		dup.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			dup.Metadata[k] = v
		}
	}
	return &dup
}
