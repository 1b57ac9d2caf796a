package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBucketStartFloorRules(t *testing.T) {
	ts := time.Date(2024, 3, 5, 14, 37, 53, 987654321, time.UTC)

	cases := []struct {
		tf   Timeframe
		want time.Time
	}{
		{Timeframe15s, time.Date(2024, 3, 5, 14, 37, 45, 0, time.UTC)},
		{Timeframe30s, time.Date(2024, 3, 5, 14, 37, 30, 0, time.UTC)},
		{Timeframe1m, time.Date(2024, 3, 5, 14, 37, 0, 0, time.UTC)},
		{Timeframe5m, time.Date(2024, 3, 5, 14, 35, 0, 0, time.UTC)},
		{Timeframe15m, time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC)},
		{Timeframe1h, time.Date(2024, 3, 5, 14, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		t.Run(tc.tf.String(), func(t *testing.T) {
			got, err := tc.tf.BucketStart(ts)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestBucketStartIdempotent(t *testing.T) {
	for _, tf := range AllTimeframes() {
		ts := time.Date(2024, 3, 5, 14, 37, 53, 0, time.UTC)
		first, err := tf.BucketStart(ts)
		require.NoError(t, err)

		// Any timestamp inside the bucket maps back to the same start.
		again, err := tf.BucketStart(first.Add(tf.Duration() - time.Second))
		require.NoError(t, err)
		assert.Equal(t, first, again, tf.String())

		// The next bucket starts strictly later.
		next, err := tf.BucketStart(first.Add(tf.Duration()))
		require.NoError(t, err)
		assert.True(t, first.Before(next), tf.String())
	}
}

func TestBucketStartNormalizesZone(t *testing.T) {
	zone := time.FixedZone("IST", 5*3600+1800)
	local := time.Date(2024, 3, 5, 20, 7, 53, 0, zone)

	got, err := Timeframe1m.BucketStart(local)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 5, 14, 37, 0, 0, time.UTC), got)
}

func TestParseTimeframe(t *testing.T) {
	tf, err := ParseTimeframe("5m")
	require.NoError(t, err)
	assert.Equal(t, Timeframe5m, tf)

	_, err = ParseTimeframe("2m")
	assert.ErrorIs(t, err, ErrInvalidTimeframe)
}
