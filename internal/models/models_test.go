package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheKeyString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "AAPL:ohlcv:1m:current", CurrentKey("AAPL", "1m").String())
	assert.Equal(t, "AAPL:ohlcv:5m:last_200", HistoryKey("AAPL", "5m", 200).String())
}

func TestStalenessWindow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		timeframe string
		want      time.Duration
	}{
		{"1m", 120 * time.Second},
		{"5m", 600 * time.Second},
		{"15m", 1800 * time.Second},
		{"1h", 7200 * time.Second},
		{"60m", 7200 * time.Second},
		{"3d", 120 * time.Second},
		{"", 120 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StalenessWindow(tt.timeframe), tt.timeframe)
	}
}

func TestCadenceMinutes(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1, CadenceMinutes("1m"))
	assert.Equal(t, 5, CadenceMinutes("5m"))
	assert.Equal(t, 60, CadenceMinutes("60m"))
	assert.Equal(t, 1, CadenceMinutes("weird"))
}

func TestBarUnmarshalNaiveTimestamp(t *testing.T) {
	t.Parallel()

	raw := `{"instrument":"AAPL","starttime":"2025-01-15T09:30:00","open":101.5,"high":"102.25","low":100.75,"close":101.9,"volume":120000}`
	var bar Bar
	require.NoError(t, json.Unmarshal([]byte(raw), &bar))

	assert.Equal(t, "AAPL", bar.Instrument)
	assert.True(t, bar.StartTime.Equal(time.Date(2025, 1, 15, 9, 30, 0, 0, time.UTC)))
	assert.True(t, bar.High.Equal(decimal.RequireFromString("102.25")))
	assert.Equal(t, int64(120000), bar.Volume)
}

func TestBarRoundTripKeepsValue(t *testing.T) {
	t.Parallel()

	bar := Bar{
		Instrument: "MSFT",
		StartTime:  time.Date(2025, 1, 15, 9, 31, 0, 0, time.UTC),
		Open:       decimal.RequireFromString("410.10"),
		High:       decimal.RequireFromString("411.00"),
		Low:        decimal.RequireFromString("409.55"),
		Close:      decimal.RequireFromString("410.80"),
		Volume:     5_000_000,
	}
	data, err := json.Marshal(bar)
	require.NoError(t, err)

	var back Bar
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, bar.Equal(back))
	assert.False(t, back.IsZero())
	assert.True(t, Bar{}.IsZero())
}

func TestBarUnmarshalRejectsGarbageTime(t *testing.T) {
	t.Parallel()

	var bar Bar
	assert.Error(t, json.Unmarshal([]byte(`{"starttime":"yesterday"}`), &bar))
}
