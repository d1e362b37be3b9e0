package codec

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goflare.io/tierbench/internal/models"
)

func TestByName(t *testing.T) {
	t.Parallel()

	c, err := ByName("")
	require.NoError(t, err)
	assert.Equal(t, JSONType, c.Name())

	c, err = ByName(GobType)
	require.NoError(t, err)
	assert.Equal(t, GobType, c.Name())

	_, err = ByName("msgpack")
	assert.Error(t, err)
}

func TestCodecsPreserveBars(t *testing.T) {
	t.Parallel()

	bars := []models.Bar{{
		Instrument: "NVDA",
		StartTime:  time.Date(2025, 1, 15, 9, 30, 0, 0, time.UTC),
		Open:       decimal.RequireFromString("131.20"),
		High:       decimal.RequireFromString("132.00"),
		Low:        decimal.RequireFromString("130.90"),
		Close:      decimal.RequireFromString("131.75"),
		Volume:     900_000,
	}}

	for _, c := range []Codec{JSON{}, Gob{}} {
		data, err := c.Marshal(bars)
		require.NoError(t, err, c.Name())

		var back []models.Bar
		require.NoError(t, c.Unmarshal(data, &back), c.Name())
		require.Len(t, back, 1)
		assert.True(t, bars[0].Equal(back[0]), c.Name())
	}
}
