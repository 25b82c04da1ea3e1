package transform

import (
	"testing"
	"time"

	"github.com/rasnes/alphavantage-warehouse/extract"
	"github.com/rasnes/alphavantage-warehouse/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePrices(t *testing.T) {
	bars := []extract.RawBar{
		{Timestamp: "2024-01-05 19:00:00", Open: "159.9500", High: "160.0000", Low: "159.9500", Close: "160.0000", Volume: "112"},
		{Timestamp: "2024-01-05 17:00:00", Open: "159.1600", High: "160.1600", Low: "159.0000", Close: "159.1600", Volume: "2093123"},
	}

	rows, err := NormalizePrices("IBM", bars)
	require.NoError(t, err)

	assert.Equal(t, []model.PriceBar{
		{Symbol: "IBM", Timestamp: time.Date(2024, 1, 5, 19, 0, 0, 0, time.UTC), Open: 159.95, High: 160, Low: 159.95, Close: 160, Volume: 112},
		{Symbol: "IBM", Timestamp: time.Date(2024, 1, 5, 17, 0, 0, 0, time.UTC), Open: 159.16, High: 160.16, Low: 159, Close: 159.16, Volume: 2093123},
	}, rows)
}

func TestNormalizePrices_RowCountMatchesInput(t *testing.T) {
	for _, n := range []int{0, 1, 7, 100} {
		bars := make([]extract.RawBar, n)
		start := time.Date(2024, 1, 5, 4, 0, 0, 0, time.UTC)
		for i := range bars {
			bars[i] = extract.RawBar{
				Timestamp: start.Add(time.Duration(i) * time.Minute).Format(TimestampLayout),
				Open:      "1", High: "2", Low: "0.5", Close: "1.5", Volume: "10",
			}
		}

		rows, err := NormalizePrices("AAPL", bars)
		require.NoError(t, err)
		assert.Len(t, rows, n)
	}
}

func TestNormalizePrices_Errors(t *testing.T) {
	valid := extract.RawBar{Timestamp: "2024-01-05 19:00:00", Open: "1", High: "1", Low: "1", Close: "1", Volume: "1"}

	tests := []struct {
		name    string
		mutate  func(b *extract.RawBar)
		wantErr string
	}{
		{"bad timestamp", func(b *extract.RawBar) { b.Timestamp = "20240105T190000" }, "invalid timestamp"},
		{"bad price", func(b *extract.RawBar) { b.High = "n/a" }, `invalid price "n/a"`},
		{"fractional volume", func(b *extract.RawBar) { b.Volume = "1.5" }, "invalid volume"},
		{"negative volume", func(b *extract.RawBar) { b.Volume = "-3" }, "negative volume"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bar := valid
			tt.mutate(&bar)
			rows, err := NormalizePrices("IBM", []extract.RawBar{valid, bar})
			assert.ErrorContains(t, err, tt.wantErr)
			assert.Nil(t, rows)
		})
	}
}
