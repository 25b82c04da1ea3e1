package transform

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rasnes/alphavantage-warehouse/extract"
	"github.com/rasnes/alphavantage-warehouse/model"
)

// TimestampLayout is the provider's intraday timestamp format.
const TimestampLayout = model.TimestampLayout

// NormalizePrices converts raw bars into price rows, one row per bar, keeping the input order.
// Timestamps are exchange-local wall clock times and are parsed without a zone.
func NormalizePrices(symbol string, bars []extract.RawBar) ([]model.PriceBar, error) {
	rows := make([]model.PriceBar, 0, len(bars))
	for _, bar := range bars {
		row, err := normalizeBar(symbol, bar)
		if err != nil {
			return nil, fmt.Errorf("error normalizing %s bar at %q: %w", symbol, bar.Timestamp, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func normalizeBar(symbol string, bar extract.RawBar) (model.PriceBar, error) {
	ts, err := time.Parse(TimestampLayout, strings.TrimSpace(bar.Timestamp))
	if err != nil {
		return model.PriceBar{}, fmt.Errorf("invalid timestamp: %w", err)
	}

	var prices [4]float64
	for i, raw := range []string{bar.Open, bar.High, bar.Low, bar.Close} {
		prices[i], err = strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return model.PriceBar{}, fmt.Errorf("invalid price %q: %w", raw, err)
		}
	}

	volume, err := strconv.ParseInt(strings.TrimSpace(bar.Volume), 10, 64)
	if err != nil {
		return model.PriceBar{}, fmt.Errorf("invalid volume %q: %w", bar.Volume, err)
	}
	if volume < 0 {
		return model.PriceBar{}, fmt.Errorf("negative volume %d", volume)
	}

	return model.PriceBar{
		Symbol:    symbol,
		Timestamp: ts.Truncate(time.Minute),
		Open:      prices[0],
		High:      prices[1],
		Low:       prices[2],
		Close:     prices[3],
		Volume:    volume,
	}, nil
}
