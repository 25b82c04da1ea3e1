package extract

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/rasnes/alphavantage-warehouse/config"
	"github.com/tidwall/gjson"
)

type Interval string

const (
	Interval1Min  Interval = "1min"
	Interval5Min  Interval = "5min"
	Interval15Min Interval = "15min"
	Interval30Min Interval = "30min"
	Interval60Min Interval = "60min"
)

var Intervals = []Interval{Interval1Min, Interval5Min, Interval15Min, Interval30Min, Interval60Min}

func ParseInterval(s string) (Interval, error) {
	for _, interval := range Intervals {
		if string(interval) == s {
			return interval, nil
		}
	}
	return "", fmt.Errorf("invalid interval %q, expected one of %v", s, Intervals)
}

// SeriesKey is the top level key the provider nests the observations under.
func (i Interval) SeriesKey() string {
	return fmt.Sprintf("Time Series (%s)", i)
}

type IntradayOptions struct {
	Interval      Interval
	Adjusted      bool
	ExtendedHours bool
	OutputSize    string
	// Month selects a historical month, formatted YYYY-MM. Empty means the most recent data.
	Month string
}

func IntradayOptionsFromConfig(cfg config.IntradayConfig) (IntradayOptions, error) {
	interval, err := ParseInterval(cfg.Interval)
	if err != nil {
		return IntradayOptions{}, err
	}
	outputSize := cfg.OutputSize
	if outputSize == "" {
		outputSize = "compact"
	}
	return IntradayOptions{
		Interval:      interval,
		Adjusted:      cfg.Adjusted,
		ExtendedHours: cfg.ExtendedHours,
		OutputSize:    outputSize,
		Month:         cfg.Month,
	}, nil
}

// RawBar is one observation exactly as the provider sent it.
type RawBar struct {
	Timestamp string
	Open      string
	High      string
	Low       string
	Close     string
	Volume    string
}

// IntradaySeries fetches the intraday price series for symbol.
// Bars are returned in the order the provider listed them, which is not necessarily sorted.
func (c *Client) IntradaySeries(ctx context.Context, symbol string, opts IntradayOptions) ([]RawBar, error) {
	bars, err := c.intradaySeries(ctx, symbol, opts)
	if err != nil {
		return nil, c.applyErrorPolicy(err, OperationIntraday, symbol)
	}
	c.Logger.Debug("Fetched intraday series", "symbol", symbol, "interval", opts.Interval, "bars", len(bars))
	return bars, nil
}

func (c *Client) intradaySeries(ctx context.Context, symbol string, opts IntradayOptions) ([]RawBar, error) {
	if symbol == "" {
		return nil, newUpstreamError(0, OperationIntraday, "symbol must not be empty")
	}
	if _, err := ParseInterval(string(opts.Interval)); err != nil {
		return nil, newUpstreamError(0, OperationIntraday, "%v", err)
	}

	params := url.Values{}
	params.Set("function", "TIME_SERIES_INTRADAY")
	params.Set("symbol", symbol)
	params.Set("interval", string(opts.Interval))
	params.Set("adjusted", strconv.FormatBool(opts.Adjusted))
	params.Set("extended_hours", strconv.FormatBool(opts.ExtendedHours))
	params.Set("outputsize", opts.OutputSize)
	if opts.Month != "" {
		params.Set("month", opts.Month)
	}

	root, status, err := c.FetchData(ctx, OperationIntraday, params)
	if err != nil {
		return nil, err
	}

	key := opts.Interval.SeriesKey()
	series, ok := member(root, key)
	if !ok || !series.IsObject() {
		return nil, missingKey(root, status, OperationIntraday, key)
	}

	var bars []RawBar
	var parseErr error
	series.ForEach(func(ts, values gjson.Result) bool {
		bar, err := rawBar(ts.String(), values)
		if err != nil {
			parseErr = newUpstreamError(status, OperationIntraday, "%v", err)
			return false
		}
		bars = append(bars, bar)
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}

	return bars, nil
}

// rawBar reads the five OHLCV fields. The provider numbers its keys ("1. open"),
// so fields are matched on the name after the ordinal.
func rawBar(ts string, values gjson.Result) (RawBar, error) {
	fields := map[string]string{}
	values.ForEach(func(k, v gjson.Result) bool {
		name := k.String()
		if i := strings.Index(name, ". "); i >= 0 {
			name = name[i+2:]
		}
		fields[strings.ToLower(name)] = v.String()
		return true
	})

	bar := RawBar{Timestamp: ts}
	for _, f := range []struct {
		name string
		dst  *string
	}{
		{"open", &bar.Open},
		{"high", &bar.High},
		{"low", &bar.Low},
		{"close", &bar.Close},
		{"volume", &bar.Volume},
	} {
		v, ok := fields[f.name]
		if !ok {
			return RawBar{}, fmt.Errorf("observation %s is missing field %q", ts, f.name)
		}
		*f.dst = v
	}
	return bar, nil
}
