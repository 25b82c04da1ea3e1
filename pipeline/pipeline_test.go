package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rasnes/alphavantage-warehouse/extract"
	"github.com/rasnes/alphavantage-warehouse/load"
	"github.com/rasnes/alphavantage-warehouse/model"
	"github.com/rasnes/alphavantage-warehouse/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeWarehouse keeps tables in memory and records every call as "op:table".
type fakeWarehouse struct {
	created   map[string]bool
	prices    map[string][]model.PriceBar
	sentiment map[string][]model.SentimentRecord
	calls     []string
	failOn    func(op, table string) error
}

func newFakeWarehouse() *fakeWarehouse {
	return &fakeWarehouse{
		created:   map[string]bool{},
		prices:    map[string][]model.PriceBar{},
		sentiment: map[string][]model.SentimentRecord{},
	}
}

func (w *fakeWarehouse) record(op, table string) error {
	w.calls = append(w.calls, op+":"+table)
	if w.failOn != nil {
		return w.failOn(op, table)
	}
	return nil
}

func (w *fakeWarehouse) EnsureTable(_ context.Context, meta load.TableMeta, replace bool) error {
	if err := w.record("ensure", meta.Name); err != nil {
		return err
	}
	if replace {
		delete(w.prices, meta.Name)
		delete(w.sentiment, meta.Name)
	}
	w.created[meta.Name] = true
	return nil
}

func (w *fakeWarehouse) MaxTimestamp(_ context.Context, meta load.TableMeta) (time.Time, bool, error) {
	if err := w.record("max", meta.Name); err != nil {
		return time.Time{}, false, err
	}
	if !w.created[meta.Name] {
		return time.Time{}, false, nil
	}
	latest, ok := model.Freshest(w.prices[meta.Name])
	return latest, ok, nil
}

func (w *fakeWarehouse) WritePrices(_ context.Context, meta load.TableMeta, bars []model.PriceBar, mode load.WriteMode) (int, error) {
	if err := w.record("write", meta.Name); err != nil {
		return 0, err
	}
	if mode == load.Replace {
		w.prices[meta.Name] = nil
	}
	w.prices[meta.Name] = append(w.prices[meta.Name], bars...)
	return len(bars), nil
}

func (w *fakeWarehouse) WriteSentiment(_ context.Context, meta load.TableMeta, records []model.SentimentRecord, mode load.WriteMode) (int, error) {
	if err := w.record("write", meta.Name); err != nil {
		return 0, err
	}
	if mode == load.Replace {
		w.sentiment[meta.Name] = nil
	}
	w.sentiment[meta.Name] = append(w.sentiment[meta.Name], records...)
	return len(records), nil
}

type fakeFetcher struct {
	intraday  func(symbol string, opts extract.IntradayOptions) ([]extract.RawBar, error)
	sentiment func(symbol string, opts extract.SentimentOptions) ([]extract.RawMention, error)
}

func (f *fakeFetcher) IntradaySeries(_ context.Context, symbol string, opts extract.IntradayOptions) ([]extract.RawBar, error) {
	return f.intraday(symbol, opts)
}

func (f *fakeFetcher) NewsSentiment(_ context.Context, symbol string, opts extract.SentimentOptions) ([]extract.RawMention, error) {
	return f.sentiment(symbol, opts)
}

func rawBars(hours ...int) []extract.RawBar {
	out := make([]extract.RawBar, len(hours))
	for i, h := range hours {
		out[i] = extract.RawBar{
			Timestamp: hour(h).Format("2006-01-02 15:04:05"),
			Open:      "159.1600",
			High:      "160.0000",
			Low:       "159.0000",
			Close:     "159.9500",
			Volume:    fmt.Sprint(1000 + h),
		}
	}
	return out
}

func rawMentions(symbol string, n int) []extract.RawMention {
	out := make([]extract.RawMention, n)
	for i := range out {
		out[i] = extract.RawMention{
			Ticker:         symbol,
			TimePublished:  fmt.Sprintf("20240105T%02d3000", 10+i),
			SourceDomain:   "www.example.com",
			RelevanceScore: "0.5",
			Label:          "Neutral",
		}
	}
	return out
}

// staticFetcher serves the same bars and mentions for every symbol.
func staticFetcher(bars []extract.RawBar, mentions int) *fakeFetcher {
	return &fakeFetcher{
		intraday: func(string, extract.IntradayOptions) ([]extract.RawBar, error) {
			return bars, nil
		},
		sentiment: func(symbol string, _ extract.SentimentOptions) ([]extract.RawMention, error) {
			return rawMentions(symbol, mentions), nil
		},
	}
}

func newTestPipeline(wh Warehouse, fetcher Fetcher) (*Pipeline, *bytes.Buffer) {
	logs := &bytes.Buffer{}
	p := New(wh, fetcher, extract.IntradayOptions{Interval: extract.Interval60Min, OutputSize: "compact"},
		extract.SentimentOptions{Topics: []string{"technology"}}, slog.New(slog.NewTextHandler(logs, nil)))
	p.Clock = utils.FixedTimeProvider{T: time.Date(2024, 1, 5, 15, 0, 0, 0, time.UTC)}
	return p, logs
}

func TestSync_FullLoadCreatesSchemaFirst(t *testing.T) {
	wh := newFakeWarehouse()
	p, _ := newTestPipeline(wh, staticFetcher(rawBars(19, 17, 18), 2))

	summary := p.Sync(context.Background(), []string{"ibm"})

	assert.Equal(t, Summary{"IBM": {Prices: 3, Sentiment: 2}}, summary)
	assert.Equal(t, []string{
		"max:stock_intraday_prices_ibm",
		"ensure:stock_intraday_prices_ibm",
		"write:stock_intraday_prices_ibm",
		"ensure:stock_sentiment_ibm",
		"write:stock_sentiment_ibm",
	}, wh.calls)
	assert.Len(t, wh.prices["stock_intraday_prices_ibm"], 3)
	assert.Equal(t, 3.0, testutil.ToFloat64(p.Metrics.RowsWritten.WithLabelValues("stock_intraday_prices_ibm", "IBM")))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.Metrics.RowsWritten.WithLabelValues("stock_sentiment_ibm", "IBM")))
	assert.Equal(t, float64(hour(19).Unix()), testutil.ToFloat64(p.Metrics.PriceWatermark.WithLabelValues("IBM")))
}

func TestSync_SecondRunWithoutNewDataAppendsNoPrices(t *testing.T) {
	wh := newFakeWarehouse()
	p, logs := newTestPipeline(wh, staticFetcher(rawBars(17, 18, 19), 2))

	first := p.Sync(context.Background(), []string{"IBM"})
	second := p.Sync(context.Background(), []string{"IBM"})

	assert.Equal(t, Written{Prices: 3, Sentiment: 2}, first["IBM"])
	assert.Equal(t, Written{Prices: 0, Sentiment: 2}, second["IBM"])
	assert.Len(t, wh.prices["stock_intraday_prices_ibm"], 3)
	// Sentiment is appended in full every run.
	assert.Len(t, wh.sentiment["stock_sentiment_ibm"], 4)
	assert.Contains(t, logs.String(), "No new prices, nothing appended")
}

func TestSync_AppendsOnlyRowsNewerThanWatermark(t *testing.T) {
	wh := newFakeWarehouse()
	wh.created["stock_intraday_prices_ibm"] = true
	wh.prices["stock_intraday_prices_ibm"] = priceRows(8, 10)

	p, _ := newTestPipeline(wh, staticFetcher(rawBars(9, 10, 11, 12), 0))
	summary := p.Sync(context.Background(), []string{"IBM"})

	assert.Equal(t, Written{Prices: 2}, summary["IBM"])
	assert.Equal(t, []time.Time{hour(8), hour(10), hour(11), hour(12)}, timestamps(wh.prices["stock_intraday_prices_ibm"]))
	assert.NotContains(t, wh.calls, "ensure:stock_intraday_prices_ibm")
}

func TestSync_IsolatesFailingSymbols(t *testing.T) {
	wh := newFakeWarehouse()
	fetcher := staticFetcher(rawBars(17, 18), 1)
	fetcher.intraday = func(symbol string, _ extract.IntradayOptions) ([]extract.RawBar, error) {
		switch symbol {
		case "AAPL":
			return nil, &extract.UpstreamAPIError{StatusCode: http.StatusOK, Message: "Invalid API call.", Operation: extract.OperationIntraday}
		case "MSFT":
			panic("malformed series")
		}
		return rawBars(17, 18), nil
	}
	p, logs := newTestPipeline(wh, fetcher)

	summary := p.Sync(context.Background(), []string{"AAPL", "MSFT", "bad symbol", "IBM"})

	assert.Equal(t, Summary{"IBM": {Prices: 2, Sentiment: 1}}, summary)
	assert.Equal(t, 3, summary.Total())
	assert.Equal(t, 1.0, testutil.ToFloat64(p.Metrics.SyncFailures.WithLabelValues("AAPL", extract.OperationIntraday)))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.Metrics.SyncFailures.WithLabelValues("MSFT", "panic")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.Metrics.SyncFailures.WithLabelValues("bad symbol", "validate_symbol")))
	assert.Contains(t, logs.String(), "symbol=AAPL operation=intraday_stock_serie")
	assert.Contains(t, logs.String(), "HTTP error 200 occurred in intraday_stock_serie: Invalid API call.")
	assert.Contains(t, logs.String(), "malformed series")
}

func TestSync_RejectsSymbolsSharingTables(t *testing.T) {
	wh := newFakeWarehouse()
	p, logs := newTestPipeline(wh, staticFetcher(rawBars(17, 18), 1))

	summary := p.Sync(context.Background(), []string{"BRK.B", "BRK-B"})

	assert.Equal(t, Summary{"BRK.B": {Prices: 2, Sentiment: 1}}, summary)
	assert.Equal(t, 1.0, testutil.ToFloat64(p.Metrics.SyncFailures.WithLabelValues("BRK-B", "table_name")))
	require.Len(t, wh.sentiment["stock_sentiment_brk_b"], 1)
	assert.Equal(t, "BRK.B", wh.sentiment["stock_sentiment_brk_b"][0].Symbol)
	assert.Len(t, wh.prices["stock_intraday_prices_brk_b"], 2)
	assert.Contains(t, logs.String(), "would share the tables")
}

func TestSync_SentimentFailureKeepsWrittenPrices(t *testing.T) {
	wh := newFakeWarehouse()
	wh.failOn = func(op, table string) error {
		if op == "write" && table == "stock_sentiment_ibm" {
			return &load.DatabaseError{Operation: "insert_append", Table: table, Err: errors.New("disk full")}
		}
		return nil
	}
	p, _ := newTestPipeline(wh, staticFetcher(rawBars(17, 18, 19), 2))

	summary := p.Sync(context.Background(), []string{"IBM"})

	assert.Empty(t, summary)
	assert.Len(t, wh.prices["stock_intraday_prices_ibm"], 3)
	assert.Equal(t, 1.0, testutil.ToFloat64(p.Metrics.SyncFailures.WithLabelValues("IBM", "write_sentiment")))
}

func TestSync_WatermarkReadFailure(t *testing.T) {
	wh := newFakeWarehouse()
	wh.failOn = func(op, table string) error {
		if op == "max" {
			return &load.DatabaseError{Operation: "max_timestamp", Table: table, Err: errors.New("connection reset")}
		}
		return nil
	}
	p, logs := newTestPipeline(wh, staticFetcher(rawBars(17), 1))

	summary := p.Sync(context.Background(), []string{"IBM"})

	assert.Empty(t, summary)
	assert.Empty(t, wh.prices)
	assert.Contains(t, logs.String(), "database error during max_timestamp on stock_intraday_prices_ibm")
}

func TestSync_SentimentWindow(t *testing.T) {
	var got []extract.SentimentOptions
	fetcher := staticFetcher(rawBars(17), 0)
	fetcher.sentiment = func(_ string, opts extract.SentimentOptions) ([]extract.RawMention, error) {
		got = append(got, opts)
		return nil, nil
	}
	p, _ := newTestPipeline(newFakeWarehouse(), fetcher)

	p.Sentiment.Lookback = 24 * time.Hour
	p.Sync(context.Background(), []string{"IBM"})

	p.Sentiment.TimeFrom = "20230101T0000"
	p.Sync(context.Background(), []string{"IBM"})

	require.Len(t, got, 2)
	assert.Equal(t, "20240104T1500", got[0].TimeFrom)
	assert.Equal(t, []string{"technology"}, got[0].Topics)
	assert.Equal(t, "20230101T0000", got[1].TimeFrom)
}

func TestSync_StopsWhenContextIsDone(t *testing.T) {
	called := false
	fetcher := staticFetcher(nil, 0)
	fetcher.intraday = func(string, extract.IntradayOptions) ([]extract.RawBar, error) {
		called = true
		return nil, nil
	}
	p, _ := newTestPipeline(newFakeWarehouse(), fetcher)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Empty(t, p.Sync(ctx, []string{"IBM", "AAPL"}))
	assert.False(t, called)
}

func TestEnsureSchema(t *testing.T) {
	wh := newFakeWarehouse()
	p, _ := newTestPipeline(wh, staticFetcher(nil, 0))

	err := p.EnsureSchema(context.Background(), []string{"IBM", "brk.b", "not a ticker"}, false)

	assert.ErrorContains(t, err, "not a ticker")
	assert.Equal(t, []string{
		"ensure:stock_intraday_prices_ibm",
		"ensure:stock_sentiment_ibm",
		"ensure:stock_intraday_prices_brk_b",
		"ensure:stock_sentiment_brk_b",
	}, wh.calls)
}

func TestEnsureSchema_RejectsSymbolsSharingTables(t *testing.T) {
	wh := newFakeWarehouse()
	p, _ := newTestPipeline(wh, staticFetcher(nil, 0))

	err := p.EnsureSchema(context.Background(), []string{"BRK.B", "BRK-B"}, true)

	assert.ErrorContains(t, err, `"BRK-B"`)
	assert.Equal(t, []string{
		"ensure:stock_intraday_prices_brk_b",
		"ensure:stock_sentiment_brk_b",
	}, wh.calls)
}

func TestEnsureSchema_ReplaceDropsRows(t *testing.T) {
	wh := newFakeWarehouse()
	wh.prices["stock_intraday_prices_ibm"] = priceRows(10)
	p, _ := newTestPipeline(wh, staticFetcher(nil, 0))

	require.NoError(t, p.EnsureSchema(context.Background(), []string{"IBM"}, true))
	assert.Empty(t, wh.prices["stock_intraday_prices_ibm"])
}

func TestEnsureSchema_JoinsWarehouseErrors(t *testing.T) {
	wh := newFakeWarehouse()
	wh.failOn = func(op, table string) error {
		return errors.New("no permission on " + table)
	}
	p, _ := newTestPipeline(wh, staticFetcher(nil, 0))

	err := p.EnsureSchema(context.Background(), []string{"IBM"}, false)
	assert.ErrorContains(t, err, "no permission on stock_intraday_prices_ibm")
	assert.ErrorContains(t, err, "no permission on stock_sentiment_ibm")
}

func TestSummary_Total(t *testing.T) {
	summary := Summary{"IBM": {Prices: 3, Sentiment: 2}, "AAPL": {Prices: 1}}
	assert.Equal(t, 6, summary.Total())
	assert.Equal(t, 0, Summary{}.Total())
}
