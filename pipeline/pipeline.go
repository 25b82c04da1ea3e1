package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rasnes/alphavantage-warehouse/extract"
	"github.com/rasnes/alphavantage-warehouse/load"
	"github.com/rasnes/alphavantage-warehouse/model"
	"github.com/rasnes/alphavantage-warehouse/transform"
	"github.com/rasnes/alphavantage-warehouse/utils"
	"github.com/sourcegraph/conc/panics"
)

// Warehouse is the part of load.Warehouse the pipeline writes through.
type Warehouse interface {
	EnsureTable(ctx context.Context, meta load.TableMeta, replace bool) error
	MaxTimestamp(ctx context.Context, meta load.TableMeta) (time.Time, bool, error)
	WritePrices(ctx context.Context, meta load.TableMeta, bars []model.PriceBar, mode load.WriteMode) (int, error)
	WriteSentiment(ctx context.Context, meta load.TableMeta, records []model.SentimentRecord, mode load.WriteMode) (int, error)
}

// Fetcher is the part of extract.Client the pipeline reads from.
type Fetcher interface {
	IntradaySeries(ctx context.Context, symbol string, opts extract.IntradayOptions) ([]extract.RawBar, error)
	NewsSentiment(ctx context.Context, symbol string, opts extract.SentimentOptions) ([]extract.RawMention, error)
}

// Written counts the rows one sync wrote for a symbol.
type Written struct {
	Prices    int `json:"prices"`
	Sentiment int `json:"sentiment"`
}

// Summary maps each successfully synced symbol to what was written. Failed symbols are absent.
type Summary map[string]Written

func (s Summary) Total() int {
	total := 0
	for _, w := range s {
		total += w.Prices + w.Sentiment
	}
	return total
}

type Pipeline struct {
	Warehouse Warehouse
	Client    Fetcher
	Logger    *slog.Logger
	Metrics   *Metrics
	Clock     utils.TimeProvider
	Intraday  extract.IntradayOptions
	Sentiment extract.SentimentOptions
}

// New builds a pipeline over an open warehouse. The client should propagate fetch
// errors so a failing symbol is reported rather than synced as empty.
func New(warehouse Warehouse, client Fetcher, intraday extract.IntradayOptions, sentiment extract.SentimentOptions, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		Warehouse: warehouse,
		Client:    client,
		Logger:    logger,
		Metrics:   NewMetrics(),
		Clock:     utils.RealTimeProvider{},
		Intraday:  intraday,
		Sentiment: sentiment,
	}
}

// stepError tags a per-symbol failure with the operation that failed.
type stepError struct {
	operation string
	err       error
}

func (e *stepError) Error() string {
	return fmt.Sprintf("%s: %v", e.operation, e.err)
}

func (e *stepError) Unwrap() error {
	return e.err
}

func step(operation string, err error) error {
	if err == nil {
		return nil
	}
	return &stepError{operation: operation, err: err}
}

// EnsureSchema creates the price and sentiment tables of every symbol. It is idempotent
// unless replace is set, in which case existing tables are dropped and recreated empty.
func (p *Pipeline) EnsureSchema(ctx context.Context, symbols []string, replace bool) error {
	var errs []error
	claims := load.SuffixClaims{}
	for _, raw := range symbols {
		symbol, err := transform.ValidateSymbol(raw)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := claims.Claim(symbol); err != nil {
			errs = append(errs, err)
			continue
		}

		for _, table := range []func(string) (load.TableMeta, error){load.PriceTable, load.SentimentTable} {
			meta, err := table(symbol)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if err := p.Warehouse.EnsureTable(ctx, meta, replace); err != nil {
				errs = append(errs, fmt.Errorf("error ensuring table for %s: %w", symbol, err))
				continue
			}
			p.Logger.Info("Ensured table", "symbol", symbol, "table", meta.Name, "replace", replace)
		}
	}
	return errors.Join(errs...)
}

// Sync loads new prices and the current sentiment feed for each symbol, one symbol at a time.
// A failing symbol is logged and left out of the summary; the others still run.
//
// Prices and sentiment are written in separate transactions. When sentiment fails after
// prices were written, the price rows stay and the symbol is still reported as failed.
func (p *Pipeline) Sync(ctx context.Context, symbols []string) Summary {
	timer := prometheus.NewTimer(p.Metrics.SyncDuration)
	defer timer.ObserveDuration()

	summary := Summary{}
	claims := load.SuffixClaims{}
	for _, raw := range symbols {
		if err := ctx.Err(); err != nil {
			p.Logger.Warn("Sync interrupted", "error", err, "synced", len(summary))
			break
		}

		symbol, err := transform.ValidateSymbol(raw)
		if err != nil {
			p.fail(raw, "validate_symbol", err)
			continue
		}
		if err := claims.Claim(symbol); err != nil {
			p.fail(symbol, "table_name", err)
			continue
		}

		var written Written
		var catcher panics.Catcher
		catcher.Try(func() {
			written, err = p.syncSymbol(ctx, symbol)
		})
		if recovered := catcher.Recovered(); recovered != nil {
			p.fail(symbol, "panic", recovered.AsError())
			continue
		}
		if err != nil {
			operation := "sync"
			var se *stepError
			if errors.As(err, &se) {
				operation, err = se.operation, se.err
			}
			p.fail(symbol, operation, err)
			continue
		}

		summary[symbol] = written
		p.Logger.Info("Synced symbol", "symbol", symbol, "prices", written.Prices, "sentiment", written.Sentiment)
	}

	p.Logger.Info("Sync finished", "symbols", len(symbols), "succeeded", len(summary), "rows", summary.Total())
	return summary
}

func (p *Pipeline) fail(symbol, operation string, err error) {
	p.Metrics.SyncFailures.WithLabelValues(symbol, operation).Inc()
	p.Logger.Error("Error syncing symbol", "symbol", symbol, "operation", operation, "error", err)
}

func (p *Pipeline) syncSymbol(ctx context.Context, symbol string) (Written, error) {
	prices, err := p.syncPrices(ctx, symbol)
	if err != nil {
		return Written{}, err
	}

	sentiment, err := p.syncSentiment(ctx, symbol)
	if err != nil {
		return Written{}, err
	}

	return Written{Prices: prices, Sentiment: sentiment}, nil
}

func (p *Pipeline) syncPrices(ctx context.Context, symbol string) (int, error) {
	meta, err := load.PriceTable(symbol)
	if err != nil {
		return 0, step("table_name", err)
	}

	raw, err := p.Client.IntradaySeries(ctx, symbol, p.Intraday)
	if err != nil {
		return 0, step(extract.OperationIntraday, err)
	}

	rows, err := transform.NormalizePrices(symbol, raw)
	if err != nil {
		return 0, step("normalize_prices", err)
	}

	watermark, hasWatermark, err := p.Warehouse.MaxTimestamp(ctx, meta)
	if err != nil {
		return 0, step("read_watermark", err)
	}

	plan := PlanPriceLoad(rows, watermark, hasWatermark)
	var n int
	switch plan.Decision {
	case Noop:
		p.Logger.Info("No new prices, nothing appended",
			"symbol", symbol, "watermark", watermark, "freshest", plan.Freshest, "fetched", len(rows))
		p.Metrics.PriceWatermark.WithLabelValues(symbol).Set(float64(watermark.Unix()))
		return 0, nil
	case FullLoad:
		if err := p.Warehouse.EnsureTable(ctx, meta, false); err != nil {
			return 0, step("create_table", err)
		}
		n, err = p.Warehouse.WritePrices(ctx, meta, plan.Rows, load.Replace)
	case Append:
		n, err = p.Warehouse.WritePrices(ctx, meta, plan.Rows, load.Append)
	}
	if err != nil {
		return 0, step("write_prices", err)
	}

	p.Logger.Info("Loaded prices", "symbol", symbol, "table", meta.Name, "decision", plan.Decision.String(),
		"watermark", watermark, "fetched", len(rows), "written", n)
	p.Metrics.RowsWritten.WithLabelValues(meta.Name, symbol).Add(float64(n))
	if n > 0 {
		p.Metrics.PriceWatermark.WithLabelValues(symbol).Set(float64(plan.Freshest.Unix()))
	}
	return n, nil
}

// syncSentiment appends the whole fetched feed. Overlapping fetch windows produce duplicates.
func (p *Pipeline) syncSentiment(ctx context.Context, symbol string) (int, error) {
	meta, err := load.SentimentTable(symbol)
	if err != nil {
		return 0, step("table_name", err)
	}

	raw, err := p.Client.NewsSentiment(ctx, symbol, p.sentimentOptions())
	if err != nil {
		return 0, step(extract.OperationSentiment, err)
	}

	records, err := transform.NormalizeSentiment(symbol, raw)
	if err != nil {
		return 0, step("normalize_sentiment", err)
	}

	if err := p.Warehouse.EnsureTable(ctx, meta, false); err != nil {
		return 0, step("create_table", err)
	}

	if len(records) == 0 {
		p.Logger.Info("No sentiment mentions", "symbol", symbol)
		return 0, nil
	}

	n, err := p.Warehouse.WriteSentiment(ctx, meta, records, load.Append)
	if err != nil {
		return 0, step("write_sentiment", err)
	}

	p.Logger.Info("Appended sentiment", "symbol", symbol, "table", meta.Name, "written", n)
	p.Metrics.RowsWritten.WithLabelValues(meta.Name, symbol).Add(float64(n))
	return n, nil
}

// sentimentOptions resolves time_from from the lookback window when no fixed start is configured.
func (p *Pipeline) sentimentOptions() extract.SentimentOptions {
	opts := p.Sentiment
	if opts.TimeFrom == "" && opts.Lookback > 0 {
		opts.TimeFrom = extract.FormatTimeParam(p.Clock.Now().UTC().Add(-opts.Lookback))
	}
	return opts
}
