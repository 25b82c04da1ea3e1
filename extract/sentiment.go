package extract

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rasnes/alphavantage-warehouse/config"
	"github.com/tidwall/gjson"
)

// TimeParamLayout is the provider's format for time_from and time_to.
const TimeParamLayout = "20060102T1504"

type SentimentOptions struct {
	Topics   []string
	TimeFrom string
	TimeTo   string
	Limit    int
	// Lookback derives TimeFrom from the current time when TimeFrom is empty.
	Lookback time.Duration
}

func SentimentOptionsFromConfig(cfg config.SentimentConfig) SentimentOptions {
	return SentimentOptions{
		Topics:   cfg.Topics,
		TimeFrom: cfg.TimeFrom,
		TimeTo:   cfg.TimeTo,
		Limit:    cfg.Limit,
		Lookback: cfg.Lookback,
	}
}

// RawMention is one ticker_sentiment entry of a feed article, carrying the article's fields.
type RawMention struct {
	Ticker         string
	TimePublished  string
	SourceDomain   string
	RelevanceScore string
	Label          string
}

// JoinTopics builds the comma-joined topics parameter. Each element may itself be a
// comma-delimited list, so []string{"a", "b"} and []string{"a,b"} produce the same value.
func JoinTopics(topics ...string) string {
	var parts []string
	for _, topic := range topics {
		for _, part := range strings.Split(topic, ",") {
			if part = strings.TrimSpace(part); part != "" {
				parts = append(parts, part)
			}
		}
	}
	return strings.Join(parts, ",")
}

// FormatTimeParam formats t for the time_from and time_to parameters.
func FormatTimeParam(t time.Time) string {
	return t.Format(TimeParamLayout)
}

// NewsSentiment fetches the news feed for symbol and returns one mention per
// (article, ticker_sentiment) pair whose ticker is symbol. Other tickers are dropped.
func (c *Client) NewsSentiment(ctx context.Context, symbol string, opts SentimentOptions) ([]RawMention, error) {
	mentions, err := c.newsSentiment(ctx, symbol, opts)
	if err != nil {
		return nil, c.applyErrorPolicy(err, OperationSentiment, symbol)
	}
	c.Logger.Debug("Fetched news sentiment", "symbol", symbol, "mentions", len(mentions))
	return mentions, nil
}

func (c *Client) newsSentiment(ctx context.Context, symbol string, opts SentimentOptions) ([]RawMention, error) {
	if symbol == "" {
		return nil, newUpstreamError(0, OperationSentiment, "symbol must not be empty")
	}

	params := url.Values{}
	params.Set("function", "NEWS_SENTIMENT")
	params.Set("tickers", symbol)
	if topics := JoinTopics(opts.Topics...); topics != "" {
		params.Set("topics", topics)
	}
	if opts.TimeFrom != "" {
		params.Set("time_from", opts.TimeFrom)
	}
	if opts.TimeTo != "" {
		params.Set("time_to", opts.TimeTo)
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}

	root, status, err := c.FetchData(ctx, OperationSentiment, params)
	if err != nil {
		return nil, err
	}

	feed, ok := member(root, "feed")
	if !ok || !feed.IsArray() {
		return nil, missingKey(root, status, OperationSentiment, "feed")
	}

	var mentions []RawMention
	for _, article := range feed.Array() {
		published := article.Get("time_published").String()
		source := article.Get("source_domain").String()
		article.Get("ticker_sentiment").ForEach(func(_, ts gjson.Result) bool {
			ticker := ts.Get("ticker").String()
			if !strings.EqualFold(ticker, symbol) {
				return true
			}
			mentions = append(mentions, RawMention{
				Ticker:         ticker,
				TimePublished:  published,
				SourceDomain:   source,
				RelevanceScore: ts.Get("relevance_score").String(),
				Label:          ts.Get("ticker_sentiment_label").String(),
			})
			return true
		})
	}

	return mentions, nil
}
