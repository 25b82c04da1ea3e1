package transform

import (
	"fmt"
	"strings"
	"time"

	"github.com/rasnes/alphavantage-warehouse/extract"
	"github.com/rasnes/alphavantage-warehouse/model"
	"github.com/shopspring/decimal"
)

// Compact publish time layouts used by the news feed, with and without seconds.
var publishedLayouts = []string{"20060102T150405", "20060102T1504"}

var (
	minRelevance = decimal.Zero
	maxRelevance = decimal.NewFromInt(1)
)

// NormalizeSentiment converts raw mentions into sentiment rows. Publish times are parsed
// from the compact feed format and truncated to the minute. Relevance scores keep the
// provider's text once they are checked to be decimals in [0, 1].
func NormalizeSentiment(symbol string, mentions []extract.RawMention) ([]model.SentimentRecord, error) {
	rows := make([]model.SentimentRecord, 0, len(mentions))
	for _, m := range mentions {
		published, err := ParsePublished(m.TimePublished)
		if err != nil {
			return nil, fmt.Errorf("error normalizing %s mention from %s: %w", symbol, m.SourceDomain, err)
		}

		score := strings.TrimSpace(m.RelevanceScore)
		if err := validateRelevance(score); err != nil {
			return nil, fmt.Errorf("error normalizing %s mention from %s: %w", symbol, m.SourceDomain, err)
		}

		rows = append(rows, model.SentimentRecord{
			Symbol:         symbol,
			PublishedAt:    published,
			Source:         m.SourceDomain,
			RelevanceScore: score,
			Label:          m.Label,
		})
	}
	return rows, nil
}

// ParsePublished parses a compact feed timestamp such as 20240105T143000.
func ParsePublished(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range publishedLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Truncate(time.Minute), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time_published %q", raw)
}

func validateRelevance(score string) error {
	d, err := decimal.NewFromString(score)
	if err != nil {
		return fmt.Errorf("invalid relevance_score %q: %w", score, err)
	}
	if d.LessThan(minRelevance) || d.GreaterThan(maxRelevance) {
		return fmt.Errorf("relevance_score %s outside [0, 1]", score)
	}
	return nil
}
