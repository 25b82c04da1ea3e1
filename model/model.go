// Package model holds the normalized rows written to the warehouse.
package model

import (
	"encoding/json"
	"time"
)

// TimestampLayout is the naive second-resolution form price timestamps are stored and displayed in.
const TimestampLayout = "2006-01-02 15:04:05"

// PublishedLayout is the minute-resolution form sentiment publish times are stored and displayed in.
const PublishedLayout = "2006-01-02 15:04"

// PriceBar is one intraday observation. Timestamp carries the exchange-local wall clock
// and is stored without a zone. (Symbol, Timestamp) is unique within a price table.
type PriceBar struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`
}

// MarshalJSON renders Timestamp as naive wall-clock time, without a zone.
func (b PriceBar) MarshalJSON() ([]byte, error) {
	type bar PriceBar
	return json.Marshal(struct {
		bar
		Timestamp string `json:"timestamp"`
	}{bar: bar(b), Timestamp: b.Timestamp.Format(TimestampLayout)})
}

// SentimentRecord is one ticker mention in a news article. Records are not unique.
type SentimentRecord struct {
	Symbol         string    `json:"ticker"`
	PublishedAt    time.Time `json:"time_published"`
	Source         string    `json:"source_domain"`
	RelevanceScore string    `json:"relevance_score"`
	Label          string    `json:"ticker_sentiment_label"`
}

func (r SentimentRecord) PublishedDisplay() string {
	return r.PublishedAt.Format(PublishedLayout)
}

func (r SentimentRecord) MarshalJSON() ([]byte, error) {
	type record SentimentRecord
	return json.Marshal(struct {
		record
		PublishedAt string `json:"time_published"`
	}{record: record(r), PublishedAt: r.PublishedDisplay()})
}

// Freshest returns the latest timestamp in bars and false when bars is empty.
func Freshest(bars []PriceBar) (time.Time, bool) {
	if len(bars) == 0 {
		return time.Time{}, false
	}
	freshest := bars[0].Timestamp
	for _, bar := range bars[1:] {
		if bar.Timestamp.After(freshest) {
			freshest = bar.Timestamp
		}
	}
	return freshest, true
}
