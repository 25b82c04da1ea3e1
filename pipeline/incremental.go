package pipeline

import (
	"time"

	"github.com/rasnes/alphavantage-warehouse/model"
)

// Decision is the outcome of comparing a fetched price batch with the stored watermark.
type Decision int

const (
	// FullLoad writes every fetched row into a freshly created table.
	FullLoad Decision = iota
	// Noop appends nothing: the batch holds nothing newer than the watermark.
	Noop
	// Append writes only the rows strictly newer than the watermark.
	Append
)

func (d Decision) String() string {
	switch d {
	case FullLoad:
		return "full_load"
	case Noop:
		return "noop"
	case Append:
		return "append"
	default:
		return "unknown"
	}
}

type Plan struct {
	Decision Decision
	// Rows are the rows to write, in fetch order.
	Rows []model.PriceBar
	// Freshest is the largest fetched timestamp, zero for an empty batch.
	Freshest time.Time
}

// PlanPriceLoad decides how a fetched batch reaches the price table. hasWatermark is
// false when the table is missing or empty. Rows equal to the watermark are never
// appended again.
func PlanPriceLoad(rows []model.PriceBar, watermark time.Time, hasWatermark bool) Plan {
	freshest, _ := model.Freshest(rows)
	if !hasWatermark {
		return Plan{Decision: FullLoad, Rows: rows, Freshest: freshest}
	}

	if len(rows) == 0 || !freshest.After(watermark) {
		return Plan{Decision: Noop, Freshest: freshest}
	}

	newer := make([]model.PriceBar, 0, len(rows))
	for _, row := range rows {
		if row.Timestamp.After(watermark) {
			newer = append(newer, row)
		}
	}
	return Plan{Decision: Append, Rows: newer, Freshest: freshest}
}
