package load

import (
	"fmt"
	"regexp"
	"strings"
)

type DataType int

const (
	TypeString DataType = iota
	TypeFloat
	TypeInt
	TypeTimestamp
)

type Column struct {
	Name string
	Type DataType
}

// TableMeta describes a warehouse table independently of the SQL dialect.
type TableMeta struct {
	Name    string
	Columns []Column
	SortKey string
}

func (m TableMeta) ColumnNames() []string {
	names := make([]string, len(m.Columns))
	for i, c := range m.Columns {
		names[i] = c.Name
	}
	return names
}

const (
	PriceTablePrefix     = "stock_intraday_prices_"
	SentimentTablePrefix = "stock_sentiment_"
)

var identifierPattern = regexp.MustCompile(`^[a-z0-9_]{1,32}$`)

// TableSuffix turns a ticker into the lower-cased identifier suffix used in table names.
// Dots and dashes become underscores; anything else outside [a-z0-9_] is rejected.
func TableSuffix(symbol string) (string, error) {
	suffix := strings.NewReplacer(".", "_", "-", "_").Replace(strings.ToLower(strings.TrimSpace(symbol)))
	if !identifierPattern.MatchString(suffix) {
		return "", fmt.Errorf("symbol %q cannot be used in a table name", symbol)
	}
	return suffix, nil
}

// SuffixClaims maps each table suffix to the symbol owning it.
type SuffixClaims map[string]string

// Claim records symbol as the owner of its tables. It fails when a different symbol
// already owns the same suffix, as BRK.B and BRK-B would.
func (c SuffixClaims) Claim(symbol string) error {
	suffix, err := TableSuffix(symbol)
	if err != nil {
		return err
	}
	if owner, ok := c[suffix]; ok && owner != symbol {
		return fmt.Errorf("symbols %q and %q would share the tables suffixed %q", owner, symbol, suffix)
	}
	c[suffix] = symbol
	return nil
}

func PriceTable(symbol string) (TableMeta, error) {
	suffix, err := TableSuffix(symbol)
	if err != nil {
		return TableMeta{}, err
	}
	return TableMeta{
		Name: PriceTablePrefix + suffix,
		Columns: []Column{
			{Name: "date", Type: TypeTimestamp},
			{Name: "open_price", Type: TypeFloat},
			{Name: "high_price", Type: TypeFloat},
			{Name: "low_price", Type: TypeFloat},
			{Name: "close_price", Type: TypeFloat},
			{Name: "volume", Type: TypeInt},
		},
		SortKey: "date",
	}, nil
}

func SentimentTable(symbol string) (TableMeta, error) {
	suffix, err := TableSuffix(symbol)
	if err != nil {
		return TableMeta{}, err
	}
	return TableMeta{
		Name: SentimentTablePrefix + suffix,
		Columns: []Column{
			{Name: "ticker", Type: TypeString},
			{Name: "time_published", Type: TypeTimestamp},
			{Name: "source_domain", Type: TypeString},
			{Name: "relevance_score", Type: TypeString},
			{Name: "ticker_sentiment_label", Type: TypeString},
		},
		SortKey: "time_published",
	}, nil
}
