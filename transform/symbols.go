package transform

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rasnes/alphavantage-warehouse/load"
)

var symbolPattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9.\-]{0,15}$`)

// ValidateSymbol upper-cases a ticker and rejects anything that is not a plain exchange
// symbol. Symbols end up in table names, so this runs before any warehouse call.
func ValidateSymbol(symbol string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if !symbolPattern.MatchString(s) {
		return "", fmt.Errorf("invalid symbol %q", symbol)
	}
	return s, nil
}

// ParseSymbols splits comma separated ticker lists and validates every symbol,
// dropping duplicates while keeping the first occurrence order. Distinct symbols that
// would write to the same tables are rejected.
func ParseSymbols(lists ...string) ([]string, error) {
	var symbols []string
	seen := map[string]bool{}
	claims := load.SuffixClaims{}
	for _, list := range lists {
		for _, raw := range strings.Split(list, ",") {
			if strings.TrimSpace(raw) == "" {
				continue
			}
			s, err := ValidateSymbol(raw)
			if err != nil {
				return nil, err
			}
			if !seen[s] {
				if err := claims.Claim(s); err != nil {
					return nil, err
				}
				seen[s] = true
				symbols = append(symbols, s)
			}
		}
	}
	return symbols, nil
}
