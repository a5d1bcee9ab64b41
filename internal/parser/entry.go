package parser

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Entry holds the fields read from one "description, value, date" line.
type Entry struct {
	Description string
	Value       decimal.Decimal
	Date        time.Time
}

// ParseEntry splits line into description, value and an optional date. The
// date defaults to today when absent. Failures are *Error values.
func ParseEntry(line string, now time.Time) (Entry, error) {
	normalized := NormalizeDecimalComma(line)

	parts := strings.Split(normalized, ",")
	fragments := make([]string, 0, len(parts))
	for _, p := range parts {
		fragments = append(fragments, strings.TrimSpace(p))
	}
	if len(fragments) < 2 {
		return Entry{}, malformed(line, "expected description and value separated by a comma")
	}

	description := fragments[0]
	if description == "" {
		return Entry{}, malformed(line, "empty description")
	}

	value, err := ExtractValue(fragments[1])
	if err != nil {
		return Entry{}, err
	}

	// Only the third fragment carries the date; anything after it is ignored.
	date := Today(now)
	if len(fragments) > 2 && fragments[2] != "" {
		date, err = DiscoverDate(fragments[2], now)
		if err != nil {
			return Entry{}, err
		}
	}

	return Entry{Description: description, Value: value, Date: date}, nil
}
