package parser

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// Two digits after the comma, not followed by a third.
	reDecimalComma = regexp.MustCompile(`(\d+),(\d{2})(\D|$)`)
	// Dotted thousands groups ahead of a two-digit comma tail, as in "1.500,00".
	reThousands = regexp.MustCompile(`\d{1,3}(?:\.\d{3})+,\d{2}(?:\D|$)`)
	reNumeral   = regexp.MustCompile(`[-+]?\d+(?:\.\d+)?`)
)

// NormalizeDecimalComma rewrites locale amounts such as "12,50" to "12.50" so
// the comma is not mistaken for the field separator.
func NormalizeDecimalComma(s string) string {
	s = reThousands.ReplaceAllStringFunc(s, func(m string) string {
		return strings.ReplaceAll(m, ".", "")
	})
	return reDecimalComma.ReplaceAllString(s, "${1}.${2}${3}")
}

// ExtractValue returns the first signed integer or decimal numeral in fragment.
func ExtractValue(fragment string) (decimal.Decimal, error) {
	m := reNumeral.FindString(NormalizeDecimalComma(fragment))
	if m == "" {
		return decimal.Zero, malformed(fragment, "no numeric value")
	}
	v, err := decimal.NewFromString(strings.TrimPrefix(m, "+"))
	if err != nil {
		return decimal.Zero, &Error{Kind: KindMalformed, Input: fragment, Reason: "unreadable value", Err: err}
	}
	return v, nil
}
