package parser

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var reDigits = regexp.MustCompile(`\d+`)

// Portuguese month names without diacritics, January first.
var monthNames = [12]string{
	"janeiro", "fevereiro", "marco", "abril", "maio", "junho",
	"julho", "agosto", "setembro", "outubro", "novembro", "dezembro",
}

// foldText lower-cases s and strips combining marks, so "Março" becomes "marco".
func foldText(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

// monthByName returns the 1-based month named in s, or 0.
func monthByName(s string) int {
	folded := foldText(s)
	for i, name := range monthNames {
		if strings.Contains(folded, name) {
			return i + 1
		}
	}
	return 0
}

// DiscoverDate reads a day-first date out of a casually typed fragment such as
// "5", "05/03/2024" or "dia 5 de março de 2023". Components the fragment does
// not mention are taken from now. The result is midnight in now's location.
func DiscoverDate(fragment string, now time.Time) (time.Time, error) {
	runs := reDigits.FindAllString(fragment, -1)
	numbers := make([]int, 0, len(runs))
	for _, r := range runs {
		n, err := strconv.Atoi(r)
		if err != nil {
			return time.Time{}, invalidDate(fragment, "number out of range", err)
		}
		numbers = append(numbers, n)
	}

	var day, month, year int
	var hasDay, hasMonth, hasYear bool

	if m := monthByName(fragment); m != 0 {
		month, hasMonth = m, true
	}
	namedMonth := hasMonth

	// Day first. With a named month the second number is the year.
	if len(numbers) > 0 {
		day, hasDay = numbers[0], true
	}
	if len(numbers) > 1 {
		if namedMonth {
			year, hasYear = numbers[1], true
		} else {
			month, hasMonth = numbers[1], true
		}
	}
	if len(numbers) > 2 {
		year, hasYear = numbers[2], true
	}

	if !hasDay {
		day = now.Day()
	}
	if !hasMonth {
		month = int(now.Month())
	}
	if !hasYear {
		year = now.Year()
	} else if year < 100 {
		year += 2000
	}

	if day < 1 || day > 31 {
		return time.Time{}, invalidDate(fragment, "day out of range", nil)
	}
	if month < 1 || month > 12 {
		return time.Time{}, invalidDate(fragment, "month out of range", nil)
	}

	d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, now.Location())
	if d.Day() != day || int(d.Month()) != month || d.Year() != year {
		return time.Time{}, invalidDate(fragment, "no such day in month", nil)
	}
	return d, nil
}

// Today returns now with the time of day zeroed.
func Today(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, now.Location())
}
