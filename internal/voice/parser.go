// Package voice extracts payment amounts from speech transcripts.
package voice

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/hperssn/palmpay/internal/domain"
)

// number accepts plain digits, thousands grouping ("1,500") and lakh grouping
// ("1,50,000").
const number = `(\d{1,3}(?:,\d{3})+|\d{1,2}(?:,\d{2})+,\d{3}|\d+)(?:\.(\d{1,2}))?`

var (
	// "150 rupees", "20 dollars", "99rs."
	suffixPattern = regexp.MustCompile(`(?i)` + number + `\s*(rupees?|rs\.?|inr|dollars?|usd)(?:[^a-z]|$)`)
	// "rs 150", "₹150", "$20"
	prefixPattern = regexp.MustCompile(`(?i)(?:^|[^a-z])(rs\.?|inr|usd|₹|\$)\s*` + number)
)

type Parser struct{}

func NewParser() Parser {
	return Parser{}
}

// Parse returns the first positive amount with a currency marker in transcript.
// Negative, zero and spelled-out amounts yield domain.ErrNoAmountFound, as do
// digits that only match part of a longer number ("150.555", "1,5000").
func (Parser) Parse(transcript string) (domain.Amount, error) {
	for _, m := range suffixPattern.FindAllStringSubmatchIndex(transcript, -1) {
		intPart, frac := group(transcript, m, 1), group(transcript, m, 2)
		if negated(transcript[:m[2]]) || !startsClean(transcript, m[2]) || !endsClean(transcript, numberEnd(m, 1)) {
			continue
		}
		if amt, ok := build(intPart, frac, group(transcript, m, 3)); ok {
			return amt, nil
		}
	}

	for _, m := range prefixPattern.FindAllStringSubmatchIndex(transcript, -1) {
		if negated(transcript[:m[2]]) || !endsClean(transcript, numberEnd(m, 2)) {
			continue
		}
		if amt, ok := build(group(transcript, m, 2), group(transcript, m, 3), group(transcript, m, 1)); ok {
			return amt, nil
		}
	}

	return domain.Amount{}, fmt.Errorf("%w in %q", domain.ErrNoAmountFound, transcript)
}

func group(s string, m []int, i int) string {
	start, end := m[2*i], m[2*i+1]
	if start < 0 {
		return ""
	}
	return s[start:end]
}

// numberEnd is the end of the number whose integer part is group i, with the
// fraction in group i+1.
func numberEnd(m []int, i int) int {
	if end := m[2*(i+1)+1]; end >= 0 {
		return end
	}
	return m[2*i+1]
}

// startsClean and endsClean reject a number that is a piece of a longer one.
func startsClean(s string, start int) bool {
	return start == 0 || strings.IndexByte("0123456789.,", s[start-1]) < 0
}

func endsClean(s string, end int) bool {
	if end >= len(s) {
		return true
	}
	c := s[end]
	if isDigit(c) {
		return false
	}
	return !((c == '.' || c == ',') && end+1 < len(s) && isDigit(s[end+1]))
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func negated(before string) bool {
	before = strings.ToLower(strings.TrimRight(before, " \t"))
	return strings.HasSuffix(before, "-") ||
		strings.HasSuffix(before, "minus") ||
		strings.HasSuffix(before, "negative")
}

func build(intPart, frac, unit string) (domain.Amount, bool) {
	value := strings.ReplaceAll(intPart, ",", "")
	if frac != "" {
		value += "." + frac
	}

	f, err := strconv.ParseFloat(value, 64)
	if err != nil || f <= 0 {
		return domain.Amount{}, false
	}
	return domain.Amount{Value: value, Currency: currency(unit)}, true
}

func currency(unit string) string {
	switch u := strings.ToLower(strings.TrimSuffix(unit, ".")); {
	case u == "$" || u == "usd" || strings.HasPrefix(u, "dollar"):
		return "USD"
	default:
		return "INR"
	}
}
