// Package normalizer holds the pure text helpers shared by every parser:
// locale-aware number and date parsing, legacy encoding repair and header
// folding. Nothing here keeps state.
package normalizer

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// DecimalHint resolves the one case the separators cannot: a single dot
// followed by exactly three digits ("1.234").
type DecimalHint int

const (
	HintNone     DecimalHint = iota // "1.234" is 1.234
	HintEuropean                    // "1.234" is 1234
	HintUS                          // "1.234" is 1.234
)

// ParseLocaleNumber parses raw using HintNone. It returns 0 for empty or
// unparseable input.
func ParseLocaleNumber(raw string) float64 {
	return ParseLocaleNumberHint(raw, HintNone)
}

// ParseLocaleNumberHint parses raw with an explicit hint for ambiguous
// thousands separators. It returns 0 for empty or unparseable input.
func ParseLocaleNumberHint(raw string, hint DecimalHint) float64 {
	d, ok := ParseLocaleDecimal(raw, hint)
	if !ok {
		return 0
	}
	f, _ := d.Float64()
	return f
}

// ParseLocaleDecimal is the exact form of ParseLocaleNumberHint. ok is false
// when nothing numeric could be read.
func ParseLocaleDecimal(raw string, hint DecimalHint) (decimal.Decimal, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return decimal.Zero, false
	}
	// Accounting style "(12,50)" and trailing-minus "12,50-" are negative.
	negative := (strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")")) || strings.HasSuffix(s, "-")

	// Everything except digits and separators is noise: currency symbols and
	// codes, quotes, spaces, NBSP.
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r == ',', r == '.':
			b.WriteRune(r)
		case r == '-' || r == '\u2212':
			if b.Len() == 0 {
				negative = true
			}
		case unicode.IsDigit(r):
			// non-ASCII digits are not supported
			return decimal.Zero, false
		}
	}
	cleaned := strings.TrimRight(b.String(), ".,")
	if strings.Trim(cleaned, ".,") == "" {
		return decimal.Zero, false
	}

	cleaned = canonicalSeparators(cleaned, hint)
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, false
	}
	if negative {
		d = d.Neg()
	}
	return d, true
}

// canonicalSeparators rewrites s so that '.' is the only (decimal)
// separator left.
func canonicalSeparators(s string, hint DecimalHint) string {
	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")

	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			// 1.234,56
			s = strings.ReplaceAll(s, ".", "")
			return strings.Replace(s, ",", ".", 1)
		}
		// 1,234.56
		return strings.ReplaceAll(s, ",", "")

	case lastComma >= 0:
		if strings.Count(s, ",") > 1 {
			return strings.ReplaceAll(s, ",", "")
		}
		return strings.Replace(s, ",", ".", 1)

	case lastDot >= 0:
		if strings.Count(s, ".") > 1 {
			return strings.ReplaceAll(s, ".", "")
		}
		trailing := len(s) - lastDot - 1
		if trailing == 3 && hint == HintEuropean && lastDot > 0 {
			return strings.Replace(s, ".", "", 1)
		}
		return s
	}
	return s
}
