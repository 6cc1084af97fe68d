package normalizer

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DateHint tells ParseLocaleDate how to read a non-ISO date whose first two
// segments could both be day or month.
type DateHint int

const (
	DayFirst   DateHint = iota // 02/01/2024 is 2 January
	MonthFirst                 // 02/01/2024 is 1 February
)

var ErrInvalidDate = errors.New("invalid date")

var (
	dateSplit = regexp.MustCompile(`^(\d{1,4})[/.\-](\d{1,2})[/.\-](\d{1,4})(?:[ T\-]+(\d{1,2}):(\d{2})(?::(\d{2}))?)?`)
)

// ParseLocaleDate accepts DD/MM/YYYY, DD-MM-YYYY, DD.MM.YYYY and YYYY-MM-DD,
// optionally followed by a time (space, 'T' or '-' separated). The segment
// with four digits decides the layout. Unparseable input is an error; the
// caller decides whether the row survives.
func ParseLocaleDate(raw string, hint DateHint) (time.Time, error) {
	s := strings.TrimSpace(strings.Trim(raw, `"'`))
	m := dateSplit.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, raw)
	}

	var year, month, day int
	a, b, c := atoi(m[1]), atoi(m[2]), atoi(m[3])
	switch {
	case len(m[1]) == 4:
		year, month, day = a, b, c
	case len(m[3]) == 4:
		year = c
		if hint == MonthFirst {
			month, day = a, b
		} else {
			day, month = a, b
		}
		// 12/31/2024 cannot be day-first.
		if month > 12 && day <= 12 {
			month, day = day, month
		}
	default:
		return time.Time{}, fmt.Errorf("%w: no four-digit year in %q", ErrInvalidDate, raw)
	}

	hour, minute, second := 0, 0, 0
	if m[4] != "" {
		hour, minute = atoi(m[4]), atoi(m[5])
		if m[6] != "" {
			second = atoi(m[6])
		}
	}

	if month < 1 || month > 12 || day < 1 || day > 31 || hour > 23 || minute > 59 || second > 59 {
		return time.Time{}, fmt.Errorf("%w: out of range %q", ErrInvalidDate, raw)
	}
	t := time.Date(year, time.Month(month), day, hour, minute, second, 0, time.UTC)
	if t.Day() != day {
		// time.Date normalises 31/02 to March.
		return time.Time{}, fmt.Errorf("%w: no such day %q", ErrInvalidDate, raw)
	}
	return t, nil
}

// ParseLocaleDateTime combines a separate date and time cell, as DeGiro
// exports them.
func ParseLocaleDateTime(date, clock string, hint DateHint) (time.Time, error) {
	clock = strings.TrimSpace(clock)
	if clock == "" {
		return ParseLocaleDate(date, hint)
	}
	return ParseLocaleDate(strings.TrimSpace(date)+" "+clock, hint)
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
