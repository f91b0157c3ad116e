package util

import (
	"fmt"
	"strings"
	"time"
)

// FormatUnix formats a unix-seconds timestamp using a template with
// placeholders instead of Go's reference-date syntax.
//
// Supported placeholders:
// - YYYY: 4-digit year
// - YY: 2-digit year
// - MM: 2-digit month (01-12)
// - DD: 2-digit day (01-31)
// - hh: 2-digit hour (00-23)
// - mm: 2-digit minute (00-59)
// - ss: 2-digit second (00-59)
//
// Returns an empty string if ts == 0.
//
// Example:
//
//	FormatUnix(1699603200, "YYYY.MM.DD")       // "2023.11.10"
//	FormatUnix(1699603200, "YYYY-MM-DD hh:mm") // "2023-11-10 08:00"
func FormatUnix(ts int64, tpl string) string {
	if ts == 0 {
		return ""
	}

	// Longest placeholders first so "YYYY" is not eaten by "YY".
	replacer := strings.NewReplacer(
		"YYYY", "2006",
		"YY", "06",
		"MM", "01",
		"DD", "02",
		"hh", "15",
		"mm", "04",
		"ss", "05",
	)

	return time.Unix(ts, 0).UTC().Format(replacer.Replace(tpl))
}

// FormatSeconds renders a duration in whole seconds as "1h 02m 03s",
// dropping leading zero components.
func FormatSeconds(total int64) string {
	if total < 0 {
		total = 0
	}
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %02dm %02ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %02ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}
