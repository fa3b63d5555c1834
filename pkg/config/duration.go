package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseSpan parses a human-readable time span. It accepts everything
// time.ParseDuration does, plus whole-number day and week units
// ("1day", "2 weeks", "3d"), which the standard parser lacks. Spans
// must not be negative.
func ParseSpan(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}

	if d, err := time.ParseDuration(s); err == nil {
		if d < 0 {
			return 0, fmt.Errorf("must not be negative: %s", s)
		}
		return d, nil
	}

	num, unit := splitSpan(s)
	n, err := strconv.Atoi(num)
	if err != nil {
		return 0, fmt.Errorf("invalid duration: %q", s)
	}
	switch strings.TrimSpace(unit) {
	case "d", "day", "days":
		return time.Duration(n) * 24 * time.Hour, nil
	case "w", "week", "weeks":
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	}
	return 0, fmt.Errorf("invalid duration: %q", s)
}

// splitSpan cuts s into its leading digits and the remainder.
func splitSpan(s string) (num, unit string) {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	return s[:i], s[i:]
}
