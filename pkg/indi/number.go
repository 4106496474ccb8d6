package indi

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseNumber parses a number value, accepting the sexagesimal forms used
// for coordinates: "12:30:00", "-5 24 30.5" or "12:30.5".
func ParseNumber(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty number")
	}

	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ':' || r == ' ' || r == '\t' })
	if len(parts) == 1 {
		return strconv.ParseFloat(parts[0], 64)
	}
	if len(parts) > 3 {
		return 0, fmt.Errorf("invalid sexagesimal number %q", s)
	}

	negative := strings.HasPrefix(parts[0], "-")
	var value float64
	scale := 1.0
	for i, part := range parts {
		v, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid sexagesimal number %q: %w", s, err)
		}
		if i > 0 && v < 0 {
			return 0, fmt.Errorf("invalid sexagesimal number %q", s)
		}
		if v < 0 {
			v = -v
		}
		value += v / scale
		scale *= 60
	}
	if negative {
		value = -value
	}
	return value, nil
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
