package rubric

import (
	"math"
	"strconv"
	"strings"
)

// ParseScore reads a numeric score from a cell. "4/5" yields 4.
func ParseScore(raw string) (float64, bool) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return 0, false
	}
	if idx := strings.Index(value, "/"); idx >= 0 {
		value = strings.TrimSpace(value[:idx])
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(parsed) || math.IsInf(parsed, 0) {
		return 0, false
	}
	return parsed, true
}

// FormatScore renders a score without a trailing ".0" for whole numbers.
func FormatScore(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

func isNumeric(raw string) bool {
	value := strings.TrimSpace(raw)
	if value == "" {
		return false
	}
	_, err := strconv.ParseFloat(value, 64)
	return err == nil
}
