// Package codec converts between the human-readable forms the harness is
// configured with and the numeric forms the schedulers and reporter use.
package codec

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ParseSeconds parses a Go duration ("30s", "1m30s", "1.5h", "250ms"),
// with units matched case-insensitively, or a bare number of seconds.
// Empty input is 0. Negative, non-finite or malformed input is an error.
func ParseSeconds(text string) (float64, error) {
	raw := strings.TrimSpace(text)
	if raw == "" {
		return 0, nil
	}

	if value, err := strconv.ParseFloat(raw, 64); err == nil {
		if math.IsNaN(value) || math.IsInf(value, 0) || value < 0 {
			return 0, fmt.Errorf("codec: invalid duration %q", text)
		}
		return value, nil
	}

	d, err := time.ParseDuration(strings.ToLower(raw))
	if err != nil || d < 0 {
		return 0, fmt.Errorf("codec: invalid duration %q", text)
	}
	return d.Seconds(), nil
}

// DurationToSeconds is ParseSeconds with errors mapped to 0 so schedule
// arithmetic stays finite. Config validation rejects malformed values
// before a run starts.
func DurationToSeconds(text string) float64 {
	seconds, err := ParseSeconds(text)
	if err != nil {
		return 0
	}
	return seconds
}

// SecondsToDuration renders seconds as "<n>s" with at most millisecond
// precision. Non-positive and non-finite input clamps to "0s".
func SecondsToDuration(seconds float64) string {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds <= 0 {
		return "0s"
	}
	text := strconv.FormatFloat(seconds, 'f', 3, 64)
	text = strings.TrimRight(text, "0")
	text = strings.TrimSuffix(text, ".")
	if text == "" || text == "0" {
		return "0s"
	}
	return text + "s"
}
