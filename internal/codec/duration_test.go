package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDurationToSeconds(t *testing.T) {
	cases := map[string]float64{
		"30s":   30,
		"2m":    120,
		"1h":    3600,
		"1.5H":  5400,
		"250ms": 0.25,
		"1m30s": 90,
		"1h30m": 5400,
		"2M30S": 150,
		"30 s":  0,
		"45":    45,
		" 10s ": 10,
		"":      0,
		"bogus": 0,
		"10d":   0,
		"NaN":   0,
		"-5s":   0,
	}

	for input, want := range cases {
		t.Run(input, func(t *testing.T) {
			assert.InDelta(t, want, DurationToSeconds(input), 1e-9)
		})
	}
}

func TestParseSeconds(t *testing.T) {
	valid := map[string]float64{
		"":       0,
		"0s":     0,
		"45":     45,
		"0.5":    0.5,
		"1m30s":  90,
		"1h2m3s": 3723,
		"1500ms": 1.5,
	}
	for input, want := range valid {
		t.Run("valid "+input, func(t *testing.T) {
			got, err := ParseSeconds(input)
			require.NoError(t, err)
			assert.InDelta(t, want, got, 1e-9)
		})
	}

	for _, input := range []string{"30 s", "bogus", "10d", "-5s", "-3", "NaN", "Inf", "1m30"} {
		t.Run("invalid "+input, func(t *testing.T) {
			_, err := ParseSeconds(input)
			assert.ErrorContains(t, err, "invalid duration")
		})
	}
}

func TestSecondsToDuration(t *testing.T) {
	assert.Equal(t, "30s", SecondsToDuration(30))
	assert.Equal(t, "0.25s", SecondsToDuration(0.25))
	assert.Equal(t, "90.5s", SecondsToDuration(90.5))
	assert.Equal(t, "0s", SecondsToDuration(0))
	assert.Equal(t, "0s", SecondsToDuration(-3))
	assert.Equal(t, "0s", SecondsToDuration(0.0001))
}

func TestDurationRoundTrip(t *testing.T) {
	for _, input := range []string{"1s", "45s", "2m", "90m", "1h", "3h", "0.5s"} {
		t.Run(input, func(t *testing.T) {
			seconds := DurationToSeconds(input)
			back := SecondsToDuration(seconds)
			assert.InDelta(t, seconds, DurationToSeconds(back), 1e-9)
		})
	}
}
