package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatUptime(t *testing.T) {
	tests := map[string]string{
		"72h30m15s": "3d 0h 30m 15s",
		"1h2m3s":    "1h 2m 3s",
		"4m0s":      "4m 0s",
		"9s":        "9s",
		"1.6s":      "1s",
		"garbage":   "garbage",
	}
	for in, want := range tests {
		assert.Equal(t, want, FormatUptime(in), in)
	}
}

func TestFormatDuration_Negative(t *testing.T) {
	assert.Equal(t, "0s", FormatDuration(-time.Minute))
}

func TestFormatTime(t *testing.T) {
	assert.Equal(t, "-", FormatTime(time.Time{}))

	ts := time.Date(2024, 3, 9, 14, 5, 6, 0, time.Local)
	assert.Equal(t, "Sat Mar 9 14:05:06 2024", FormatTime(ts))
}
