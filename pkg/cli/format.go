package cli

import (
	"fmt"
	"strconv"
	"time"
)

// FormatDuration formats a duration the way audio spans are shown: "850ms",
// "2.5s", "1m4.0s".
func FormatDuration(d time.Duration) string {
	ms := d.Milliseconds()
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	secs := float64(ms) / 1000
	if secs < 60 {
		return fmt.Sprintf("%.1fs", secs)
	}
	mins := int(secs / 60)
	secs -= float64(mins * 60)
	return fmt.Sprintf("%dm%.1fs", mins, secs)
}

// FormatSamples formats a 16 kHz sample count as a duration.
func FormatSamples(n int) string {
	return FormatDuration(time.Duration(n) * time.Second / 16000)
}

// FormatScore formats a similarity score with three decimals.
func FormatScore(s float32) string {
	return strconv.FormatFloat(float64(s), 'f', 3, 32)
}

// FormatBool formats a flag as yes/no.
func FormatBool(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
