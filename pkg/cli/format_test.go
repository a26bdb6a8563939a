package cli

import (
	"testing"
	"time"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0ms"},
		{850 * time.Millisecond, "850ms"},
		{time.Second, "1.0s"},
		{2500 * time.Millisecond, "2.5s"},
		{64 * time.Second, "1m4.0s"},
	}

	for _, tt := range tests {
		if got := FormatDuration(tt.d); got != tt.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestFormatSamples(t *testing.T) {
	if got := FormatSamples(8000); got != "500ms" {
		t.Errorf("FormatSamples(8000) = %q, want 500ms", got)
	}
	if got := FormatSamples(24000); got != "1.5s" {
		t.Errorf("FormatSamples(24000) = %q, want 1.5s", got)
	}
}

func TestFormatScoreAndBool(t *testing.T) {
	if got := FormatScore(0.5); got != "0.500" {
		t.Errorf("FormatScore(0.5) = %q", got)
	}
	if FormatBool(true) != "yes" || FormatBool(false) != "no" {
		t.Error("FormatBool mismatch")
	}
}
