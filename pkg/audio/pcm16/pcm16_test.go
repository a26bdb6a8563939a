package pcm16

import (
	"slices"
	"testing"
	"time"
)

func TestBytesConversion(t *testing.T) {
	s := []int16{0, 1, -1, 32767, -32768}
	b := ToBytes(s)
	if len(b) != 10 || b[2] != 1 || b[3] != 0 || b[4] != 0xff {
		t.Fatalf("ToBytes = %v", b)
	}
	if got := FromBytes(append(b, 7)); !slices.Equal(got, s) {
		t.Errorf("FromBytes = %v", got)
	}
}

func TestTrailingWindow(t *testing.T) {
	tests := []struct {
		name string
		in   []int16
		n    int
		want []int16
	}{
		{"exact", []int16{1, 2, 3}, 3, []int16{1, 2, 3}},
		{"longer keeps tail", []int16{1, 2, 3, 4, 5}, 2, []int16{4, 5}},
		{"shorter repeats", []int16{1, 2, 3}, 7, []int16{1, 2, 3, 1, 2, 3, 1}},
		{"single sample", []int16{9}, 4, []int16{9, 9, 9, 9}},
		{"empty", nil, 4, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TrailingWindow(tt.in, tt.n)
			if !slices.Equal(got, tt.want) {
				t.Errorf("TrailingWindow(%v, %d) = %v, want %v", tt.in, tt.n, got, tt.want)
			}
		})
	}
}

func TestTrailingWindowDeterministic(t *testing.T) {
	in := []int16{5, -3, 8, 0, 2}
	a := TrailingWindow(in, SampleRate)
	b := TrailingWindow(slices.Clone(in), SampleRate)
	if len(a) != SampleRate || !slices.Equal(a, b) {
		t.Fatalf("padding not deterministic")
	}
	in[0] = 100
	if a[0] != 5 {
		t.Errorf("window aliases its input")
	}
}

func TestDurations(t *testing.T) {
	if n := Samples(time.Second, SampleRate); n != 16000 {
		t.Errorf("Samples(1s) = %d", n)
	}
	if n := Samples(100*time.Millisecond, SampleRate); n != 1600 {
		t.Errorf("Samples(100ms) = %d", n)
	}
	if d := Duration(8000, SampleRate); d != 500*time.Millisecond {
		t.Errorf("Duration(8000) = %v", d)
	}
}

func TestRMSAndDownmix(t *testing.T) {
	if RMS(nil) != 0 {
		t.Error("RMS(nil) != 0")
	}
	if r := RMS([]int16{16384, -16384}); r < 0.49 || r > 0.51 {
		t.Errorf("RMS = %v", r)
	}
	got := Downmix([]int16{10, 20, -4, 4}, 2)
	if !slices.Equal(got, []int16{15, 0}) {
		t.Errorf("Downmix = %v", got)
	}
}

func TestResampleIdentity(t *testing.T) {
	in := []int16{1, 2, 3}
	out, err := Resample(in, SampleRate, SampleRate)
	if err != nil || !slices.Equal(out, in) {
		t.Fatalf("Resample identity = %v, %v", out, err)
	}
	if _, err := Resample(in, 0, SampleRate); err == nil {
		t.Error("Resample with zero rate succeeded")
	}
}
