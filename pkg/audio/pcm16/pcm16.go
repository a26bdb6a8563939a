// Package pcm16 holds helpers for signed 16-bit little-endian PCM audio, the
// sample format every enginehub engine consumes.
package pcm16

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	resampling "github.com/tphakala/go-audio-resampling"
)

// SampleRate is the rate engines expect, in Hz.
const SampleRate = 16000

// FromBytes decodes little-endian PCM16. A trailing odd byte is ignored.
func FromBytes(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}

// ToBytes encodes samples as little-endian PCM16.
func ToBytes(s []int16) []byte {
	out := make([]byte, len(s)*2)
	for i, v := range s {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// Samples returns the number of samples covering d at rate.
func Samples(d time.Duration, rate int) int {
	return int(d * time.Duration(rate) / time.Second)
}

// Duration returns the playback time of n samples at rate.
func Duration(n, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(rate)
}

// RMS returns the root mean square of s normalized to [0, 1].
func RMS(s []int16) float64 {
	if len(s) == 0 {
		return 0
	}
	var sum float64
	for _, v := range s {
		x := float64(v) / 32768
		sum += x * x
	}
	return math.Sqrt(sum / float64(len(s)))
}

// TrailingWindow returns exactly n samples taken from the end of s. When s is
// shorter than n, its samples are repeated cyclically from the start until n
// samples exist. The result is a fresh slice; an empty s yields nil.
func TrailingWindow(s []int16, n int) []int16 {
	if len(s) == 0 || n <= 0 {
		return nil
	}
	out := make([]int16, n)
	if len(s) >= n {
		copy(out, s[len(s)-n:])
		return out
	}
	for i := range out {
		out[i] = s[i%len(s)]
	}
	return out
}

// Downmix averages interleaved frames of channels into mono.
func Downmix(interleaved []int16, channels int) []int16 {
	if channels <= 1 {
		return interleaved
	}
	out := make([]int16, len(interleaved)/channels)
	for i := range out {
		var sum int32
		for c := range channels {
			sum += int32(interleaved[i*channels+c])
		}
		out[i] = int16(sum / int32(channels))
	}
	return out
}

// Resample converts mono samples from srcRate to dstRate.
func Resample(s []int16, srcRate, dstRate int) ([]int16, error) {
	if srcRate <= 0 || dstRate <= 0 {
		return nil, fmt.Errorf("pcm16: invalid rates %d -> %d", srcRate, dstRate)
	}
	if srcRate == dstRate || len(s) == 0 {
		return s, nil
	}
	r, err := resampling.New(&resampling.Config{
		InputRate:  float64(srcRate),
		OutputRate: float64(dstRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("pcm16: create resampler: %w", err)
	}
	in := make([]float64, len(s))
	for i, v := range s {
		in[i] = float64(v) / 32768
	}
	res, err := r.Process(in)
	if err != nil {
		return nil, fmt.Errorf("pcm16: resample: %w", err)
	}
	out := make([]int16, len(res))
	for i, x := range res {
		out[i] = int16(max(-32768, min(32767, math.Round(x*32767))))
	}
	return out, nil
}
