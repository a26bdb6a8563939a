package fbank

import (
	"math"
	"math/cmplx"
)

// FeatureConfig controls log mel filterbank extraction. The defaults follow
// the Kaldi convention used by common speaker models.
type FeatureConfig struct {
	SampleRate  int     // Hz, default 16000
	WindowSize  int     // samples per frame, default 400 (25 ms)
	HopSize     int     // samples between frames, default 160 (10 ms)
	FFTSize     int     // default 512
	NumMels     int     // default 80
	LowFreq     float64 // default 20
	HighFreq    float64 // default 7600
	PreEmphasis float64 // default 0.97
}

func (c *FeatureConfig) defaults() {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.WindowSize <= 0 {
		c.WindowSize = 400
	}
	if c.HopSize <= 0 {
		c.HopSize = 160
	}
	if c.FFTSize < c.WindowSize {
		c.FFTSize = 1
		for c.FFTSize < c.WindowSize {
			c.FFTSize <<= 1
		}
	}
	if c.NumMels <= 0 {
		c.NumMels = 80
	}
	if c.LowFreq <= 0 {
		c.LowFreq = 20
	}
	if c.HighFreq <= 0 || c.HighFreq > float64(c.SampleRate)/2 {
		c.HighFreq = min(7600, float64(c.SampleRate)/2)
	}
	if c.PreEmphasis <= 0 {
		c.PreEmphasis = 0.97
	}
}

// extractor turns PCM16 into embeddings. Immutable after construction.
type extractor struct {
	cfg    FeatureConfig
	window []float64
	bank   [][]float64
}

func newExtractor(cfg FeatureConfig) *extractor {
	cfg.defaults()
	return &extractor{
		cfg:    cfg,
		window: hamming(cfg.WindowSize),
		bank:   melBank(cfg.NumMels, cfg.FFTSize, cfg.SampleRate, cfg.LowFreq, cfg.HighFreq),
	}
}

// frames returns [T][NumMels] log mel energies, or nil when pcm is shorter
// than one frame.
func (x *extractor) frames(pcm []int16) [][]float32 {
	cfg := x.cfg
	if len(pcm) < cfg.WindowSize {
		return nil
	}
	n := (len(pcm)-cfg.WindowSize)/cfg.HopSize + 1
	half := cfg.FFTSize/2 + 1
	out := make([][]float32, n)
	buf := make([]complex128, cfg.FFTSize)
	power := make([]float64, half)

	for t := range out {
		start := t * cfg.HopSize
		clear(buf)
		for i := 0; i < cfg.WindowSize; i++ {
			s := float64(pcm[start+i]) / 32768
			if i > 0 {
				s -= cfg.PreEmphasis * float64(pcm[start+i-1]) / 32768
			}
			buf[i] = complex(s*x.window[i], 0)
		}
		fft(buf)
		for k := range power {
			power[k] = real(buf[k])*real(buf[k]) + imag(buf[k])*imag(buf[k])
		}
		mel := make([]float32, cfg.NumMels)
		for m, filter := range x.bank {
			var e float64
			for k, w := range filter {
				e += w * power[k]
			}
			mel[m] = float32(math.Log(max(e, 1e-10)))
		}
		out[t] = mel
	}
	return out
}

// embed averages the frames of pcm, removes the mean across mel bins and
// normalises to unit length. It returns nil when pcm is too short.
func (x *extractor) embed(pcm []int16) []float32 {
	frames := x.frames(pcm)
	if len(frames) == 0 {
		return nil
	}
	acc := make([]float64, x.cfg.NumMels)
	for _, f := range frames {
		for m, v := range f {
			acc[m] += float64(v)
		}
	}
	var centre float64
	for m := range acc {
		acc[m] /= float64(len(frames))
		centre += acc[m]
	}
	centre /= float64(len(acc))

	var norm float64
	for m := range acc {
		acc[m] -= centre
		norm += acc[m] * acc[m]
	}
	out := make([]float32, len(acc))
	if norm == 0 {
		return out
	}
	norm = math.Sqrt(norm)
	for m, v := range acc {
		out[m] = float32(v / norm)
	}
	return out
}

func hamming(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return w
}

func hzToMel(hz float64) float64 { return 2595 * math.Log10(1+hz/700) }
func melToHz(mel float64) float64 { return 700 * (math.Pow(10, mel/2595) - 1) }

// melBank builds numMels triangular filters over fftSize/2+1 bins.
func melBank(numMels, fftSize, sampleRate int, low, high float64) [][]float64 {
	half := fftSize/2 + 1
	lo, hi := hzToMel(low), hzToMel(high)
	bins := make([]int, numMels+2)
	for i := range bins {
		hz := melToHz(lo + float64(i)*(hi-lo)/float64(numMels+1))
		bins[i] = min(int(math.Round(hz*float64(fftSize)/float64(sampleRate))), half-1)
		if i > 0 && bins[i] <= bins[i-1] {
			bins[i] = bins[i-1] + 1
		}
	}
	bank := make([][]float64, numMels)
	for m := range bank {
		f := make([]float64, half)
		l, c, r := bins[m], bins[m+1], bins[m+2]
		for k := l; k <= r && k < half; k++ {
			switch {
			case k < c:
				f[k] = float64(k-l) / float64(c-l)
			case k == c:
				f[k] = 1
			default:
				f[k] = float64(r-k) / float64(r-c)
			}
		}
		bank[m] = f
	}
	return bank
}

// fft is an in-place radix-2 Cooley-Tukey transform. len(x) must be a power
// of two.
func fft(x []complex128) {
	n := len(x)
	for i, j := 1, 0; i < n; i++ {
		bit := n >> 1
		for ; j&bit != 0; bit >>= 1 {
			j ^= bit
		}
		j ^= bit
		if i < j {
			x[i], x[j] = x[j], x[i]
		}
	}
	for size := 2; size <= n; size <<= 1 {
		step := cmplx.Exp(complex(0, -2*math.Pi/float64(size)))
		for start := 0; start < n; start += size {
			w := complex(1, 0)
			for k := 0; k < size/2; k++ {
				u, v := x[start+k], w*x[start+k+size/2]
				x[start+k], x[start+k+size/2] = u+v, u-v
				w *= step
			}
		}
	}
}
