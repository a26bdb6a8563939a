// Package audio groups the audio helpers used by the engines:
//
//   - pcm16: 16-bit PCM samples (byte conversion, RMS, trailing windows,
//     resampling)
//   - wav: RIFF/WAVE decoding to and encoding from PCM16
//
// Engines consume 16 kHz mono PCM16; both sub-packages convert to that
// format at the edges.
package audio
