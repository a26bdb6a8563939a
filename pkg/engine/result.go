package engine

import "math"

// OnboardingResult is the outcome of an onboarding flow.
type OnboardingResult struct {
	Embedding     []float32 `json:"embedding,omitempty" yaml:"embedding,omitempty" msgpack:"embedding"`
	VoicedSeconds float32   `json:"voiced_seconds" yaml:"voiced_seconds" msgpack:"voiced_seconds"`
	Enrolled      bool      `json:"enrolled" yaml:"enrolled" msgpack:"enrolled"`

	// Embeddings is the number of embeddings enrolled by the flow, set by
	// flows that enroll more than one.
	Embeddings int `json:"embeddings,omitempty" yaml:"embeddings,omitempty" msgpack:"embeddings"`
}

// VerificationResult is the outcome of a verification flow.
type VerificationResult struct {
	Score         float32 `json:"score" yaml:"score" msgpack:"score"`
	Accepted      bool    `json:"accepted" yaml:"accepted" msgpack:"accepted"`
	VoicedSeconds float32 `json:"voiced_seconds" yaml:"voiced_seconds" msgpack:"voiced_seconds"`
}

// Cosine returns the cosine similarity of a and b in [-1, 1]. Vectors of
// different length or zero norm score 0.
func Cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	s := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return float32(max(-1, min(1, s)))
}

// Normalize scales v to unit L2 norm in place. A zero vector is left as is.
func Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := 1 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
}
