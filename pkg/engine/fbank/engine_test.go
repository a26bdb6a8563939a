package fbank

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/frymanofer/enginehub/pkg/audio/wav"
	"github.com/frymanofer/enginehub/pkg/engine"
)

type emitted struct {
	mu     sync.Mutex
	hits   []string
	scores []float32
}

func (e *emitted) emit(phrase string, score float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hits = append(e.hits, phrase)
	e.scores = append(e.scores, score)
}

func (e *emitted) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.hits)
}

func writeModel(t *testing.T, phrase string, pcm []int16) string {
	t.Helper()
	m, err := BuildModel(phrase, pcm, FeatureConfig{})
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), phrase+".fbm")
	if err := m.Save(path); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestEngine(t *testing.T, spec engine.Spec, opts Options) *Engine {
	t.Helper()
	e, err := New(context.Background(), spec, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func TestNewRejectsBadModel(t *testing.T) {
	_, err := New(context.Background(), engine.Spec{
		Key:    "a",
		Models: []engine.ModelConfig{{Model: filepath.Join(t.TempDir(), "nope.fbm")}},
	}, Options{})
	if err == nil {
		t.Fatal("missing model file should fail")
	}

	_, err = New(context.Background(), engine.Spec{
		Key:    "a",
		Models: []engine.ModelConfig{{Model: "x", Threshold: 2}},
	}, Options{})
	if !errors.Is(err, engine.ErrInvalidArgument) {
		t.Fatalf("err = %v, want ErrInvalidArgument", err)
	}
}

func TestDetection(t *testing.T) {
	ref := tone(440, 8000, 8000)
	var got emitted
	e := newTestEngine(t, engine.Spec{
		Key:    "kitchen",
		Models: []engine.ModelConfig{{Model: writeModel(t, "hey_hub", ref), Threshold: 0.8, MsBetweenCallbacks: 60000}},
		Emit:   got.emit,
	}, Options{})

	// Not listening: audio is only recorded.
	if err := e.Process(tone(440, 8000, 16000)); err != nil {
		t.Fatal(err)
	}
	if got.count() != 0 {
		t.Fatalf("detections while idle = %d", got.count())
	}

	if err := e.StartListening(0.8); err != nil {
		t.Fatalf("StartListening: %v", err)
	}
	if err := e.Process(tone(440, 8000, 32000)); err != nil {
		t.Fatal(err)
	}
	if got.count() != 1 {
		t.Fatalf("detections = %d, want 1 (debounced)", got.count())
	}
	if got.hits[0] != "hey_hub" || got.scores[0] < 0.8 {
		t.Errorf("detection = %q %v", got.hits[0], got.scores[0])
	}

	if err := e.StopListening(); err != nil {
		t.Fatal(err)
	}
	e.Process(tone(440, 8000, 16000))
	if got.count() != 1 {
		t.Errorf("detections after stop = %d, want 1", got.count())
	}
}

func TestSilenceNeverDetects(t *testing.T) {
	var got emitted
	e := newTestEngine(t, engine.Spec{
		Key:    "a",
		Models: []engine.ModelConfig{{Model: writeModel(t, "hey_hub", tone(440, 8000, 8000))}},
		Emit:   got.emit,
	}, Options{})
	if err := e.StartListening(0.1); err != nil {
		t.Fatal(err)
	}
	e.Process(make([]int16, 32000))
	if got.count() != 0 {
		t.Errorf("detections on silence = %d", got.count())
	}
}

func TestBufferCountNeedsConsecutiveHops(t *testing.T) {
	var got emitted
	e := newTestEngine(t, engine.Spec{
		Key:    "a",
		Models: []engine.ModelConfig{{Model: writeModel(t, "hey_hub", tone(440, 8000, 8000)), BufferCount: 1000}},
		Emit:   got.emit,
	}, Options{})
	if err := e.StartListening(0.5); err != nil {
		t.Fatal(err)
	}
	e.Process(tone(440, 8000, 32000))
	if got.count() != 0 {
		t.Errorf("detections = %d, want 0 before the streak completes", got.count())
	}
}

func TestReplaceModel(t *testing.T) {
	var got emitted
	e := newTestEngine(t, engine.Spec{
		Key:    "a",
		Models: []engine.ModelConfig{{Model: writeModel(t, "silent", tone(440, 8000, 8000)), BufferCount: 1000}},
		Emit:   got.emit,
	}, Options{})
	next := engine.ModelConfig{Model: writeModel(t, "ok_hub", tone(440, 8000, 8000)), MsBetweenCallbacks: 60000}
	if err := e.ReplaceModel(context.Background(), next); err != nil {
		t.Fatalf("ReplaceModel: %v", err)
	}
	if err := e.ReplaceModel(context.Background(), engine.ModelConfig{Model: "/nope"}); err == nil {
		t.Error("replacing with a missing file should fail")
	}
	e.StartListening(0.8)
	e.Process(tone(440, 8000, 32000))
	if got.count() != 1 || got.hits[0] != "ok_hub" {
		t.Errorf("hits = %v, want [ok_hub]", got.hits)
	}
}

func TestLicense(t *testing.T) {
	e := newTestEngine(t, engine.Spec{Key: "a"}, Options{
		RequireLicense: true,
		CheckLicense:   func(k string) bool { return k == "valid" },
	})
	if err := e.StartListening(0.5); !errors.Is(err, engine.ErrLicenseDenied) {
		t.Fatalf("err = %v, want ErrLicenseDenied", err)
	}
	if e.SetLicense("bogus") {
		t.Error("bogus key accepted")
	}
	if !e.SetLicense("valid") {
		t.Error("valid key rejected")
	}
	if err := e.StartListening(0.5); err != nil {
		t.Errorf("StartListening after license: %v", err)
	}
}

func TestClosedEngine(t *testing.T) {
	e := newTestEngine(t, engine.Spec{Key: "a"}, Options{})
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}
	if err := e.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if err := e.StartListening(0.5); !errors.Is(err, errClosed) {
		t.Errorf("StartListening = %v", err)
	}
	if _, err := e.StartOnboarding(); !errors.Is(err, errClosed) {
		t.Errorf("StartOnboarding = %v", err)
	}
	if err := e.Process(tone(440, 8000, 100)); !errors.Is(err, errClosed) {
		t.Errorf("Process = %v", err)
	}
}

func TestCaptureFromSource(t *testing.T) {
	var got emitted
	src := NewSliceSource(tone(440, 8000, 32000))
	e := newTestEngine(t, engine.Spec{
		Key:    "a",
		Models: []engine.ModelConfig{{Model: writeModel(t, "hey_hub", tone(440, 8000, 8000)), MsBetweenCallbacks: 60000}},
		Emit:   got.emit,
	}, Options{Source: src})
	if err := e.StartListening(0.8); err != nil {
		t.Fatal(err)
	}
	select {
	case <-src.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("source was not drained")
	}
	deadline := time.Now().Add(5 * time.Second)
	for got.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got.count() != 1 {
		t.Errorf("detections = %d, want 1", got.count())
	}
}

func TestOnboardingAndVerificationStreams(t *testing.T) {
	e := newTestEngine(t, engine.Spec{Key: "a"}, Options{
		OnboardTarget: 300 * time.Millisecond,
		VerifyTarget:  300 * time.Millisecond,
	})
	if _, err := e.StartVerification(); !errors.Is(err, errNoTargets) {
		t.Fatalf("StartVerification without targets = %v", err)
	}

	on, err := e.StartOnboarding()
	if err != nil {
		t.Fatal(err)
	}
	block := tone(440, 8000, 1600)
	for i := range 2 {
		res, err := on.Feed(block)
		if err != nil || res != nil {
			t.Fatalf("feed %d = %v, %v; want pending", i, res, err)
		}
	}
	// Silence is not voiced and does not advance onboarding.
	if res, _ := on.Feed(make([]int16, 1600)); res != nil {
		t.Fatal("silence completed onboarding")
	}
	res, err := on.Feed(block)
	if err != nil || res == nil {
		t.Fatalf("third voiced feed = %v, %v", res, err)
	}
	if !res.Enrolled || len(res.Embedding) != 80 {
		t.Errorf("result = %+v", res)
	}

	ver, err := e.StartVerification()
	if err != nil {
		t.Fatal(err)
	}
	var vres *engine.VerificationResult
	for range 3 {
		if vres, err = ver.Feed(tone(440, 8000, 1600)); err != nil {
			t.Fatal(err)
		}
	}
	if vres == nil || !vres.Accepted || vres.Score < 0.99 {
		t.Fatalf("same voice verification = %+v", vres)
	}

	ver, _ = e.StartVerification()
	ver.Feed(tone(3000, 8000, 1600))
	vres, err = ver.Finish()
	if err != nil || vres == nil {
		t.Fatalf("Finish = %v, %v", vres, err)
	}
	if vres.Score >= 0.99 {
		t.Errorf("different voice scored %v", vres.Score)
	}
}

func TestFinishWithTooLittleAudio(t *testing.T) {
	e := newTestEngine(t, engine.Spec{Key: "a"}, Options{})
	on, _ := e.StartOnboarding()
	on.Feed(tone(440, 8000, 100))
	res, err := on.Finish()
	if err != nil || res == nil || res.Enrolled {
		t.Fatalf("Finish = %+v, %v; want unenrolled result", res, err)
	}

	e.targets.add([]float32{1})
	ver, err := e.StartVerification()
	if err != nil {
		t.Fatal(err)
	}
	vres, err := ver.Finish()
	if err != nil || vres != nil {
		t.Errorf("verification Finish = %+v, %v; want nil, nil", vres, err)
	}
}

func TestTargetsPersistAcrossEngines(t *testing.T) {
	dir := t.TempDir()
	opts := Options{DataDir: dir, OnboardTarget: 200 * time.Millisecond}
	e := newTestEngine(t, engine.Spec{Key: "desk"}, opts)
	on, _ := e.StartOnboarding()
	on.Feed(tone(440, 8000, 3200))
	if _, err := on.Finish(); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{MeanFile, MeanCountFile, ClusterFile} {
		if _, err := os.Stat(filepath.Join(dir, "desk", name)); err != nil {
			t.Errorf("%s: %v", name, err)
		}
	}

	again := newTestEngine(t, engine.Spec{Key: "desk"}, opts)
	ok, err := again.InitVerificationUsingDefaults()
	if err != nil || !ok {
		t.Fatalf("InitVerificationUsingDefaults = %v, %v", ok, err)
	}
	if _, err := again.StartVerification(); err != nil {
		t.Errorf("StartVerification after restore: %v", err)
	}

	other := newTestEngine(t, engine.Spec{Key: "other"}, opts)
	ok, err = other.InitVerificationWithFiles(
		filepath.Join(dir, "desk", MeanFile),
		filepath.Join(dir, "desk", ClusterFile),
	)
	if err != nil || !ok {
		t.Fatalf("InitVerificationWithFiles = %v, %v", ok, err)
	}

	if err := again.WipeTargets(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "desk", MeanFile)); !os.IsNotExist(err) {
		t.Errorf("mean file survived wipe: %v", err)
	}
	if _, err := again.StartVerification(); !errors.Is(err, errNoTargets) {
		t.Errorf("StartVerification after wipe = %v", err)
	}
	ok, err = again.InitVerificationUsingDefaults()
	if err != nil || ok {
		t.Errorf("InitVerificationUsingDefaults after wipe = %v, %v", ok, err)
	}
}

func TestExport(t *testing.T) {
	e := newTestEngine(t, engine.Spec{Key: "a"}, Options{})
	e.targets.add([]float32{1, 0})
	e.targets.add([]float32{0, 1})

	var mean, count, cluster bytes.Buffer
	if err := e.ExportMean(&mean); err != nil {
		t.Fatal(err)
	}
	if err := e.ExportMeanCount(&count); err != nil {
		t.Fatal(err)
	}
	if err := e.ExportCluster(&cluster); err != nil {
		t.Fatal(err)
	}

	var m meanRecord
	var n countRecord
	var c clusterRecord
	if err := msgpack.Unmarshal(mean.Bytes(), &m); err != nil {
		t.Fatal(err)
	}
	if err := msgpack.Unmarshal(count.Bytes(), &n); err != nil {
		t.Fatal(err)
	}
	if err := msgpack.Unmarshal(cluster.Bytes(), &c); err != nil {
		t.Fatal(err)
	}
	if len(m.Mean) != 2 || m.Mean[0] != 0.5 || m.Mean[1] != 0.5 {
		t.Errorf("mean = %v", m.Mean)
	}
	if n.Count != 2 || len(c.Entries) != 2 {
		t.Errorf("count = %d, cluster = %d", n.Count, len(c.Entries))
	}
}

func TestMicrophoneFlows(t *testing.T) {
	e := newTestEngine(t, engine.Spec{Key: "a"}, Options{})
	if _, err := e.OnboardFromMicrophone(time.Second); !errors.Is(err, errNoSource) {
		t.Fatalf("without source = %v", err)
	}

	e = newTestEngine(t, engine.Spec{Key: "a"}, Options{
		Source:        NewSliceSource(tone(440, 8000, 16000)),
		OnboardTarget: 300 * time.Millisecond,
		VerifyTarget:  300 * time.Millisecond,
	})
	res, err := e.OnboardFromMicrophone(5 * time.Second)
	if err != nil || !res.Enrolled {
		t.Fatalf("OnboardFromMicrophone = %+v, %v", res, err)
	}
	if res.VoicedSeconds < 0.3 || res.VoicedSeconds > 0.5 {
		t.Errorf("voiced = %v, want about 0.3s", res.VoicedSeconds)
	}
	res, err = e.OnboardFromMicrophoneUntil(200*time.Millisecond, 5*time.Second)
	if err != nil || !res.Enrolled {
		t.Fatalf("OnboardFromMicrophoneUntil = %+v, %v", res, err)
	}
	vres, err := e.VerifyFromMicrophone(5 * time.Second)
	if err != nil || !vres.Accepted {
		t.Fatalf("VerifyFromMicrophone = %+v, %v", vres, err)
	}
}

func TestOnboardEmbeddingsFromMicrophone(t *testing.T) {
	opts := func() Options {
		return Options{
			Source:        NewSliceSource(tone(440, 8000, 16000)),
			OnboardTarget: 100 * time.Millisecond,
		}
	}
	e := newTestEngine(t, engine.Spec{Key: "a"}, opts())
	res, err := e.OnboardEmbeddingsFromMicrophone(3, 5*time.Second)
	if err != nil || !res.Enrolled {
		t.Fatalf("OnboardEmbeddingsFromMicrophone = %+v, %v", res, err)
	}
	if res.Embeddings != 3 {
		t.Errorf("embeddings = %d, want 3", res.Embeddings)
	}
	if res.VoicedSeconds < 0.29 || res.VoicedSeconds > 0.45 {
		t.Errorf("voiced = %v, want about 0.3s", res.VoicedSeconds)
	}

	// The source runs dry before ten utterances.
	e = newTestEngine(t, engine.Spec{Key: "b"}, opts())
	res, err = e.OnboardEmbeddingsFromMicrophone(10, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if res.Embeddings == 0 || res.Embeddings >= 10 {
		t.Errorf("embeddings = %d, want between 1 and 9", res.Embeddings)
	}

	e = newTestEngine(t, engine.Spec{Key: "c"}, Options{Source: NewSliceSource(nil)})
	if _, err := e.OnboardEmbeddingsFromMicrophone(2, time.Second); !errors.Is(err, errTooShort) {
		t.Errorf("silent source = %v, want errTooShort", err)
	}
}

func TestMicrophoneBusyWhileListening(t *testing.T) {
	e := newTestEngine(t, engine.Spec{Key: "a"}, Options{Source: NewSliceSource(nil)})
	if err := e.StartListening(0.5); err != nil {
		t.Fatal(err)
	}
	if _, err := e.VerifyFromMicrophone(time.Second); !errors.Is(err, errBusy) {
		t.Errorf("err = %v, want errBusy", err)
	}
}

func TestFileFlows(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "voice.wav")
	if err := wav.WriteFile(path, tone(440, 8000, 16000), 16000); err != nil {
		t.Fatal(err)
	}
	e := newTestEngine(t, engine.Spec{Key: "a"}, Options{})
	if _, err := e.VerifyFromFile(path); !errors.Is(err, errNoTargets) {
		t.Fatalf("verify before enroll = %v", err)
	}
	res, err := e.OnboardFromFile(path)
	if err != nil || !res.Enrolled {
		t.Fatalf("OnboardFromFile = %+v, %v", res, err)
	}
	vres, err := e.VerifyFromFile(path)
	if err != nil || !vres.Accepted {
		t.Fatalf("VerifyFromFile = %+v, %v", vres, err)
	}
	if _, err := e.OnboardFromFile(filepath.Join(dir, "missing.wav")); err == nil {
		t.Error("missing file should fail")
	}
}

func TestRecordingRef(t *testing.T) {
	e := newTestEngine(t, engine.Spec{Key: "a"}, Options{DataDir: t.TempDir()})
	if _, err := e.RecordingRef(); err == nil {
		t.Error("RecordingRef with no audio should fail")
	}
	e.Process(tone(440, 8000, 4000))
	path, err := e.RecordingRef()
	if err != nil {
		t.Fatal(err)
	}
	pcm, err := wav.ReadFile(path, 16000)
	if err != nil {
		t.Fatal(err)
	}
	if len(pcm) != 4000 {
		t.Errorf("recorded %d samples, want 4000", len(pcm))
	}
}

func TestEmbedder(t *testing.T) {
	e := newTestEngine(t, engine.Spec{Key: "a"}, Options{})
	a, err := e.DeriveEmbedding(tone(440, 8000, 8000))
	if err != nil {
		t.Fatal(err)
	}
	if s := e.Similarity(a, a); s < 0.999 {
		t.Errorf("self similarity = %v", s)
	}
	if _, err := e.DeriveEmbedding(make([]int16, 10)); err == nil {
		t.Error("short input should fail")
	}
}
