package commands

import (
	"bytes"
	"encoding/json"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/frymanofer/enginehub/pkg/audio/wav"
	"github.com/frymanofer/enginehub/pkg/engine/fbank"
	"github.com/frymanofer/enginehub/pkg/enginehub"
)

func sine(freq float64, n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(8000 * math.Sin(2*math.Pi*freq*float64(i)/16000))
	}
	return out
}

const testConfig = `data_dir: data
instances:
  - key: desk
    threshold: 0.8
    license: lic-0123456789
    models:
      - model: models/hey.fbm
        threshold: 0.8
        ms_between_callbacks: 60000
`

// setupTestEnv writes a config with one instance, its model and two
// recordings: voice.wav (the keyword tone) and short.wav.
func setupTestEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)

	if err := os.MkdirAll(filepath.Join(dir, "models"), 0o755); err != nil {
		t.Fatal(err)
	}
	m, err := fbank.BuildModel("hey", sine(440, 8000), fbank.FeatureConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Save(filepath.Join(dir, "models", "hey.fbm")); err != nil {
		t.Fatal(err)
	}
	if err := wav.WriteFile(filepath.Join(dir, "voice.wav"), sine(440, 32000), 16000); err != nil {
		t.Fatal(err)
	}
	if err := wav.WriteFile(filepath.Join(dir, "short.wav"), sine(440, 8000), 16000); err != nil {
		t.Fatal(err)
	}
	cfg := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfg, []byte(testConfig), 0o600); err != nil {
		t.Fatal(err)
	}
	return dir
}

func resetFlags() {
	configPath = ""
	verbose = false
	formatOutput = ""
	outputFile = ""
	modelOut = ""
	detectThreshold = 0
	detectModels = ""
	enrollWipe = false
	clusterCapacity = 10
	exportDir = ""
}

// runCmd executes the root command with args, capturing stdout and stderr.
// A returned error is appended to stderr.
func runCmd(t *testing.T, args ...string) (stdout, stderr string, exitCode int) {
	t.Helper()

	oldStdout, oldStderr := os.Stdout, os.Stderr
	rOut, wOut, _ := os.Pipe()
	rErr, wErr, _ := os.Pipe()
	os.Stdout, os.Stderr = wOut, wErr

	var outBuf, errBuf bytes.Buffer
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); io.Copy(&outBuf, rOut) }()
	go func() { defer wg.Done(); io.Copy(&errBuf, rErr) }()

	resetFlags()
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()

	wOut.Close()
	wErr.Close()
	wg.Wait()
	os.Stdout, os.Stderr = oldStdout, oldStderr

	stdout, stderr = outBuf.String(), errBuf.String()
	if err != nil {
		stderr += err.Error()
		exitCode = 1
	}
	return stdout, stderr, exitCode
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	stdout, stderr, code := runCmd(t, args...)
	if code != 0 {
		t.Fatalf("%v: exit %d: %s", args, code, stderr)
	}
	return stdout
}

func decode[T any](t *testing.T, s string) T {
	t.Helper()
	var v T
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		t.Fatalf("invalid JSON %q: %v", s, err)
	}
	return v
}

func TestVersion(t *testing.T) {
	stdout := mustRun(t, "version")
	if !strings.Contains(stdout, "enginehub") {
		t.Fatalf("expected 'enginehub', got: %s", stdout)
	}
}

func TestVersionJSON(t *testing.T) {
	stdout := mustRun(t, "version", "--format", "json")
	if !strings.Contains(stdout, `"version"`) {
		t.Fatalf("expected JSON, got: %s", stdout)
	}
}

func TestModelBuildAndInfo(t *testing.T) {
	dir := setupTestEnv(t)
	out := filepath.Join(dir, "built.fbm")

	info := decode[modelInfo](t, mustRun(t, "model", "build", "hello", filepath.Join(dir, "voice.wav"), "--out", out, "-f", "json"))
	if info.Phrase != "hello" || info.Path != out || info.Dims == 0 {
		t.Errorf("build = %+v", info)
	}
	if info.Window != "2.0s" {
		t.Errorf("window = %q, want 2.0s", info.Window)
	}

	info = decode[modelInfo](t, mustRun(t, "model", "info", out, "-f", "json"))
	if info.Phrase != "hello" {
		t.Errorf("info = %+v", info)
	}

	if _, _, code := runCmd(t, "model", "info", filepath.Join(dir, "missing.fbm")); code == 0 {
		t.Error("info of a missing model should fail")
	}
}

func TestModelBuildDefaultPath(t *testing.T) {
	dir := setupTestEnv(t)

	info := decode[modelInfo](t, mustRun(t, "model", "build", "hello", filepath.Join(dir, "voice.wav"), "-f", "json"))
	want := filepath.Join(dir, ".enginehub", "models", "hello.fbm")
	if info.Path != want {
		t.Errorf("path = %q, want %q", info.Path, want)
	}
	if _, err := os.Stat(want); err != nil {
		t.Error(err)
	}
}

func TestInstances(t *testing.T) {
	dir := setupTestEnv(t)
	cfg := filepath.Join(dir, "config.yaml")

	stdout := mustRun(t, "instances", "--config", cfg)
	for _, want := range []string{"desk", "standard", "lic-******6789"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("table missing %q:\n%s", want, stdout)
		}
	}

	list := decode[[]instanceRow](t, mustRun(t, "instances", "--config", cfg, "-f", "json"))
	if len(list) != 1 || list[0].Key != "desk" || len(list[0].Models) != 1 {
		t.Errorf("instances = %+v", list)
	}
}

func TestDetect(t *testing.T) {
	dir := setupTestEnv(t)
	cfg := filepath.Join(dir, "config.yaml")

	found := decode[[]detection](t, mustRun(t, "detect", "desk", filepath.Join(dir, "voice.wav"), "--config", cfg, "-f", "json"))
	if len(found) == 0 {
		t.Fatal("no detections")
	}
	for _, d := range found {
		if d.Key != "desk" || d.Phrase != "hey" || d.Score < 0.8 {
			t.Errorf("detection = %+v", d)
		}
	}

	if _, stderr, code := runCmd(t, "detect", "kitchen", filepath.Join(dir, "voice.wav"), "--config", cfg); code == 0 {
		t.Error("unknown instance should fail")
	} else if !strings.Contains(stderr, "kitchen") {
		t.Errorf("stderr = %s", stderr)
	}
}

func TestDetectWithModelBatch(t *testing.T) {
	dir := setupTestEnv(t)
	cfg := filepath.Join(dir, "config.yaml")

	m, err := fbank.BuildModel("bye", sine(440, 8000), fbank.FeatureConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Save(filepath.Join(dir, "models", "bye.fbm")); err != nil {
		t.Fatal(err)
	}
	batch := filepath.Join(dir, "batch.yaml")
	body := "models:\n  - model: models/bye.fbm\n    threshold: 0.8\n    ms_between_callbacks: 60000\n"
	if err := os.WriteFile(batch, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	found := decode[[]detection](t, mustRun(t, "detect", "desk", filepath.Join(dir, "voice.wav"), "--models", batch, "--config", cfg, "-f", "json"))
	if len(found) == 0 {
		t.Fatal("no detections")
	}
	for _, d := range found {
		if d.Phrase != "bye" {
			t.Errorf("detection = %+v, want phrase bye", d)
		}
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("models: []\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, stderr, code := runCmd(t, "detect", "desk", filepath.Join(dir, "voice.wav"), "--models", bad, "--config", cfg); code == 0 {
		t.Error("empty batch should fail")
	} else if !strings.Contains(stderr, "no models") {
		t.Errorf("stderr = %s", stderr)
	}
}

func TestEnrollAndVerify(t *testing.T) {
	dir := setupTestEnv(t)
	cfg := filepath.Join(dir, "config.yaml")
	voice := filepath.Join(dir, "voice.wav")

	if _, stderr, code := runCmd(t, "verify", "desk", voice, "--config", cfg); code == 0 {
		t.Fatal("verify before enroll should fail")
	} else if !strings.Contains(stderr, "no enrolled speaker") {
		t.Errorf("stderr = %s", stderr)
	}

	res := decode[speakerResult](t, mustRun(t, "enroll", "desk", voice, "--config", cfg, "-f", "json"))
	if !res.Enrolled || res.Voiced < 1.9 {
		t.Errorf("enroll = %+v", res)
	}

	res = decode[speakerResult](t, mustRun(t, "verify", "desk", voice, "--config", cfg, "-f", "json"))
	if !res.Accepted || res.Score < 0.9 {
		t.Errorf("verify = %+v", res)
	}

	stdout := mustRun(t, "enroll", "desk", filepath.Join(dir, "short.wav"), "--wipe", "--config", cfg)
	if !strings.Contains(stdout, "desk") || !strings.Contains(stdout, "yes") {
		t.Errorf("enroll table:\n%s", stdout)
	}
}

func TestClusterPushAndVerify(t *testing.T) {
	dir := setupTestEnv(t)
	cfg := filepath.Join(dir, "config.yaml")
	voice := filepath.Join(dir, "voice.wav")

	if _, stderr, code := runCmd(t, "cluster", "verify", "desk", voice, "--config", cfg); code == 0 {
		t.Fatal("verify against an empty cluster should fail")
	} else if !strings.Contains(stderr, "empty") {
		t.Errorf("stderr = %s", stderr)
	}

	res := decode[clusterResult](t, mustRun(t, "cluster", "push", "desk", voice, voice, voice, voice, "--capacity", "3", "--config", cfg, "-f", "json"))
	if res.ID != 1 || res.Entries != 3 || res.Capacity != 3 {
		t.Errorf("push = %+v", res)
	}

	// A new process restores the persisted cluster.
	res = decode[clusterResult](t, mustRun(t, "cluster", "verify", "desk", voice, "--capacity", "3", "--config", cfg, "-f", "json"))
	if res.Entries != 3 || res.Score == nil || *res.Score < 0.9 {
		t.Errorf("verify = %+v", res)
	}
}

func TestExport(t *testing.T) {
	dir := setupTestEnv(t)
	cfg := filepath.Join(dir, "config.yaml")

	if _, _, code := runCmd(t, "export", "desk", "--config", cfg); code == 0 {
		t.Fatal("export before enroll should fail")
	}
	mustRun(t, "enroll", "desk", filepath.Join(dir, "voice.wav"), "--config", cfg)

	res := decode[exportResult](t, mustRun(t, "export", "desk", "--dir", "backup", "--config", cfg, "-f", "json"))
	if res.Kind != "local" || len(res.Files) != 3 {
		t.Fatalf("export = %+v", res)
	}
	for _, name := range []string{enginehub.ExportMeanFile, enginehub.ExportMeanCountFile, enginehub.ExportClusterFile} {
		if _, err := os.Stat(filepath.Join(dir, "data", "export", "backup", name)); err != nil {
			t.Error(err)
		}
	}
}

func TestOutputToFile(t *testing.T) {
	dir := setupTestEnv(t)
	out := filepath.Join(dir, "instances.json")

	mustRun(t, "instances", "--config", filepath.Join(dir, "config.yaml"), "-f", "json", "-o", out)
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"desk"`) {
		t.Errorf("output file = %s", data)
	}
}
