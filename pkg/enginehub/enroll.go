package enginehub

import (
	"context"
	"io"
	"path"
	"time"

	"github.com/frymanofer/enginehub/pkg/engine"
	"github.com/frymanofer/enginehub/pkg/storage"
)

// File names written by ExportTargets.
const (
	ExportMeanFile      = "mean.msgpack"
	ExportMeanCountFile = "mean_count.msgpack"
	ExportClusterFile   = "cluster.msgpack"
)

// StartOnboardingStream opens an incremental onboarding session on key.
func (h *Hub) StartOnboardingStream(key string) (SessionInfo, error) {
	return call(h, "start_onboarding", key, func(eng engine.Engine) (SessionInfo, error) {
		return h.onboarding.Start(key, eng)
	})
}

// FeedOnboardingStream passes one audio block to the onboarding session of
// key. It returns nil until the engine completes the session.
func (h *Hub) FeedOnboardingStream(key string, block []int16) (*OnboardingResult, error) {
	return call(h, "feed_onboarding", key, func(engine.Engine) (*OnboardingResult, error) {
		return h.onboarding.Feed(key, block)
	})
}

// FinishOnboardingStream ends the onboarding session of key and returns its
// result, which may be nil when the engine has nothing to report.
func (h *Hub) FinishOnboardingStream(key string) (*OnboardingResult, error) {
	return call(h, "finish_onboarding", key, func(engine.Engine) (*OnboardingResult, error) {
		return h.onboarding.Finish(key)
	})
}

func (h *Hub) StartVerificationStream(key string) (SessionInfo, error) {
	return call(h, "start_verification", key, func(eng engine.Engine) (SessionInfo, error) {
		return h.verification.Start(key, eng)
	})
}

func (h *Hub) FeedVerificationStream(key string, block []int16) (*VerificationResult, error) {
	return call(h, "feed_verification", key, func(engine.Engine) (*VerificationResult, error) {
		return h.verification.Feed(key, block)
	})
}

func (h *Hub) FinishVerificationStream(key string) (*VerificationResult, error) {
	return call(h, "finish_verification", key, func(engine.Engine) (*VerificationResult, error) {
		return h.verification.Finish(key)
	})
}

// Sessions returns the onboarding and verification session state of key.
func (h *Hub) Sessions(key string) (onboarding, verification SessionInfo) {
	onboarding, _ = h.onboarding.Get(key)
	verification, _ = h.verification.Get(key)
	return onboarding, verification
}

// OnboardFromMicrophone enrolls the speaker from up to budget of microphone
// audio. The call blocks for at most budget and holds the key meanwhile.
func (h *Hub) OnboardFromMicrophone(key string, budget time.Duration) (*OnboardingResult, error) {
	if budget <= 0 {
		return nil, wrap("onboard_microphone", key, invalid("budget %v", budget))
	}
	return call(h, "onboard_microphone", key, func(eng engine.Engine) (*OnboardingResult, error) {
		m, err := as[engine.MicrophoneEnroller](eng)
		if err != nil {
			return nil, err
		}
		res, err := m.OnboardFromMicrophone(budget)
		return res, engine.Wrap("onboard_microphone", err)
	})
}

// OnboardFromMicrophoneUntil enrolls from the microphone until targetVoiced
// of voiced audio was captured or hardTimeout elapsed.
func (h *Hub) OnboardFromMicrophoneUntil(key string, targetVoiced, hardTimeout time.Duration) (*OnboardingResult, error) {
	if targetVoiced <= 0 || hardTimeout <= 0 {
		return nil, wrap("onboard_microphone", key, invalid("target %v, timeout %v", targetVoiced, hardTimeout))
	}
	return call(h, "onboard_microphone", key, func(eng engine.Engine) (*OnboardingResult, error) {
		m, err := as[engine.MicrophoneEnroller](eng)
		if err != nil {
			return nil, err
		}
		res, err := m.OnboardFromMicrophoneUntil(targetVoiced, hardTimeout)
		return res, engine.Wrap("onboard_microphone", err)
	})
}

// OnboardEmbeddingsFromMicrophone enrolls up to n embeddings, one per
// captured utterance, within budget. The result reports how many were
// enrolled.
func (h *Hub) OnboardEmbeddingsFromMicrophone(key string, n int, budget time.Duration) (*OnboardingResult, error) {
	if n <= 0 || budget <= 0 {
		return nil, wrap("onboard_microphone", key, invalid("embeddings %d, budget %v", n, budget))
	}
	return call(h, "onboard_microphone", key, func(eng engine.Engine) (*OnboardingResult, error) {
		m, err := as[engine.MicrophoneEnroller](eng)
		if err != nil {
			return nil, err
		}
		res, err := m.OnboardEmbeddingsFromMicrophone(n, budget)
		return res, engine.Wrap("onboard_microphone", err)
	})
}

func (h *Hub) VerifyFromMicrophone(key string, budget time.Duration) (*VerificationResult, error) {
	if budget <= 0 {
		return nil, wrap("verify_microphone", key, invalid("budget %v", budget))
	}
	return call(h, "verify_microphone", key, func(eng engine.Engine) (*VerificationResult, error) {
		m, err := as[engine.MicrophoneEnroller](eng)
		if err != nil {
			return nil, err
		}
		res, err := m.VerifyFromMicrophone(budget)
		return res, engine.Wrap("verify_microphone", err)
	})
}

func (h *Hub) OnboardFromFile(key, file string) (*OnboardingResult, error) {
	if file == "" {
		return nil, wrap("onboard_file", key, invalid("empty path"))
	}
	return call(h, "onboard_file", key, func(eng engine.Engine) (*OnboardingResult, error) {
		f, err := as[engine.FileEnroller](eng)
		if err != nil {
			return nil, err
		}
		res, err := f.OnboardFromFile(file)
		return res, engine.Wrap("onboard_file", err)
	})
}

func (h *Hub) VerifyFromFile(key, file string) (*VerificationResult, error) {
	if file == "" {
		return nil, wrap("verify_file", key, invalid("empty path"))
	}
	return call(h, "verify_file", key, func(eng engine.Engine) (*VerificationResult, error) {
		f, err := as[engine.FileEnroller](eng)
		if err != nil {
			return nil, err
		}
		res, err := f.VerifyFromFile(file)
		return res, engine.Wrap("verify_file", err)
	})
}

// InitVerificationWithFiles loads enrolled targets from a mean file and a
// cluster file and reports whether any target is now available.
func (h *Hub) InitVerificationWithFiles(key, meanPath, clusterPath string) (bool, error) {
	if meanPath == "" || clusterPath == "" {
		return false, wrap("init_verification", key, invalid("empty target path"))
	}
	return call(h, "init_verification", key, func(eng engine.Engine) (bool, error) {
		t, err := as[engine.TargetStore](eng)
		if err != nil {
			return false, err
		}
		ok, err := t.InitVerificationWithFiles(meanPath, clusterPath)
		return ok, engine.Wrap("init_verification", err)
	})
}

// InitVerificationUsingDefaults loads the targets the engine saved itself.
func (h *Hub) InitVerificationUsingDefaults(key string) (bool, error) {
	return call(h, "init_verification", key, func(eng engine.Engine) (bool, error) {
		t, err := as[engine.TargetStore](eng)
		if err != nil {
			return false, err
		}
		ok, err := t.InitVerificationUsingDefaults()
		return ok, engine.Wrap("init_verification", err)
	})
}

func (h *Hub) WipeTargets(key string) error {
	return h.do("wipe_targets", key, func(eng engine.Engine) error {
		t, err := as[engine.TargetStore](eng)
		if err != nil {
			return err
		}
		return engine.Wrap("wipe_targets", t.WipeTargets())
	})
}

// ExportTargets writes the mean, mean count and cluster files of key into
// dir of fs.
func (h *Hub) ExportTargets(ctx context.Context, key string, fs storage.FileStore, dir string) error {
	if fs == nil {
		return wrap("export", key, invalid("nil file store"))
	}
	return h.do("export", key, func(eng engine.Engine) error {
		x, err := as[engine.Exporter](eng)
		if err != nil {
			return err
		}
		files := []struct {
			name  string
			write func(io.Writer) error
		}{
			{ExportMeanFile, x.ExportMean},
			{ExportMeanCountFile, x.ExportMeanCount},
			{ExportClusterFile, x.ExportCluster},
		}
		for _, f := range files {
			if err := storage.Put(ctx, fs, path.Join(dir, f.name), f.write); err != nil {
				return engine.Wrap("export", err)
			}
		}
		h.logger.Info("enginehub: targets exported", "key", key, "dir", dir)
		return nil
	})
}
