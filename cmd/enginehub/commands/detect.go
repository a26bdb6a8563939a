package commands

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/frymanofer/enginehub/pkg/audio/pcm16"
	"github.com/frymanofer/enginehub/pkg/audio/wav"
	"github.com/frymanofer/enginehub/pkg/cli"
	"github.com/frymanofer/enginehub/pkg/engine"
	"github.com/frymanofer/enginehub/pkg/engine/fbank"
	"github.com/frymanofer/enginehub/pkg/enginehub"
)

var (
	detectThreshold float32
	detectModels    string
)

var detectCmd = &cobra.Command{
	Use:   "detect <key> <audio.wav>",
	Short: "Run keyword detection over a WAV file",
	Long: `Create the configured instance, replay the recording through its
microphone and report every detection.

The detection threshold is --threshold, or the instance threshold from the
config file. Per-model thresholds still apply.

--models replaces the configured models with a batch file:

  models:
    - model: hey_hub.fbm
      threshold: 0.8
    - model: stop.fbm
      threshold: 0.7
      buffer_count: 2`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, path := args[0], args[1]
		var models []engine.ModelConfig
		if detectModels != "" {
			var err error
			if models, err = cli.LoadModels(detectModels); err != nil {
				return err
			}
		}
		pcm, err := wav.ReadFile(path, pcm16.SampleRate)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		src := fbank.NewSliceSource(pcm)

		e, err := openEnv(src)
		if err != nil {
			return err
		}
		defer e.Close()

		inst, err := e.createWith(cmd.Context(), key, models)
		if err != nil {
			return err
		}

		var mu sync.Mutex
		found := detections{}
		start := time.Now()
		e.hub.SetGlobalListener(enginehub.ListenerFunc(func(d enginehub.Detection) {
			mu.Lock()
			found = append(found, detection{
				Key:    d.Key,
				Phrase: d.Phrase,
				Score:  d.Score,
				At:     d.At.Sub(start).Round(time.Millisecond).String(),
			})
			mu.Unlock()
		}))

		threshold := detectThreshold
		if threshold == 0 {
			threshold = inst.Threshold
		}
		if err := e.hub.StartDetection(key, threshold); err != nil {
			return err
		}
		select {
		case <-src.Done():
		case <-cmd.Context().Done():
		}
		if err := e.hub.StopDetection(key); err != nil {
			return err
		}

		mu.Lock()
		defer mu.Unlock()
		e.logger.Debug("detection finished", "key", key, "detections", len(found),
			"audio", cli.FormatSamples(len(pcm)))
		return output(found)
	},
}

type detection struct {
	Key    string  `json:"key" yaml:"key"`
	Phrase string  `json:"phrase" yaml:"phrase"`
	Score  float32 `json:"score" yaml:"score"`
	At     string  `json:"at" yaml:"at"`
}

type detections []detection

func (d detections) Header() []string {
	return []string{"#", "PHRASE", "SCORE", "AT"}
}

func (d detections) Rows() [][]string {
	rows := make([][]string, len(d))
	for i, x := range d {
		rows[i] = []string{strconv.Itoa(i + 1), x.Phrase, cli.FormatScore(x.Score), x.At}
	}
	return rows
}

func init() {
	detectCmd.Flags().Float32Var(&detectThreshold, "threshold", 0, "detection threshold in [0,1]")
	detectCmd.Flags().StringVar(&detectModels, "models", "", "model batch file (YAML or JSON) replacing the configured models")
	rootCmd.AddCommand(detectCmd)
}
