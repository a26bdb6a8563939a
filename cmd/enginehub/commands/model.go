package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/frymanofer/enginehub/pkg/audio/pcm16"
	"github.com/frymanofer/enginehub/pkg/audio/wav"
	"github.com/frymanofer/enginehub/pkg/cli"
	"github.com/frymanofer/enginehub/pkg/engine/fbank"
)

var modelOut string

var modelCmd = &cobra.Command{
	Use:   "model",
	Short: "Build and inspect keyword models",
}

var modelBuildCmd = &cobra.Command{
	Use:   "build <phrase> <reference.wav>",
	Short: "Build a keyword model from a reference recording",
	Long: `Build a keyword model from a reference recording of the phrase.

The recording is resampled to 16 kHz mono. The model is written to
~/.enginehub/models/<phrase>.fbm unless --out is given.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		phrase, ref := args[0], args[1]
		pcm, err := wav.ReadFile(ref, pcm16.SampleRate)
		if err != nil {
			return fmt.Errorf("read %s: %w", ref, err)
		}
		m, err := fbank.BuildModel(phrase, pcm, fbank.FeatureConfig{})
		if err != nil {
			return err
		}

		path := modelOut
		if path == "" {
			p, err := cli.NewPaths()
			if err != nil {
				return err
			}
			if err := p.EnsureModelDir(); err != nil {
				return err
			}
			path = p.ModelPath(phrase + ".fbm")
		}
		if err := m.Save(path); err != nil {
			return fmt.Errorf("save model: %w", err)
		}
		return output(newModelInfo(path, m))
	},
}

var modelInfoCmd = &cobra.Command{
	Use:   "info <model.fbm>",
	Short: "Show a keyword model",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := fbank.LoadModel(args[0])
		if err != nil {
			return err
		}
		return output(newModelInfo(args[0], m))
	},
}

type modelInfo struct {
	Path       string `json:"path" yaml:"path"`
	Phrase     string `json:"phrase" yaml:"phrase"`
	SampleRate int    `json:"sample_rate" yaml:"sample_rate"`
	Window     string `json:"window" yaml:"window"`
	Dims       int    `json:"dims" yaml:"dims"`
}

func newModelInfo(path string, m *fbank.Model) modelInfo {
	return modelInfo{
		Path:       path,
		Phrase:     m.Phrase,
		SampleRate: m.SampleRate,
		Window:     cli.FormatDuration(pcm16.Duration(m.Window, m.SampleRate)),
		Dims:       len(m.Template),
	}
}

func (m modelInfo) Header() []string {
	return []string{"PHRASE", "WINDOW", "DIMS", "PATH"}
}

func (m modelInfo) Rows() [][]string {
	return [][]string{{m.Phrase, m.Window, strconv.Itoa(m.Dims), m.Path}}
}

func init() {
	modelBuildCmd.Flags().StringVar(&modelOut, "out", "", "model output path")
	modelCmd.AddCommand(modelBuildCmd, modelInfoCmd)
	rootCmd.AddCommand(modelCmd)
}
