package commands

import (
	"github.com/spf13/cobra"

	"github.com/frymanofer/enginehub/pkg/cli"
	"github.com/frymanofer/enginehub/pkg/enginehub"
)

var enrollWipe bool

var enrollCmd = &cobra.Command{
	Use:   "enroll <key> <audio.wav>",
	Short: "Enroll a speaker from a WAV file",
	Long: `Enroll the voiced audio of a recording into the speaker targets of an
instance. Targets accumulate across runs; --wipe starts over.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, path := args[0], args[1]
		e, err := openEnv(nil)
		if err != nil {
			return err
		}
		defer e.Close()

		if _, err := e.create(cmd.Context(), key); err != nil {
			return err
		}
		if enrollWipe {
			if err := e.hub.WipeTargets(key); err != nil {
				return err
			}
		} else if _, err := e.hub.InitVerificationUsingDefaults(key); err != nil {
			return err
		}

		res, err := e.hub.OnboardFromFile(key, path)
		if err != nil {
			return err
		}
		return output(speakerResult{
			Key:      key,
			Enrolled: res.Enrolled,
			Voiced:   res.VoicedSeconds,
		})
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify <key> <audio.wav>",
	Short: "Verify a speaker against the enrolled targets",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, path := args[0], args[1]
		e, err := openEnv(nil)
		if err != nil {
			return err
		}
		defer e.Close()

		if _, err := e.create(cmd.Context(), key); err != nil {
			return err
		}
		if err := e.restore(key); err != nil {
			return err
		}

		res, err := e.hub.VerifyFromFile(key, path)
		if err != nil {
			return err
		}
		return output(verifyResult(key, res))
	},
}

// speakerResult is the outcome of one enrollment or verification.
type speakerResult struct {
	Key      string  `json:"key" yaml:"key"`
	Enrolled bool    `json:"enrolled,omitempty" yaml:"enrolled,omitempty"`
	Score    float32 `json:"score,omitempty" yaml:"score,omitempty"`
	Accepted bool    `json:"accepted" yaml:"accepted"`
	Voiced   float32 `json:"voiced_seconds" yaml:"voiced_seconds"`
}

func verifyResult(key string, res *enginehub.VerificationResult) speakerResult {
	return speakerResult{
		Key:      key,
		Score:    res.Score,
		Accepted: res.Accepted,
		Voiced:   res.VoicedSeconds,
	}
}

func (r speakerResult) Header() []string {
	return []string{"KEY", "ENROLLED", "SCORE", "ACCEPTED", "VOICED"}
}

func (r speakerResult) Rows() [][]string {
	return [][]string{{
		r.Key,
		cli.FormatBool(r.Enrolled),
		cli.FormatScore(r.Score),
		cli.FormatBool(r.Accepted),
		cli.FormatScore(r.Voiced) + "s",
	}}
}

func init() {
	enrollCmd.Flags().BoolVar(&enrollWipe, "wipe", false, "remove existing targets first")
	rootCmd.AddCommand(enrollCmd, verifyCmd)
}
