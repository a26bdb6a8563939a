package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/frymanofer/enginehub/pkg/cli"
)

var (
	// Global flags
	configPath   string
	verbose      bool
	formatOutput string
	outputFile   string
)

var rootCmd = &cobra.Command{
	Use:   "enginehub",
	Short: "Manage wake word and speaker verification engines",
	Long: `enginehub - keyed wake word and speaker verification engines.

Instances are declared in the configuration file (default
~/.enginehub/config.yaml) together with their keyword models:

  data_dir: data
  instances:
    - key: desk
      profile: wakeword
      threshold: 0.8
      models:
        - model: models/hey_hub.fbm
          threshold: 0.8
          buffer_count: 2
          ms_between_callbacks: 1000

Examples:
  # Build a keyword model from a reference recording
  enginehub model build hey_hub hey_hub.wav

  # Enroll a speaker, then verify another recording
  enginehub enroll desk alice-1.wav
  enginehub verify desk alice-2.wav

  # Serve enrollment, verification and /metrics over HTTP
  enginehub serve --addr :8080`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command
// context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ~/.enginehub/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&formatOutput, "format", "f", "", "output format (yaml, json, table, raw)")
	rootCmd.PersistentFlags().StringVarP(&outputFile, "output", "o", "", "write output to file")
}

// output prints a command result with the global format flags. The table
// format is the default for results that support it.
func output(result any) error {
	f := formatOutput
	if f == "" {
		if _, ok := result.(cli.Tabular); ok {
			f = string(cli.FormatTable)
		}
	}
	format, err := cli.ParseFormat(f)
	if err != nil {
		return err
	}
	return cli.Output(result, cli.OutputOptions{
		Format: format,
		File:   outputFile,
	})
}
