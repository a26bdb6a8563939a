package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/frymanofer/enginehub/cmd/enginehub/internal/build"
	"github.com/frymanofer/enginehub/pkg/cli"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		if formatOutput != "" {
			return output(build.Get())
		}
		fmt.Println(build.String())
		if verbose {
			if cfg, err := cli.LoadConfig(configPath); err == nil {
				fmt.Printf("  config: %s\n", cfg.Path())
				fmt.Printf("  data:   %s\n", cfg.ResolveDataDir())
			} else {
				fmt.Printf("  config: (unavailable: %v)\n", err)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
