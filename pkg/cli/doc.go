// Package cli provides the configuration file and terminal output helpers of
// the enginehub command.
//
// This package includes:
//   - The YAML configuration file (data dir, logging, instances, export target)
//   - Logger construction from the configured level and format
//   - Output formatting (YAML, JSON, table, raw)
//   - Model batch files (YAML/JSON)
//
// Configuration is stored in ~/.enginehub/config.yaml unless a path is given.
//
// Example usage:
//
//	cfg, err := cli.LoadConfig("")
//	logger, err := cfg.Logger(os.Stderr, verbose)
//
//	cli.Output(result, cli.OutputOptions{
//	    Format: cli.FormatJSON,
//	    File:   outputPath,
//	})
package cli
