package commands

import (
	"cmp"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/frymanofer/enginehub/pkg/cli"
	"github.com/frymanofer/enginehub/pkg/engine"
)

var instancesCmd = &cobra.Command{
	Use:   "instances",
	Short: "List configured instances",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := cli.LoadConfig(configPath)
		if err != nil {
			return err
		}
		list := make(instanceList, 0, len(cfg.Instances))
		for _, inst := range cfg.Instances {
			list = append(list, instanceRow{
				Key:       inst.Key,
				Profile:   cmp.Or(inst.Profile, engine.ProfileStandard),
				Threshold: inst.Threshold,
				Models:    modelNames(inst.Models),
				License:   cli.MaskLicense(inst.License),
			})
		}
		return output(list)
	},
}

type instanceRow struct {
	Key       string         `json:"key" yaml:"key"`
	Profile   engine.Profile `json:"profile" yaml:"profile"`
	Threshold float32        `json:"threshold" yaml:"threshold"`
	Models    []string       `json:"models" yaml:"models"`
	License   string         `json:"license,omitempty" yaml:"license,omitempty"`
}

type instanceList []instanceRow

func (l instanceList) Header() []string {
	return []string{"KEY", "PROFILE", "THRESHOLD", "MODELS", "LICENSE"}
}

func (l instanceList) Rows() [][]string {
	rows := make([][]string, len(l))
	for i, r := range l {
		rows[i] = []string{
			r.Key,
			string(r.Profile),
			strconv.FormatFloat(float64(r.Threshold), 'f', 2, 32),
			strings.Join(r.Models, ", "),
			r.License,
		}
	}
	return rows
}

func modelNames(cfgs []engine.ModelConfig) []string {
	names := make([]string, len(cfgs))
	for i, c := range cfgs {
		names[i] = c.Model
	}
	return names
}

func init() {
	rootCmd.AddCommand(instancesCmd)
}
