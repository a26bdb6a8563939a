package commands

import (
	"cmp"
	"path"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/frymanofer/enginehub/pkg/enginehub"
	"github.com/frymanofer/enginehub/pkg/storage"
)

var exportDir string

var exportCmd = &cobra.Command{
	Use:   "export <key>",
	Short: "Export enrolled targets to local disk or S3",
	Long: `Write the mean, mean count and cluster files of an instance to the
export target of the config file:

  export:
    kind: s3
    bucket: voiceprints
    prefix: prod
    region: us-east-1

Without an export target the files go to <data_dir>/export. Files are
written under --dir, which defaults to the instance key.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]
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

		target := e.cfg.Export
		if target.Kind == "" && target.Dir == "" {
			target = storage.Config{Kind: storage.KindLocal, Dir: filepath.Join(e.cfg.ResolveDataDir(), "export")}
		}
		fs, err := storage.Open(target)
		if err != nil {
			return err
		}
		dir := exportDir
		if dir == "" {
			dir = key
		}
		if err := e.hub.ExportTargets(cmd.Context(), key, fs, dir); err != nil {
			return err
		}

		res := exportResult{Key: key, Kind: cmp.Or(string(target.Kind), string(storage.KindLocal))}
		for _, name := range []string{enginehub.ExportMeanFile, enginehub.ExportMeanCountFile, enginehub.ExportClusterFile} {
			res.Files = append(res.Files, path.Join(dir, name))
		}
		return output(res)
	},
}

type exportResult struct {
	Key   string   `json:"key" yaml:"key"`
	Kind  string   `json:"kind" yaml:"kind"`
	Files []string `json:"files" yaml:"files"`
}

func (r exportResult) Header() []string {
	return []string{"KEY", "TARGET", "FILE"}
}

func (r exportResult) Rows() [][]string {
	rows := make([][]string, len(r.Files))
	for i, f := range r.Files {
		rows[i] = []string{r.Key, r.Kind, f}
	}
	return rows
}

func init() {
	exportCmd.Flags().StringVar(&exportDir, "dir", "", "directory within the export target")
	rootCmd.AddCommand(exportCmd)
}
