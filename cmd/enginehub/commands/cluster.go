package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/frymanofer/enginehub/pkg/audio/pcm16"
	"github.com/frymanofer/enginehub/pkg/audio/wav"
	"github.com/frymanofer/enginehub/pkg/cli"
)

var clusterCapacity int

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Push to and verify against embedding clusters",
	Long: `Embedding clusters keep the most recent embeddings of an instance,
persisted in the data directory. The CLI works on the first cluster of each
instance; every push embeds the trailing window (window_ms) of a recording.`,
}

var clusterPushCmd = &cobra.Command{
	Use:   "push <key> <audio.wav>...",
	Short: "Embed recordings into the cluster",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]
		e, id, err := openCluster(cmd, key)
		if err != nil {
			return err
		}
		defer e.Close()

		for _, path := range args[1:] {
			pcm, err := wav.ReadFile(path, pcm16.SampleRate)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}
			if err := e.hub.PushEmbeddingToCluster(cmd.Context(), key, id, pcm); err != nil {
				return fmt.Errorf("push %s: %w", path, err)
			}
		}
		entries, err := e.hub.ClusterEntries(key, id)
		if err != nil {
			return err
		}
		return output(clusterResult{Key: key, ID: id, Entries: len(entries), Capacity: clusterCapacity})
	},
}

var clusterVerifyCmd = &cobra.Command{
	Use:   "verify <key> <audio.wav>",
	Short: "Score a recording against the cluster",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, path := args[0], args[1]
		pcm, err := wav.ReadFile(path, pcm16.SampleRate)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		e, id, err := openCluster(cmd, key)
		if err != nil {
			return err
		}
		defer e.Close()

		score, err := e.hub.VerifyEmbeddingFromCluster(cmd.Context(), key, id, pcm)
		if err != nil {
			return err
		}
		entries, err := e.hub.ClusterEntries(key, id)
		if err != nil {
			return err
		}
		return output(clusterResult{Key: key, ID: id, Entries: len(entries), Capacity: clusterCapacity, Score: &score})
	},
}

// openCluster creates the instance and restores its first cluster.
func openCluster(cmd *cobra.Command, key string) (*env, int, error) {
	e, err := openEnv(nil)
	if err != nil {
		return nil, 0, err
	}
	if _, err := e.create(cmd.Context(), key); err != nil {
		e.Close()
		return nil, 0, err
	}
	id, err := e.hub.InitCluster(cmd.Context(), key, clusterCapacity)
	if err != nil {
		e.Close()
		return nil, 0, err
	}
	return e, id, nil
}

type clusterResult struct {
	Key      string   `json:"key" yaml:"key"`
	ID       int      `json:"id" yaml:"id"`
	Entries  int      `json:"entries" yaml:"entries"`
	Capacity int      `json:"capacity" yaml:"capacity"`
	Score    *float32 `json:"score,omitempty" yaml:"score,omitempty"`
}

func (r clusterResult) Header() []string {
	return []string{"KEY", "CLUSTER", "ENTRIES", "SCORE"}
}

func (r clusterResult) Rows() [][]string {
	score := "-"
	if r.Score != nil {
		score = cli.FormatScore(*r.Score)
	}
	return [][]string{{
		r.Key,
		strconv.Itoa(r.ID),
		fmt.Sprintf("%d/%d", r.Entries, r.Capacity),
		score,
	}}
}

func init() {
	clusterCmd.PersistentFlags().IntVar(&clusterCapacity, "capacity", 10, "cluster capacity")
	clusterCmd.AddCommand(clusterPushCmd, clusterVerifyCmd)
	rootCmd.AddCommand(clusterCmd)
}
