package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/canopyhq/canopy/pkg/eventlog"
)

var replayCmd = &cobra.Command{
	Use:   "replay <log.json>",
	Short: "Replay an event log and render the resulting tree",
	Long:  `Replay rebuilds a tree by applying a serialized event log over its initial snapshot, verifying that every event still applies cleanly.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read log: %w", err)
		}

		var log eventlog.Log
		if err := json.Unmarshal(data, &log); err != nil {
			return fmt.Errorf("replay log: %w", err)
		}

		tree := log.Tree()
		fmt.Fprintf(os.Stderr, "replayed %d events, tree %q has %d nodes\n",
			log.Version(), tree.ID(), tree.Len())
		return renderMarkdown(treeMarkdown(tree))
	},
}

func init() {
	rootCmd.AddCommand(replayCmd)
}
