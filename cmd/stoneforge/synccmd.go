package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var exportFull bool

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write dirty elements and all dependencies to the JSONL files",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		stats, err := newSyncer().Export(cmd.Context(), exportFull)
		if err != nil {
			return err
		}
		return emit(stats, fmt.Sprintf("exported %d, skipped %d unchanged (%d on disk)",
			stats.Exported, stats.Skipped, stats.Total))
	},
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Merge the JSONL files into the database",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		stats, err := newSyncer().Import(cmd.Context())
		if err != nil {
			return err
		}
		human := fmt.Sprintf("created %d, merged %d, unchanged %d; edges +%d/-%d",
			stats.Created, stats.Merged, stats.Unchanged, stats.EdgesAdded, stats.EdgesRemoved)
		if stats.Conflicts > 0 {
			human += "\n" + styleError.Render(fmt.Sprintf("%d conflicts journaled", stats.Conflicts))
		}
		return emit(stats, human)
	},
}

func init() {
	exportCmd.Flags().BoolVar(&exportFull, "full", false, "export every live element, not just dirty ones")
}
