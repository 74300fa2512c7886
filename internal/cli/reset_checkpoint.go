package cli

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/vietddude/relay/internal/checkpoint"
)

var resetCheckpointCmd = &cobra.Command{
	Use:   "reset-checkpoint [pipeline] [sequence]",
	Short: "Force the resume watermark of a pipeline to a given chunk sequence",
	Args:  cobra.ExactArgs(2),
	Run:   runResetCheckpoint,
}

func init() {
	rootCmd.AddCommand(resetCheckpointCmd)
}

func runResetCheckpoint(cmd *cobra.Command, args []string) {
	pipeline := args[0]
	seq, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		fmt.Printf("Invalid sequence: %v\n", err)
		os.Exit(1)
	}

	cfg := loadConfig()

	checkpoints, err := checkpoint.NewManager(cfg.Checkpoints.Dir)
	if err != nil {
		slog.Error("Failed to open checkpoint dir", "error", err)
		os.Exit(1)
	}

	// The next run resumes from the latest checkpoint, so a manual
	// override is just one more saved entry.
	id, err := checkpoints.Save(pipeline,
		map[string]any{"last_sequence": seq},
		map[string]any{"reset": true})
	if err != nil {
		slog.Error("Failed to save checkpoint", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Successfully reset %s to sequence %d (checkpoint %s)\n", pipeline, seq, id)
}
