package cli

import (
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vietddude/relay/internal/checkpoint"
	"github.com/vietddude/relay/internal/dlq"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show checkpoints and dead letter backlog for all pipelines",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	checkpoints, err := checkpoint.NewManager(cfg.Checkpoints.Dir)
	if err != nil {
		slog.Error("Failed to open checkpoint dir", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "PIPELINE\tCHECKPOINT\tCREATED")

	for _, pc := range cfg.Pipelines {
		summaries, err := checkpoints.List(pc.Name)
		if err != nil || len(summaries) == 0 {
			_, _ = fmt.Fprintf(w, "%s\t-\t-\n", pc.Name)
			continue
		}
		latest := summaries[0]
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", pc.Name, latest.ID, latest.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	_ = w.Flush()

	queue, err := dlq.NewQueue(cfg.DLQ.Dir)
	if err != nil {
		slog.Error("Failed to open dead letter queue", "error", err)
		os.Exit(1)
	}
	stats, err := queue.Stats()
	if err != nil {
		slog.Error("Failed to read dead letter queue", "error", err)
		os.Exit(1)
	}

	fmt.Printf("\nDead letter queue: %d entries in %d files\n", stats.TotalEntries, stats.TotalFiles)
	for source, count := range stats.BySource {
		fmt.Printf("  %s: %d\n", source, count)
	}
}
