package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vietddude/relay/internal/dlq"
	"github.com/vietddude/relay/internal/infra/redisq"
	"github.com/vietddude/relay/internal/infra/sink/postgres"
	"github.com/vietddude/relay/internal/resilience"
	"github.com/vietddude/relay/internal/worker"
)

var replayEnqueue bool

var replayCmd = &cobra.Command{
	Use:   "replay [source]",
	Short: "Re-drive dead letter entries for a source through the sink",
	Args:  cobra.ExactArgs(1),
	Run:   runReplay,
}

func init() {
	replayCmd.Flags().BoolVar(&replayEnqueue, "enqueue", false,
		"enqueue the request for the running service instead of replaying inline")
	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, args []string) {
	source := args[0]
	cfg := loadConfig()
	ctx := context.Background()

	if replayEnqueue {
		client, err := redisq.NewClient(cfg.Redis)
		if err != nil {
			slog.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer func() {
			_ = client.Close()
		}()

		if err := client.PushReplayRequest(ctx, source); err != nil {
			slog.Error("Failed to enqueue replay request", "error", err)
			os.Exit(1)
		}
		fmt.Printf("Replay request for %s enqueued\n", source)
		return
	}

	queue, err := dlq.NewQueue(cfg.DLQ.Dir)
	if err != nil {
		slog.Error("Failed to open dead letter queue", "error", err)
		os.Exit(1)
	}

	sink, err := postgres.NewSink(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to sink", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = sink.Close()
	}()

	retry := resilience.NewRetryPolicy(resilience.DefaultRetryConfig)
	w := worker.NewReplayWorker(nil, queue, sink, retry, 0)

	stats, err := w.Replay(ctx, source)
	if err != nil {
		slog.Error("Replay failed", "error", err)
		os.Exit(1)
	}
	fmt.Printf("Replayed %d entries: %d succeeded, %d failed\n",
		stats.Total, stats.Succeeded, stats.Failed)
}
