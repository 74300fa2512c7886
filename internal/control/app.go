package control

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/relay/internal/alerting"
	"github.com/vietddude/relay/internal/checkpoint"
	"github.com/vietddude/relay/internal/core/config"
	"github.com/vietddude/relay/internal/core/domain"
	"github.com/vietddude/relay/internal/dlq"
	"github.com/vietddude/relay/internal/health"
	"github.com/vietddude/relay/internal/infra/redisq"
	"github.com/vietddude/relay/internal/infra/sink/postgres"
	"github.com/vietddude/relay/internal/infra/source/httpapi"
	"github.com/vietddude/relay/internal/pipeline"
	"github.com/vietddude/relay/internal/quality"
	"github.com/vietddude/relay/internal/resilience"
	"github.com/vietddude/relay/internal/worker"
)

// App is the main application struct that manages the pipeline lifecycle.
type App struct {
	cfg           *config.AppConfig
	orchestrators map[string]*pipeline.Orchestrator
	schedules     map[string]time.Duration

	source       *httpapi.Client
	sink         *postgres.Sink
	redisClient  *redisq.Client
	deadLetters  *dlq.Queue
	checkpoints  *checkpoint.Manager
	replayWorker *worker.ReplayWorker
	janitor      *worker.Janitor
	healthServer *health.Server
	healthMon    *health.Monitor
	evaluator    *alerting.Evaluator
	notifier     alerting.Notifier
	log          *slog.Logger
}

// NewApp creates the application with all dependencies initialized.
func NewApp(ctx context.Context, cfg *config.AppConfig) (*App, error) {

	// 1. Initialize storage-side infrastructure
	sink, err := postgres.NewSink(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to init sink: %w", err)
	}
	slog.Info("Using PostgreSQL sink", "table", cfg.Database.Table)

	deadLetters, err := dlq.NewQueue(cfg.DLQ.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to init dead letter queue: %w", err)
	}

	checkpoints, err := checkpoint.NewManager(cfg.Checkpoints.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to init checkpoints: %w", err)
	}

	source := httpapi.NewClient(cfg.Source)

	// 2. Alerting
	evaluator := alerting.NewEvaluator(cfg.Alerting.Rules)
	notifiers := []alerting.Notifier{alerting.LogNotifier{}}
	if len(cfg.Alerting.Kafka.Brokers) > 0 {
		notifiers = append(notifiers, alerting.NewKafkaNotifier(cfg.Alerting.Kafka))
		slog.Info("Kafka alert notifier enabled", "topic", cfg.Alerting.Kafka.Topic)
	}
	notifier := alerting.NewFanout(notifiers...)

	deadLetters.SetAlertHook(func(entry domain.DLQEntry) {
		_ = notifier.Notify(context.Background(), alerting.Alert{
			Rule:      "dlq_entry",
			Severity:  alerting.SeverityWarning,
			Pipeline:  entry.Source,
			Message:   fmt.Sprintf("entry %s dead-lettered: %s", entry.ID, entry.Error),
			Timestamp: entry.Timestamp,
		})
	})

	// 3. Build one orchestrator per configured pipeline
	transformers := quality.NewRegistry()
	if err := transformers.Register(quality.NormalizeText()); err != nil {
		return nil, err
	}

	orchestrators := make(map[string]*pipeline.Orchestrator)
	schedules := make(map[string]time.Duration)
	for _, pc := range cfg.Pipelines {
		rules, err := config.BuildRuleSet(pc)
		if err != nil {
			return nil, err
		}

		name := pc.Name
		orchestrators[pc.Name] = pipeline.NewOrchestrator(pipeline.Config{
			Pipeline: pc.Name,
			Target:   pc.Target,
			Query: pipeline.QueryDescriptor{
				Dataset:  pc.Dataset,
				Filter:   pc.Filter,
				PageSize: pc.PageSize,
			},
			OnReport: func(report domain.QualityReport) {
				for _, alert := range evaluator.EvaluateQuality(name, report) {
					_ = notifier.Notify(context.Background(), alert)
				}
			},
			Source:           source,
			Sink:             sink,
			Retry:            resilience.NewRetryPolicy(pc.Retry),
			Breaker:          resilience.NewCircuitBreaker(pc.Breaker),
			DLQ:              deadLetters,
			Checkpoints:      checkpoints,
			Rules:            rules,
			Transformers:     transformers,
			Transformations:  pc.Transformations,
			CheckpointEvery:  cfg.Checkpoints.Every,
			CheckpointKeep:   cfg.Checkpoints.Keep,
			QualityThreshold: pc.QualityThreshold,
			QualityPolicy:    pipeline.QualityPolicy(pc.QualityPolicy),
			Workers:          pc.Workers,
			ChunksPerSecond:  pc.ChunksPerSecond,
			MemoryLimitMB:    pc.MemoryLimitMB,
		})
		schedules[pc.Name] = pc.Schedule
	}

	// 4. Health monitor and server
	healthMon := health.NewMonitor(deadLetters, sink)
	for name, orch := range orchestrators {
		healthMon.RegisterPipeline(name, orch.Progress)
	}
	healthServer := health.NewServer(healthMon, cfg.Server.Port)

	// 5. Optional Redis replay queue
	var redisClient *redisq.Client
	var replayWorker *worker.ReplayWorker
	if cfg.Redis.URL != "" {
		redisClient, err = redisq.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("Failed to connect to Redis, replay worker disabled", "error", err)
		} else {
			replayRetry := resilience.NewRetryPolicy(resilience.DefaultRetryConfig)
			replayWorker = worker.NewReplayWorker(redisClient, deadLetters, sink, replayRetry, 0)
			slog.Info("Replay worker initialized")
		}
	}

	pipelineNames := make([]string, 0, len(cfg.Pipelines))
	for _, pc := range cfg.Pipelines {
		pipelineNames = append(pipelineNames, pc.Name)
	}
	janitor := worker.NewJanitor(
		cfg.DLQ.Retention, cfg.Checkpoints.Keep, pipelineNames, deadLetters, checkpoints)

	return &App{
		cfg:           cfg,
		orchestrators: orchestrators,
		schedules:     schedules,
		source:        source,
		sink:          sink,
		redisClient:   redisClient,
		deadLetters:   deadLetters,
		checkpoints:   checkpoints,
		replayWorker:  replayWorker,
		janitor:       janitor,
		healthServer:  healthServer,
		healthMon:     healthMon,
		evaluator:     evaluator,
		notifier:      notifier,
		log:           slog.Default(),
	}, nil
}

// Start starts the health server, the replay worker and every
// pipeline loop.
func (a *App) Start(ctx context.Context) error {
	go func() {
		if err := a.healthServer.Start(); err != nil {
			a.log.Error("Health server failed", "error", err)
		}
	}()

	if a.replayWorker != nil {
		go a.replayWorker.Start(ctx)
	}
	go a.janitor.Start(ctx)

	for name := range a.orchestrators {
		a.log.Info("Starting pipeline", "pipeline", name)
		go a.runPipeline(ctx, name)
	}
	return nil
}

// runPipeline drives one pipeline: once, or on its schedule.
func (a *App) runPipeline(ctx context.Context, name string) {
	a.runAndAlert(ctx, name)

	interval := a.schedules[name]
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.runAndAlert(ctx, name)
		}
	}
}

// RunOnce executes a single named pipeline run synchronously.
func (a *App) RunOnce(ctx context.Context, name string) (*domain.RunSummary, error) {
	orch, ok := a.orchestrators[name]
	if !ok {
		return nil, fmt.Errorf("unknown pipeline: %s", name)
	}
	return orch.Run(ctx)
}

func (a *App) runAndAlert(ctx context.Context, name string) {
	summary, err := a.RunOnce(ctx, name)
	if err != nil && summary == nil {
		a.log.Error("Pipeline run error", "pipeline", name, "error", err)
		return
	}

	alerts := a.evaluator.EvaluateRun(*summary)
	if stats, err := a.deadLetters.Stats(); err == nil {
		alerts = append(alerts, a.evaluator.EvaluateDLQ(name, stats)...)
	}
	for _, alert := range alerts {
		_ = a.notifier.Notify(ctx, alert)
	}
}

// Replay re-drives dead letter entries for one source through the
// sink, without waiting for the background worker.
func (a *App) Replay(ctx context.Context, source string) (dlq.ReplayStats, error) {
	retry := resilience.NewRetryPolicy(resilience.DefaultRetryConfig)
	w := worker.NewReplayWorker(a.redisClient, a.deadLetters, a.sink, retry, 0)
	return w.Replay(ctx, source)
}

// DLQStats reports the persisted dead letter backlog.
func (a *App) DLQStats() (dlq.Stats, error) {
	return a.deadLetters.Stats()
}

// Stop shuts the application down.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("Stopping relay...")

	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if err := a.notifier.Close(); err != nil {
		a.log.Warn("Failed to close notifier", "error", err)
	}
	if err := a.sink.Close(); err != nil {
		a.log.Warn("Failed to close sink", "error", err)
	}

	return a.healthServer.Stop(ctx)
}
