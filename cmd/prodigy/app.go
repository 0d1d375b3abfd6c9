package main

import (
	"context"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/prodigy-dev/prodigy/internal/checkpoint"
	"github.com/prodigy-dev/prodigy/internal/config"
	"github.com/prodigy-dev/prodigy/internal/dlq"
	"github.com/prodigy-dev/prodigy/internal/environment"
	"github.com/prodigy-dev/prodigy/internal/eventlog"
	"github.com/prodigy-dev/prodigy/internal/executor"
	"github.com/prodigy-dev/prodigy/internal/telemetry"
	"github.com/prodigy-dev/prodigy/internal/worktree"
)

// app bundles the ambient services every subcommand needs: configuration,
// structured logging/metrics, and the stores the Checkpoint/DLQ/Worktree
// components persist to. Built once per invocation by the subcommand's own
// newApp call and threaded through explicitly, matching the teacher's
// avoidance of package-level service globals.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	metrics   *telemetry.Metrics
	tracer    *sdktrace.TracerProvider
	events    *eventlog.Log
	checkpoints *checkpoint.Store
	mrCheckpoints *checkpoint.MapReduceStore
	dlq       *dlq.Store
	worktrees *worktree.Manager
}

func newApp() (*app, error) {
	overrides := &config.Config{}
	if h := GetHome(); h != "" {
		overrides.ProdigyHome = h
	}
	if v := GetVerbose(); v {
		overrides.Verbose = v
	}
	if o := GetOutput(); o != "" {
		overrides.Output = o
	}

	cfg, err := config.Load(overrides)
	if err != nil {
		return nil, err
	}

	level := "info"
	if cfg.Verbose {
		level = "debug"
	}
	logger, err := telemetry.NewLogger(telemetry.LoggerConfig{Level: level})
	if err != nil {
		return nil, err
	}

	eventsPath := filepath.Join(cfg.Paths.EventsDir, "events.jsonl")
	events, err := eventlog.Open(eventsPath, logger)
	if err != nil {
		return nil, err
	}

	tracerWriter := os.Stderr
	tp, err := telemetry.NewTracerProvider(context.Background(), telemetry.TracerConfig{
		Enabled:     cfg.Verbose,
		ServiceName: "prodigy",
		Writer:      tracerWriter,
	})
	if err != nil {
		return nil, err
	}

	checkpoints := checkpoint.New(cfg.Paths.CheckpointDir)
	_ = checkpoints.CleanStaleTemp()

	return &app{
		cfg:           cfg,
		logger:        logger,
		metrics:       telemetry.NewMetrics(),
		tracer:        tp,
		events:        events,
		checkpoints:   checkpoints,
		mrCheckpoints: checkpoint.NewMapReduceStore(cfg.Paths.CheckpointDir),
		dlq:           dlq.New(cfg.Paths.DLQDir),
		worktrees:     worktree.NewManager(cfg.Paths.SessionsDir),
	}, nil
}

func (a *app) close() {
	_ = a.tracer.Shutdown(context.Background())
	_ = a.logger.Sync()
}

// execOptions builds the Command Executor options shared by sequential and
// MapReduce runs from the resolved config and the repo root.
func (a *app) execOptions(repoRoot string) executor.Options {
	mode := executor.AssistantPrint
	if a.cfg.Assistant.Streaming {
		mode = executor.AssistantStreaming
	}
	return executor.Options{
		WorkingDir:      repoRoot,
		Classifier:      executor.DefaultClassifier,
		AssistantBinary: a.cfg.Assistant.Command,
		AssistantMode:   mode,
		SkipPermissions: a.cfg.Assistant.SkipPermissions,
		Handlers:        executor.NewHandlerRegistry(),
		EventLog:        a.events,
	}
}

func (a *app) envContext(repoRoot string) environment.Context {
	builder := environment.NewBuilder(repoRoot)
	if os.Getenv("PRODIGY_AUTOMATION") == "" {
		builder = builder.WithEnv("PRODIGY_HOME", a.cfg.ProdigyHome)
	}
	return builder.Build()
}

func repoRootOrCwd() (string, error) {
	return os.Getwd()
}
