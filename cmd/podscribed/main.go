// Command podscribed runs the podscribe background daemon: the workflow
// loop that processes queued episodes and the scheduled feed poller.
package main

import (
	"context"
	"log"
	"log/slog"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"podscribe/internal/config"
	"podscribe/internal/daemon"
	"podscribe/internal/deps"
	"podscribe/internal/feed"
	"podscribe/internal/llm"
	"podscribe/internal/logging"
	"podscribe/internal/media"
	"podscribe/internal/pipeline"
	"podscribe/internal/poller"
	"podscribe/internal/speakers"
	"podscribe/internal/store"
	"podscribe/internal/summarize"
	"podscribe/internal/transcribe"
	"podscribe/internal/workflow"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, configPath, exists, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("prepare directories: %v", err)
	}

	logger, err := logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		OutputPaths: []string{
			"stdout",
			filepath.Join(cfg.Paths.LogDir, "podscribed.log"),
		},
	})
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	if exists {
		logger.Info("config loaded", logging.String("path", configPath))
	} else {
		logger.Warn("no config file found, using defaults")
	}

	if missing := deps.MissingRequired(deps.CheckBinaries(deps.Requirements(cfg))); len(missing) > 0 {
		logger.Warn("required external tools missing, audio processing will fail",
			logging.String("missing", strings.Join(missing, ", ")))
	}

	st, err := store.Open(cfg)
	if err != nil {
		logger.Error("open store", logging.Error(err))
		return
	}

	d, err := daemon.New(cfg, st, newWorkflow(cfg, st, logger), logger)
	if err != nil {
		logger.Error("create daemon", logging.Error(err))
		return
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		logger.Error("daemon start", logging.Error(err))
		return
	}

	<-ctx.Done()
	logger.Info("podscribed shutting down")
}

func newWorkflow(cfg *config.Config, st *store.Store, logger *slog.Logger) *workflow.Manager {
	llmClient := llm.NewClient(llm.Config{
		APIKey:         cfg.LLM.APIKey,
		BaseURL:        cfg.LLM.BaseURL,
		Model:          cfg.LLM.Model,
		Referer:        cfg.LLM.Referer,
		Title:          cfg.LLM.Title,
		TimeoutSeconds: cfg.LLM.TimeoutSeconds,
	})

	runner := pipeline.NewRunner(
		cfg,
		st,
		media.NewService(cfg, logger),
		transcribe.NewClient(transcribe.Config{
			APIKey:       cfg.Transcriber.APIKey,
			BaseURL:      cfg.Transcriber.BaseURL,
			PollInterval: time.Duration(cfg.Transcriber.PollIntervalSeconds) * time.Second,
		}, logger),
		speakers.NewIdentifier(llmClient, logger),
		summarize.NewSummarizer(llmClient, logger),
		logger,
	)

	feedPoller := poller.New(cfg, st, feed.NewFetcher(logger), logger)
	return workflow.NewManager(cfg, st, runner, feedPoller, logger)
}
