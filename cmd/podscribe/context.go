package main

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"podscribe/internal/batch"
	"podscribe/internal/config"
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
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	loggerOnce sync.Once
	logger     *slog.Logger
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// cliLogger logs to stderr at warn level so command output stays clean.
func (c *commandContext) cliLogger() *slog.Logger {
	c.loggerOnce.Do(func() {
		cfg, err := c.ensureConfig()
		format := "console"
		if err == nil {
			format = cfg.Logging.Format
		}
		logger, logErr := logging.New(logging.Options{
			Level:       "warn",
			Format:      format,
			OutputPaths: []string{"stderr"},
		})
		if logErr != nil {
			logger = logging.NewNop()
		}
		c.logger = logger
	})
	return c.logger
}

// withStore opens the store for one command invocation.
func (c *commandContext) withStore(fn func(cfg *config.Config, st *store.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	st, err := store.Open(cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(cfg, st)
}

func (c *commandContext) newPoller(cfg *config.Config, st *store.Store) *poller.Poller {
	return poller.New(cfg, st, feed.NewFetcher(c.cliLogger()), c.cliLogger())
}

func (c *commandContext) newRunner(cfg *config.Config, st *store.Store) *pipeline.Runner {
	logger := c.cliLogger()
	llmClient := llm.NewClient(llm.Config{
		APIKey:         cfg.LLM.APIKey,
		BaseURL:        cfg.LLM.BaseURL,
		Model:          cfg.LLM.Model,
		Referer:        cfg.LLM.Referer,
		Title:          cfg.LLM.Title,
		TimeoutSeconds: cfg.LLM.TimeoutSeconds,
	})
	return pipeline.NewRunner(
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
}

func (c *commandContext) newCoordinator(cfg *config.Config, st *store.Store) *batch.Coordinator {
	return batch.New(cfg, st, c.newRunner(cfg, st), c.cliLogger())
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
