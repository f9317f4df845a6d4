package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateTranscriber(); err != nil {
		return err
	}
	if err := c.validateLLM(); err != nil {
		return err
	}
	if err := c.validatePoller(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateTranscriber() error {
	if c.Transcriber.APIKey == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/podscribe/config.toml"
		}
		return fmt.Errorf("transcriber.api_key is required. Set TRANSCRIBER_API_KEY env var or edit %s (create with 'podscribe config init')", defaultPath)
	}
	if c.Transcriber.DefaultRealtimeRatio < 0.3 || c.Transcriber.DefaultRealtimeRatio > 2.0 {
		return errors.New("transcriber.default_realtime_ratio must be between 0.3 and 2.0")
	}
	return nil
}

func (c *Config) validateLLM() error {
	if c.LLM.APIKey == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/podscribe/config.toml"
		}
		return fmt.Errorf("llm.api_key is required. Set LLM_API_KEY env var or edit %s (create with 'podscribe config init')", defaultPath)
	}
	if c.LLM.Model == "" {
		return errors.New("llm.model must be set")
	}
	return nil
}

func (c *Config) validatePoller() error {
	if c.Poller.MaxConcurrentChecks > 64 {
		return errors.New("poller.max_concurrent_checks must be 64 or fewer")
	}
	if c.Poller.EpisodeLimit > c.Poller.MaxEpisodeLimit {
		return fmt.Errorf("poller.episode_limit must not exceed poller.max_episode_limit (%d)", c.Poller.MaxEpisodeLimit)
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.MaxBatchSize < 1 {
		return errors.New("workflow.max_batch_size must be at least 1")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}
