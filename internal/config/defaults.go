package config

const (
	defaultStagingDir = "~/.local/share/podscribe/staging"
	defaultLogDir     = "~/.local/share/podscribe/logs"
	defaultDataDir    = "~/.local/share/podscribe"

	defaultTranscriberBaseURL       = "https://api.assemblyai.com/v2"
	defaultTranscriberPollSeconds   = 3
	defaultTranscriberRealtimeRatio = 0.8

	defaultLLMBaseURL        = "https://openrouter.ai/api/v1/chat/completions"
	defaultLLMModel          = "anthropic/claude-sonnet-4"
	defaultLLMReferer        = "https://github.com/podscribe/podscribe"
	defaultLLMTitle          = "Podscribe Summarizer"
	defaultLLMTimeoutSeconds = 120

	defaultPollerSchedule       = "@every 6h"
	defaultMaxConcurrentChecks  = 5
	defaultFetchDelayMS         = 500
	defaultEpisodeLimit         = 100
	defaultMaxEpisodeLimit      = 500
	defaultQueuePollInterval    = 5
	defaultErrorRetryInterval   = 30
	defaultWorkflowMaxBatchSize = 19

	defaultLogFormat = "console"
	defaultLogLevel  = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StagingDir: defaultStagingDir,
			LogDir:     defaultLogDir,
			DataDir:    defaultDataDir,
		},
		Transcriber: Transcriber{
			BaseURL:              defaultTranscriberBaseURL,
			PollIntervalSeconds:  defaultTranscriberPollSeconds,
			DefaultRealtimeRatio: defaultTranscriberRealtimeRatio,
		},
		LLM: LLM{
			BaseURL:        defaultLLMBaseURL,
			Model:          defaultLLMModel,
			Referer:        defaultLLMReferer,
			Title:          defaultLLMTitle,
			TimeoutSeconds: defaultLLMTimeoutSeconds,
		},
		Poller: Poller{
			Schedule:            defaultPollerSchedule,
			MaxConcurrentChecks: defaultMaxConcurrentChecks,
			FetchDelayMS:        defaultFetchDelayMS,
			EpisodeLimit:        defaultEpisodeLimit,
			MaxEpisodeLimit:     defaultMaxEpisodeLimit,
		},
		Workflow: Workflow{
			QueuePollInterval:  defaultQueuePollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			MaxBatchSize:       defaultWorkflowMaxBatchSize,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
