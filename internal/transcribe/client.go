// Package transcribe talks to a hosted speech-to-text service using the
// upload/submit/poll flow: audio is uploaded first, a transcription job is
// submitted with speaker labels and language detection enabled, and the job
// is polled until it completes. The poll loop reports progress derived from
// elapsed time against the expected realtime ratio.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"podscribe/internal/logging"
	"podscribe/internal/services"
)

// Progress bounds for the transcription phase of the pipeline.
const (
	progressFloor   = 30.0
	progressCeiling = 55.0
)

// Config captures the runtime settings for the transcription service.
type Config struct {
	APIKey       string
	BaseURL      string
	PollInterval time.Duration
}

// Segment is one diarized utterance with times in seconds.
type Segment struct {
	Speaker string
	Start   float64
	End     float64
	Text    string
}

// Result is a finished transcription.
type Result struct {
	Segments []Segment
	Language string
	Elapsed  time.Duration
}

// ProgressFunc receives absolute progress percentages during polling. It is
// invoked synchronously from the poll loop; returning an error aborts the job.
type ProgressFunc func(ctx context.Context, percent float64) error

// Client submits and polls transcription jobs.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithClock overrides the time source (for testing).
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// WithSleeper overrides how poll waits are performed (for testing).
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// NewClient builds a transcription client.
func NewClient(cfg Config, logger *slog.Logger, opts ...Option) *Client {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	client := &Client{
		cfg:        cfg,
		httpClient: &http.Client{},
		logger:     logging.NewComponentLogger(logger, "transcribe"),
		now:        time.Now,
		sleep: func(ctx context.Context, d time.Duration) error {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
				return nil
			}
		},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Transcribe uploads staged audio and polls the job to completion.
// durationSeconds and realtimeRatio feed the progress estimate: the job is
// expected to take duration*ratio, and progress advances from 30 to 55 as
// elapsed time approaches that estimate.
func (c *Client) Transcribe(ctx context.Context, audioPath string, durationSeconds, realtimeRatio float64, onProgress ProgressFunc) (*Result, error) {
	if c.cfg.APIKey == "" {
		return nil, services.Wrap(services.ErrConfiguration, "transcribe", "transcribe", "api key required", nil)
	}

	started := c.now()

	uploadURL, err := c.upload(ctx, audioPath)
	if err != nil {
		return nil, err
	}

	jobID, err := c.submit(ctx, uploadURL)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("transcription job submitted",
		logging.String("job_id", jobID),
		logging.Float64("duration_seconds", durationSeconds),
		logging.Float64("realtime_ratio", realtimeRatio))

	expected := durationSeconds * realtimeRatio

	for {
		job, err := c.pollOnce(ctx, jobID)
		if err != nil {
			return nil, err
		}

		switch job.Status {
		case "completed":
			result := jobResult(job)
			result.Elapsed = c.now().Sub(started)
			if onProgress != nil {
				if err := onProgress(ctx, progressCeiling); err != nil {
					return nil, err
				}
			}
			return result, nil
		case "error":
			return nil, services.Wrap(services.ErrExternalTool, "transcribe", "poll",
				fmt.Sprintf("transcription failed: %s", job.Error), nil)
		case "queued", "processing":
			if onProgress != nil {
				elapsed := c.now().Sub(started).Seconds()
				if err := onProgress(ctx, estimateProgress(elapsed, expected)); err != nil {
					return nil, err
				}
			}
		default:
			return nil, services.Wrap(services.ErrParse, "transcribe", "poll",
				fmt.Sprintf("unknown job status %q", job.Status), nil)
		}

		if err := c.sleep(ctx, c.cfg.PollInterval); err != nil {
			return nil, services.Wrap(services.ErrTimeout, "transcribe", "poll", "poll interrupted", err)
		}
	}
}

// estimateProgress maps elapsed seconds onto the 30-55 band. It saturates
// just below the ceiling so only completion reports 55.
func estimateProgress(elapsedSeconds, expectedSeconds float64) float64 {
	if expectedSeconds <= 0 {
		return progressFloor
	}
	fraction := elapsedSeconds / expectedSeconds
	if fraction > 0.99 {
		fraction = 0.99
	}
	if fraction < 0 {
		fraction = 0
	}
	return progressFloor + fraction*(progressCeiling-progressFloor)
}

func (c *Client) upload(ctx context.Context, audioPath string) (string, error) {
	file, err := os.Open(audioPath)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "transcribe", "upload", "open audio file", err)
	}
	defer file.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/upload", file)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "transcribe", "upload", "build request", err)
	}
	req.Header.Set("Authorization", c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/octet-stream")

	var uploaded struct {
		UploadURL string `json:"upload_url"`
	}
	if err := c.do(req, &uploaded, "upload"); err != nil {
		return "", err
	}
	if uploaded.UploadURL == "" {
		return "", services.Wrap(services.ErrParse, "transcribe", "upload", "missing upload_url", nil)
	}
	return uploaded.UploadURL, nil
}

func (c *Client) submit(ctx context.Context, uploadURL string) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"audio_url":          uploadURL,
		"speaker_labels":     true,
		"language_detection": true,
	})
	if err != nil {
		return "", services.Wrap(services.ErrParse, "transcribe", "submit", "encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/transcript", bytes.NewReader(payload))
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "transcribe", "submit", "build request", err)
	}
	req.Header.Set("Authorization", c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	var submitted struct {
		ID string `json:"id"`
	}
	if err := c.do(req, &submitted, "submit"); err != nil {
		return "", err
	}
	if submitted.ID == "" {
		return "", services.Wrap(services.ErrParse, "transcribe", "submit", "missing job id", nil)
	}
	return submitted.ID, nil
}

type jobStatus struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Error        string `json:"error"`
	LanguageCode string `json:"language_code"`
	Utterances   []struct {
		Speaker string  `json:"speaker"`
		Start   float64 `json:"start"`
		End     float64 `json:"end"`
		Text    string  `json:"text"`
	} `json:"utterances"`
}

func (c *Client) pollOnce(ctx context.Context, jobID string) (*jobStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/transcript/"+jobID, nil)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "transcribe", "poll", "build request", err)
	}
	req.Header.Set("Authorization", c.cfg.APIKey)

	var job jobStatus
	if err := c.do(req, &job, "poll"); err != nil {
		return nil, err
	}
	return &job, nil
}

func (c *Client) do(req *http.Request, target any, op string) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return services.Wrap(services.ErrTransport, "transcribe", op, "request", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return services.Wrap(services.ErrTransport, "transcribe", op, "read response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return services.Wrap(services.ErrTransport, "transcribe", op,
			fmt.Sprintf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil)
	}
	if err := json.Unmarshal(body, target); err != nil {
		return services.Wrap(services.ErrParse, "transcribe", op, "decode response", err)
	}
	return nil
}

// jobResult converts service utterances (millisecond times) into segments.
func jobResult(job *jobStatus) *Result {
	result := &Result{Language: job.LanguageCode}
	for _, utterance := range job.Utterances {
		text := strings.TrimSpace(utterance.Text)
		if text == "" {
			continue
		}
		result.Segments = append(result.Segments, Segment{
			Speaker: utterance.Speaker,
			Start:   utterance.Start / 1000,
			End:     utterance.End / 1000,
			Text:    text,
		})
	}
	return result
}
