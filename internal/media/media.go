// Package media stages episode audio: it downloads enclosures, converts them
// to the mono 16 kHz WAV layout the transcription service expects, and probes
// durations with ffprobe.
package media

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"podscribe/internal/config"
	"podscribe/internal/logging"
	"podscribe/internal/services"
	"podscribe/internal/ssrf"
)

const downloadTimeout = 10 * time.Minute

// CommandRunner executes an external tool and returns its combined output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Service stages audio files under the configured staging directory.
type Service struct {
	cfg    *config.Config
	logger *slog.Logger
	client *http.Client
	run    CommandRunner
}

// Option customizes service construction.
type Option func(*Service)

// WithHTTPClient overrides the download client, primarily for tests.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Service) {
		if client != nil {
			s.client = client
		}
	}
}

// WithCommandRunner sets a custom command runner (for testing).
func WithCommandRunner(run CommandRunner) Option {
	return func(s *Service) {
		if run != nil {
			s.run = run
		}
	}
}

// NewService builds a media service.
func NewService(cfg *config.Config, logger *slog.Logger, opts ...Option) *Service {
	service := &Service{
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "media"),
		client: &http.Client{Timeout: downloadTimeout},
		run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).CombinedOutput()
		},
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

// EpisodeDir returns (and creates) the staging directory for an episode.
func (s *Service) EpisodeDir(episodeID string) (string, error) {
	dir := filepath.Join(s.cfg.Paths.StagingDir, episodeID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create episode staging dir: %w", err)
	}
	return dir, nil
}

// DownloadAudio fetches an episode enclosure into the staging directory and
// returns the local path. The URL passes the SSRF guard first.
func (s *Service) DownloadAudio(ctx context.Context, episodeID, audioURL string) (string, error) {
	if !ssrf.ValidFeedURL(audioURL) {
		return "", services.Wrap(services.ErrValidation, "media", "download", "audio url rejected", nil)
	}

	dir, err := s.EpisodeDir(episodeID)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "media", "download", "prepare staging", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, audioURL, nil)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "media", "download", "build request", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", services.Wrap(services.ErrTransport, "media", "download", "request audio", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", services.Wrap(services.ErrTransport, "media", "download",
			fmt.Sprintf("audio returned status %d", resp.StatusCode), nil)
	}

	dest := filepath.Join(dir, "source"+audioExtension(audioURL, resp.Header.Get("Content-Type")))
	file, err := os.Create(dest)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "media", "download", "create staging file", err)
	}
	written, err := io.Copy(file, resp.Body)
	closeErr := file.Close()
	if err != nil {
		return "", services.Wrap(services.ErrTransport, "media", "download", "stream audio", err)
	}
	if closeErr != nil {
		return "", services.Wrap(services.ErrTransient, "media", "download", "flush staging file", closeErr)
	}

	s.logger.Debug("downloaded audio",
		logging.String(logging.FieldEpisodeID, episodeID),
		logging.String("dest", dest),
		logging.Int64("bytes", written))

	return dest, nil
}

// convertedName is the fixed filename of the conversion output. A resumed
// episode feeds the persisted converted file back in, which is recognized by
// this name and returned as-is; ffmpeg cannot write a file onto itself.
const convertedName = "converted.wav"

// ConvertToWAV transcodes staged audio into mono 16 kHz PCM WAV and returns
// the converted path.
func (s *Service) ConvertToWAV(ctx context.Context, source string) (string, error) {
	if filepath.Base(source) == convertedName {
		return source, nil
	}
	dest := filepath.Join(filepath.Dir(source), convertedName)
	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", source,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		dest,
	}
	if output, err := s.run(ctx, s.cfg.FFmpegBinary(), args...); err != nil {
		return "", services.Wrap(services.ErrExternalTool, "media", "convert",
			fmt.Sprintf("ffmpeg: %s", strings.TrimSpace(string(output))), err)
	}
	return dest, nil
}

// ProbeDuration returns the audio duration in seconds using ffprobe.
func (s *Service) ProbeDuration(ctx context.Context, source string) (float64, error) {
	args := []string{
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		source,
	}
	output, err := s.run(ctx, s.cfg.FFprobeBinary(), args...)
	if err != nil {
		return 0, services.Wrap(services.ErrExternalTool, "media", "probe",
			fmt.Sprintf("ffprobe: %s", strings.TrimSpace(string(output))), err)
	}

	var probed struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal(output, &probed); err != nil {
		return 0, services.Wrap(services.ErrParse, "media", "probe", "decode ffprobe output", err)
	}
	duration, err := strconv.ParseFloat(strings.TrimSpace(probed.Format.Duration), 64)
	if err != nil || duration <= 0 {
		return 0, services.Wrap(services.ErrParse, "media", "probe",
			fmt.Sprintf("invalid duration %q", probed.Format.Duration), err)
	}
	return duration, nil
}

// Cleanup removes an episode's staging directory.
func (s *Service) Cleanup(episodeID string) error {
	if episodeID == "" {
		return nil
	}
	return os.RemoveAll(filepath.Join(s.cfg.Paths.StagingDir, episodeID))
}

func audioExtension(audioURL, contentType string) string {
	switch {
	case strings.Contains(contentType, "mpeg"), strings.Contains(contentType, "mp3"):
		return ".mp3"
	case strings.Contains(contentType, "mp4"), strings.Contains(contentType, "m4a"), strings.Contains(contentType, "aac"):
		return ".m4a"
	case strings.Contains(contentType, "ogg"), strings.Contains(contentType, "opus"):
		return ".ogg"
	case strings.Contains(contentType, "wav"):
		return ".wav"
	}
	if ext := strings.ToLower(path.Ext(strippedURLPath(audioURL))); ext != "" && len(ext) <= 5 {
		return ext
	}
	return ".mp3"
}

func strippedURLPath(audioURL string) string {
	if idx := strings.IndexAny(audioURL, "?#"); idx >= 0 {
		audioURL = audioURL[:idx]
	}
	return audioURL
}
