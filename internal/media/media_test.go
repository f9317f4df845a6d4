package media_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"podscribe/internal/logging"
	"podscribe/internal/media"
	"podscribe/internal/services"
	"podscribe/internal/testsupport"
)

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func loopbackClient(server *httptest.Server) *http.Client {
	transport := &http.Transport{}
	return &http.Client{
		Transport: roundTripperFunc(func(req *http.Request) (*http.Response, error) {
			target := *req.URL
			target.Scheme = "http"
			target.Host = server.Listener.Addr().String()
			redirected := req.Clone(req.Context())
			redirected.URL = &target
			return transport.RoundTrip(redirected)
		}),
	}
}

func TestDownloadAudioStagesFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("fake mp3 bytes"))
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	svc := media.NewService(cfg, logging.NewNop(), media.WithHTTPClient(loopbackClient(server)))

	dest, err := svc.DownloadAudio(context.Background(), "ep-1", "https://cdn.example.com/episode.mp3")
	if err != nil {
		t.Fatalf("DownloadAudio: %v", err)
	}
	if !strings.HasSuffix(dest, ".mp3") {
		t.Fatalf("expected mp3 extension, got %q", dest)
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read staged file: %v", err)
	}
	if string(data) != "fake mp3 bytes" {
		t.Fatalf("unexpected staged content: %q", data)
	}
	if !strings.HasPrefix(dest, filepath.Join(cfg.Paths.StagingDir, "ep-1")) {
		t.Fatalf("file staged outside episode dir: %q", dest)
	}

	if err := svc.Cleanup("ep-1"); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Fatal("expected staging dir removed")
	}
}

func TestDownloadAudioRejectsGuardedURL(t *testing.T) {
	svc := media.NewService(testsupport.NewConfig(t), logging.NewNop())
	_, err := svc.DownloadAudio(context.Background(), "ep-1", "http://127.0.0.1/audio.mp3")
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestConvertToWAVBuildsFFmpegArgs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	var gotName string
	var gotArgs []string
	svc := media.NewService(cfg, logging.NewNop(), media.WithCommandRunner(
		func(ctx context.Context, name string, args ...string) ([]byte, error) {
			gotName = name
			gotArgs = args
			return nil, nil
		}))

	dest, err := svc.ConvertToWAV(context.Background(), "/staging/ep-1/source.mp3")
	if err != nil {
		t.Fatalf("ConvertToWAV: %v", err)
	}
	if dest != "/staging/ep-1/converted.wav" {
		t.Fatalf("unexpected dest: %q", dest)
	}
	if gotName != "ffmpeg" {
		t.Fatalf("unexpected binary: %q", gotName)
	}
	joined := strings.Join(gotArgs, " ")
	for _, want := range []string{"-ac 1", "-ar 16000", "-c:a pcm_s16le", "/staging/ep-1/source.mp3"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("missing %q in args: %s", want, joined)
		}
	}
}

func TestConvertToWAVReturnsOwnOutputUnchanged(t *testing.T) {
	ran := false
	svc := media.NewService(testsupport.NewConfig(t), logging.NewNop(), media.WithCommandRunner(
		func(ctx context.Context, name string, args ...string) ([]byte, error) {
			ran = true
			return nil, nil
		}))

	// A resumed episode hands the previously converted file back in.
	dest, err := svc.ConvertToWAV(context.Background(), "/staging/ep-1/converted.wav")
	if err != nil {
		t.Fatalf("ConvertToWAV: %v", err)
	}
	if dest != "/staging/ep-1/converted.wav" {
		t.Fatalf("unexpected dest: %q", dest)
	}
	if ran {
		t.Fatal("ffmpeg should not run for an already converted file")
	}

	dest, err = svc.ConvertToWAV(context.Background(), "/staging/ep-1/source.wav")
	if err != nil {
		t.Fatalf("ConvertToWAV from wav source: %v", err)
	}
	if dest == "/staging/ep-1/source.wav" {
		t.Fatal("conversion must not write onto its own input")
	}
	if !ran {
		t.Fatal("expected ffmpeg to run for a non-converted wav source")
	}
}

func TestConvertToWAVWrapsToolFailure(t *testing.T) {
	svc := media.NewService(testsupport.NewConfig(t), logging.NewNop(), media.WithCommandRunner(
		func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return []byte("boom"), errors.New("exit status 1")
		}))

	_, err := svc.ConvertToWAV(context.Background(), "/staging/ep-1/source.mp3")
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
}

func TestProbeDurationParsesFFprobeOutput(t *testing.T) {
	svc := media.NewService(testsupport.NewConfig(t), logging.NewNop(), media.WithCommandRunner(
		func(ctx context.Context, name string, args ...string) ([]byte, error) {
			if name != "ffprobe" {
				t.Errorf("unexpected binary: %q", name)
			}
			return []byte(`{"format":{"duration":"1832.45"}}`), nil
		}))

	duration, err := svc.ProbeDuration(context.Background(), "/staging/ep-1/source.wav")
	if err != nil {
		t.Fatalf("ProbeDuration: %v", err)
	}
	if duration != 1832.45 {
		t.Fatalf("unexpected duration: %v", duration)
	}
}

func TestProbeDurationRejectsGarbage(t *testing.T) {
	svc := media.NewService(testsupport.NewConfig(t), logging.NewNop(), media.WithCommandRunner(
		func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return []byte(`{"format":{}}`), nil
		}))

	_, err := svc.ProbeDuration(context.Background(), "/staging/ep-1/source.wav")
	if !errors.Is(err, services.ErrParse) {
		t.Fatalf("expected parse error, got %v", err)
	}
}
