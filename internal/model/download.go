package model

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// DefaultBaseURL hosts the ggml conversions of the whisper models.
const DefaultBaseURL = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main"

// KnownModels are the model names offered for download.
var KnownModels = []string{"tiny", "base", "small", "medium", "large-v3"}

// Phase is the state of a download.
type Phase string

const (
	PhaseSkipped     Phase = "skipped"
	PhasePending     Phase = "pending"
	PhaseDownloading Phase = "downloading"
	PhaseCompleted   Phase = "completed"
	PhaseFailed      Phase = "failed"
)

// Status is a download progress report. Progress is in [0, 1], or -1 when the
// size is unknown.
type Status struct {
	File       string
	Phase      Phase
	Downloaded int64
	Total      int64
	Progress   float64
	Err        error
}

// Downloader fetches model files over HTTP.
type Downloader struct {
	baseURL  string
	client   *http.Client
	logger   *slog.Logger
	progress *rate.Limiter

	// OnStatus, when set, receives every status change and throttled progress.
	OnStatus func(Status)
}

// NewDownloader creates a downloader. An empty baseURL uses DefaultBaseURL.
func NewDownloader(baseURL string, logger *slog.Logger) *Downloader {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Downloader{
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{},
		logger:   logger,
		progress: rate.NewLimiter(rate.Every(2*time.Second), 1),
	}
}

// FileName returns the ggml file name for a model name, e.g. "small" -> "ggml-small.bin".
func FileName(name string) string {
	return "ggml-" + name + ".bin"
}

// URL returns the download URL for a model name.
func (d *Downloader) URL(name string) string {
	return d.baseURL + "/" + FileName(name)
}

// Ensure returns the path of model name inside dir, downloading it when missing.
func (d *Downloader) Ensure(ctx context.Context, name, dir string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("invalid model name %q", name)
	}
	path := filepath.Join(dir, FileName(name))
	if err := d.Download(ctx, d.URL(name), path); err != nil {
		return "", err
	}
	return path, nil
}

// Download fetches url into dest unless dest already exists. The body is written
// to a temporary file in the same directory and renamed into place.
func (d *Downloader) Download(ctx context.Context, url, dest string) error {
	file := filepath.Base(dest)

	if info, err := os.Stat(dest); err == nil && info.Size() > 0 {
		d.report(Status{File: file, Phase: PhaseSkipped, Downloaded: info.Size(), Total: info.Size(), Progress: 1})
		return nil
	}

	d.report(Status{File: file, Phase: PhasePending})

	if err := d.fetch(ctx, url, dest, file); err != nil {
		d.report(Status{File: file, Phase: PhaseFailed, Err: err})
		return err
	}
	return nil
}

func (d *Downloader) fetch(ctx context.Context, url, dest, file string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to download %s: unexpected status %d", url, resp.StatusCode)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), file+".*.part")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	pw := &progressWriter{d: d, status: Status{File: file, Phase: PhaseDownloading, Total: resp.ContentLength}}
	if _, err := io.Copy(tmp, io.TeeReader(resp.Body, pw)); err != nil {
		return fmt.Errorf("failed to write %s: %w", file, err)
	}
	if resp.ContentLength > 0 && pw.status.Downloaded != resp.ContentLength {
		return fmt.Errorf("failed to download %s: %w (got %d of %d bytes)",
			file, io.ErrUnexpectedEOF, pw.status.Downloaded, resp.ContentLength)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temporary file: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", file, err)
	}
	committed = true

	d.report(Status{
		File:       file,
		Phase:      PhaseCompleted,
		Downloaded: pw.status.Downloaded,
		Total:      pw.status.Downloaded,
		Progress:   1,
	})
	return nil
}

func (d *Downloader) report(s Status) {
	if d.OnStatus != nil {
		d.OnStatus(s)
	}
	if d.logger == nil {
		return
	}

	attrs := []any{
		slog.String("file", s.File),
		slog.String("phase", string(s.Phase)),
	}
	switch s.Phase {
	case PhaseFailed:
		d.logger.Error("Model download failed", append(attrs, slog.String("error", errString(s.Err)))...)
	case PhaseDownloading:
		d.logger.Info("Downloading model", append(attrs,
			slog.Int64("downloaded", s.Downloaded),
			slog.Int64("total", s.Total),
			slog.Float64("progress", s.Progress),
		)...)
	case PhaseCompleted:
		d.logger.Info("Model download completed", append(attrs, slog.Int64("bytes", s.Downloaded))...)
	default:
		d.logger.Debug("Model download status", attrs...)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

type progressWriter struct {
	d      *Downloader
	status Status
}

func (p *progressWriter) Write(b []byte) (int, error) {
	p.status.Downloaded += int64(len(b))
	if p.status.Total > 0 {
		p.status.Progress = float64(p.status.Downloaded) / float64(p.status.Total)
	} else {
		p.status.Progress = -1
	}
	if p.d.progress.Allow() {
		p.d.report(p.status)
	}
	return len(b), nil
}

// IsKnown reports whether name is one of KnownModels.
func IsKnown(name string) bool {
	for _, m := range KnownModels {
		if m == name {
			return true
		}
	}
	return false
}

// ErrModelMissing is returned by Resolve when the model file does not exist
// and downloading is disabled.
var ErrModelMissing = errors.New("model: file not found")

// Resolve returns a usable model path: path if it exists, otherwise the
// downloaded file for name when autoDownload is set.
func (d *Downloader) Resolve(ctx context.Context, path, name, dir string, autoDownload bool) (string, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	if !autoDownload || name == "" {
		return "", fmt.Errorf("%w: %s", ErrModelMissing, path)
	}
	return d.Ensure(ctx, name, dir)
}
