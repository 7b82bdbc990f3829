package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/example/audio-check/internal/failure"
	"github.com/example/audio-check/internal/interpreter"
	"github.com/example/audio-check/internal/logging"
	"github.com/example/audio-check/internal/metrics"
)

// ShareTitle is the title attached to every shared result.
const ShareTitle = "Audio Deepfake Detection Result"

// Capabilities describes what the current platform can do with a result.
type Capabilities struct {
	CanShareFiles bool
	CanShareText  bool
	CanDownload   bool
}

// Metadata is the text shared alongside, or instead of, the image.
type Metadata struct {
	Title string
	Text  string
}

// MetadataFor builds share text carrying the verdict and its confidence.
func MetadataFor(result *interpreter.ClassificationResult) Metadata {
	return Metadata{Title: ShareTitle, Text: result.Summary()}
}

// Platform is a share target. Probe must be cheap and side-effect free.
type Platform interface {
	Probe() Capabilities
	ShareFile(ctx context.Context, filename string, png []byte, meta Metadata) error
	ShareText(ctx context.Context, meta Metadata) error
}

// Downloader saves an image locally and returns where it went.
type Downloader interface {
	Save(ctx context.Context, filename string, data []byte) (string, error)
}

// DirectoryDownloader writes downloads into Dir.
type DirectoryDownloader struct {
	Dir string
}

func (d DirectoryDownloader) Save(ctx context.Context, filename string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	dir := d.Dir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, filepath.Base(filename))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// DeferredDownloader persists nothing. It serves callers that deliver the
// image themselves, such as an HTTP response rendered on request, and only
// reports the file name the image is offered under.
type DeferredDownloader struct{}

func (DeferredDownloader) Save(ctx context.Context, filename string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return filepath.Base(filename), nil
}

// ResultFilename names the image of one stored result.
func ResultFilename(requestID string) string {
	if requestID == "" {
		return DefaultFilename
	}
	return strings.TrimSuffix(DefaultFilename, ".png") + "-" + filepath.Base(requestID) + ".png"
}

// Export paths, also used as metric labels.
const (
	PathShareFile = "share_file"
	PathShareText = "share_text"
	PathDownload  = "download"
)

// Report says how an export was delivered.
type Report struct {
	Path     string
	Location string
}

// Exporter captures results and delivers them.
type Exporter struct {
	renderer   *Renderer
	platform   Platform
	downloader Downloader
	metrics    *metrics.Collectors
	logger     *zap.Logger
}

// NewExporter wires an exporter; platform and downloader may be nil.
func NewExporter(renderer *Renderer, platform Platform, downloader Downloader, collectors *metrics.Collectors, logger *zap.Logger) *Exporter {
	if renderer == nil {
		renderer = NewRenderer()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{
		renderer:   renderer,
		platform:   platform,
		downloader: downloader,
		metrics:    collectors,
		logger:     logger.Named("capture"),
	}
}

// ProbeCapabilities inspects p; a nil platform can do nothing.
func ProbeCapabilities(p Platform) Capabilities {
	if p == nil {
		return Capabilities{}
	}
	return p.Probe()
}

// Capabilities combines the platform probe with local download support.
func (e *Exporter) Capabilities() Capabilities {
	caps := ProbeCapabilities(e.platform)
	caps.CanDownload = e.downloader != nil
	return caps
}

// Capture renders view into an artifact.
func (e *Exporter) Capture(view *View) (*Artifact, error) {
	artifact, err := e.renderer.Capture(view)
	if err != nil {
		e.logger.Error("capture failed", zap.Error(err))
		return nil, err
	}
	return artifact, nil
}

// Share offers the artifact to the platform. Files are preferred, text-only
// metadata is the fallback. It returns false instead of failing when nothing
// could be shared.
func (e *Exporter) Share(ctx context.Context, artifact *Artifact, meta Metadata) bool {
	path, ok := e.share(ctx, artifact, DefaultFilename, meta)
	if ok {
		e.metrics.ObserveExport(path)
	}
	return ok
}

func (e *Exporter) share(ctx context.Context, artifact *Artifact, filename string, meta Metadata) (path string, ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error("share platform panicked", zap.Any("panic", rec))
			path, ok = "", false
		}
	}()

	caps := ProbeCapabilities(e.platform)
	switch {
	case caps.CanShareFiles && artifact != nil:
		data, err := artifact.PNG()
		if err != nil {
			e.logger.Warn("encode artifact for sharing failed", zap.Error(err))
			return "", false
		}
		if err := e.platform.ShareFile(ctx, filename, data, meta); err != nil {
			e.logger.Warn("sharing screenshot failed", zap.Error(err))
			return "", false
		}
		return PathShareFile, true
	case caps.CanShareText:
		if err := e.platform.ShareText(ctx, meta); err != nil {
			e.logger.Warn("sharing result text failed", zap.Error(err))
			return "", false
		}
		return PathShareText, true
	default:
		return "", false
	}
}

// Download saves the artifact under filename, or DefaultFilename when empty.
func (e *Exporter) Download(ctx context.Context, artifact *Artifact, filename string) (string, error) {
	if filename == "" {
		filename = DefaultFilename
	}
	if e.downloader == nil {
		return "", failure.New(failure.Capture, "downloads are not available")
	}
	if artifact == nil {
		return "", failure.New(failure.Capture, CaptureFailedMessage)
	}
	data, err := artifact.PNG()
	if err != nil {
		return "", failure.Wrap(failure.Capture, CaptureFailedMessage, err)
	}
	location, err := e.downloader.Save(ctx, filename, data)
	if err != nil {
		wrapped := logging.NewOperationError("capture.download", "", err)
		e.logger.Error("saving result image failed", zap.Error(wrapped), zap.String("file_name", filename))
		return "", failure.Wrap(failure.Capture, "couldn't save result image", wrapped)
	}
	e.metrics.ObserveExport(PathDownload)
	return location, nil
}

// Export captures view, tries to share it and falls back to a download.
func (e *Exporter) Export(ctx context.Context, view *View) (*Report, error) {
	return e.ExportAs(ctx, view, DefaultFilename)
}

// ExportAs is Export with an explicit file name for the shared or saved image.
func (e *Exporter) ExportAs(ctx context.Context, view *View, filename string) (*Report, error) {
	if filename == "" {
		filename = DefaultFilename
	}
	artifact, err := e.Capture(view)
	if err != nil {
		return nil, err
	}
	meta := MetadataFor(view.Result)
	if path, ok := e.share(ctx, artifact, filename, meta); ok {
		e.metrics.ObserveExport(path)
		return &Report{Path: path}, nil
	}
	location, err := e.Download(ctx, artifact, filename)
	if err != nil {
		return nil, fmt.Errorf("export result: %w", err)
	}
	return &Report{Path: PathDownload, Location: location}, nil
}
