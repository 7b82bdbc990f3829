package cli

import (
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/example/audio-check/internal/capture"
	"github.com/example/audio-check/internal/config"
	"github.com/example/audio-check/internal/interpreter"
	"github.com/example/audio-check/internal/metrics"
	"github.com/example/audio-check/internal/transport"
)

func newInterpreter(cfg *config.Config) *interpreter.Interpreter {
	return interpreter.New(
		interpreter.FieldMapping{
			RealProbability: cfg.Fields.RealProbability,
			FakeProbability: cfg.Fields.FakeProbability,
			Label:           cfg.Fields.Label,
		},
		interpreter.Thresholds{
			VeryHigh: cfg.Bands.VeryHigh,
			High:     cfg.Bands.High,
			Moderate: cfg.Bands.Moderate,
			Low:      cfg.Bands.Low,
		},
	)
}

// newTransport builds the upload client; tokens may be nil.
func newTransport(cfg *config.Config, tokens transport.TokenSource, collectors *metrics.Collectors, logger *zap.Logger) *transport.Client {
	return transport.New(transport.Options{
		Endpoint:           cfg.UploadURL(),
		IncludeCredentials: cfg.API.IncludeCredentials,
		Timeout:            cfg.API.RequestTimeout,
		Tokens:             tokens,
		Metrics:            collectors,
	}, logger)
}

// newExporter shares through Telegram when it is configured and saves into dir.
func newExporter(cfg *config.Config, dir string, collectors *metrics.Collectors, logger *zap.Logger) *capture.Exporter {
	if dir == "" {
		dir = cfg.Export.Dir
	}
	return capture.NewExporter(capture.NewRenderer(), telegramPlatform(cfg, logger), capture.DirectoryDownloader{Dir: dir}, collectors, logger)
}

// newServerExporter never writes to disk: a download is the capture.png
// response. Results reach Telegram only when the operator opted in.
func newServerExporter(cfg *config.Config, collectors *metrics.Collectors, logger *zap.Logger) *capture.Exporter {
	var platform capture.Platform
	switch {
	case cfg.Export.ShareServerResults:
		platform = telegramPlatform(cfg, logger)
	case cfg.Export.TelegramToken != "":
		logger.Warn("telegram token ignored by the server, set export.share_server_results to post every user's results into the chat")
	}
	return capture.NewExporter(capture.NewRenderer(), platform, capture.DeferredDownloader{}, collectors, logger)
}

func telegramPlatform(cfg *config.Config, logger *zap.Logger) capture.Platform {
	if cfg.Export.TelegramToken == "" {
		return nil
	}
	tg, err := capture.NewTelegramPlatform(cfg.Export.TelegramToken, cfg.Export.TelegramChatID)
	if err != nil {
		logger.Warn("telegram sharing disabled", zap.Error(err))
		return nil
	}
	return tg
}

// systemPrefersDark reads the terminal background from COLORFGBG ("fg;bg"),
// where background colours 0-6 and 8 are dark.
func systemPrefersDark() bool {
	v := os.Getenv("COLORFGBG")
	if v == "" {
		return false
	}
	parts := strings.Split(v, ";")
	bg, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil {
		return false
	}
	return bg == 8 || (bg >= 0 && bg <= 6)
}
