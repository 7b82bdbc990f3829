package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/example/audio-check/internal/auth"
	"github.com/example/audio-check/internal/capture"
	"github.com/example/audio-check/internal/failure"
	"github.com/example/audio-check/internal/interpreter"
	"github.com/example/audio-check/internal/session"
	"github.com/example/audio-check/internal/transport"
	"github.com/example/audio-check/internal/usecase"
)

// MaxUploadSize is the default limit for uploaded audio.
const MaxUploadSize = 25 << 20

// multipartOverhead leaves room for boundaries and part headers around the file.
const multipartOverhead = 1 << 16

// AnalysisService is the use case surface the HTTP layer drives.
type AnalysisService interface {
	Analyze(ctx context.Context, userID string, req *transport.UploadRequest) (*usecase.Analysis, error)
	GetResult(ctx context.Context, userID, requestID string) (*usecase.Analysis, error)
	GetDuplicateReport(ctx context.Context, userID, requestID string) (*usecase.DuplicateReport, error)
	ListHistory(ctx context.Context, userID string, limit int) ([]*usecase.Analysis, error)
	GetMetricsSummary(ctx context.Context, userID string) (*usecase.MetricsSummary, error)
	RenderCapture(ctx context.Context, userID, requestID string, theme session.Theme) (*capture.Artifact, error)
	ShareResult(ctx context.Context, userID, requestID string, theme session.Theme) (*capture.Report, error)
}

// Options tunes the routes; zero values pick the defaults.
type Options struct {
	MaxUploadBytes int64
	Metrics        http.Handler
}

type resultResponse struct {
	RequestID       string    `json:"request_id"`
	FileName        string    `json:"file_name"`
	Verdict         string    `json:"verdict"`
	Authentic       bool      `json:"authentic"`
	Confidence      int       `json:"confidence"`
	RealProbability int       `json:"real_probability"`
	FakeProbability int       `json:"fake_probability"`
	RealConfidence  string    `json:"real_confidence"`
	FakeConfidence  string    `json:"fake_confidence"`
	Label           string    `json:"label,omitempty"`
	AudioSHA256     string    `json:"audio_sha256"`
	CreatedAt       time.Time `json:"created_at"`
}

func present(a *usecase.Analysis) resultResponse {
	r := a.Result
	return resultResponse{
		RequestID:       a.RequestID,
		FileName:        a.FileName,
		Verdict:         r.Verdict(),
		Authentic:       r.IsAuthentic,
		Confidence:      interpreter.Percent(r.Confidence()),
		RealProbability: interpreter.Percent(r.RealProbability),
		FakeProbability: interpreter.Percent(r.FakeProbability),
		RealConfidence:  string(r.RealBand),
		FakeConfidence:  string(r.FakeBand),
		Label:           r.Label,
		AudioSHA256:     a.AudioDigest,
		CreatedAt:       a.CreatedAt,
	}
}

func presentAll(list []*usecase.Analysis) []resultResponse {
	out := make([]resultResponse, 0, len(list))
	for _, a := range list {
		out = append(out, present(a))
	}
	return out
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, svc AnalysisService, authMiddleware gin.HandlerFunc, opts Options) {
	maxUpload := opts.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = MaxUploadSize
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if opts.Metrics != nil {
		router.GET("/metrics", gin.WrapH(opts.Metrics))
	}

	protected := router.Group("/")
	if authMiddleware != nil {
		protected.Use(authMiddleware)
	}

	protected.POST("/analyze", func(c *gin.Context) {
		userID, ok := auth.GetUserID(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUpload+multipartOverhead)
		fileHeader, err := c.FormFile("file")
		if err != nil {
			if isTooLarge(err) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "Please select a file."})
			return
		}

		if fileHeader.Size > maxUpload {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
			return
		}

		if !isAudio(fileHeader.Header.Get("Content-Type"), fileHeader.Filename) {
			c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "unsupported audio format"})
			return
		}

		src, err := fileHeader.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open file"})
			return
		}
		defer src.Close()

		req, err := transport.ReadUploadRequest(fileHeader.Filename, src)
		if err != nil {
			writeError(c, err)
			return
		}

		analysis, err := svc.Analyze(c.Request.Context(), userID, req)
		if err != nil {
			writeError(c, err)
			return
		}

		c.JSON(http.StatusOK, present(analysis))
	})

	protected.GET("/results", func(c *gin.Context) {
		userID, _ := auth.GetUserID(c.Request.Context())
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

		history, err := svc.ListHistory(c.Request.Context(), userID, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load history"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"results": presentAll(history)})
	})

	protected.GET("/results/:id", func(c *gin.Context) {
		userID, _ := auth.GetUserID(c.Request.Context())
		requestID := c.Param("id")

		analysis, err := svc.GetResult(c.Request.Context(), userID, requestID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, present(analysis))
	})

	protected.GET("/results/:id/duplicates", func(c *gin.Context) {
		userID, _ := auth.GetUserID(c.Request.Context())
		requestID := c.Param("id")

		report, err := svc.GetDuplicateReport(c.Request.Context(), userID, requestID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"request":    present(report.Request),
			"duplicates": presentAll(report.Duplicates),
		})
	})

	protected.GET("/results/:id/capture.png", func(c *gin.Context) {
		userID, _ := auth.GetUserID(c.Request.Context())
		requestID := c.Param("id")

		artifact, err := svc.RenderCapture(c.Request.Context(), userID, requestID, themeParam(c))
		if err != nil {
			writeError(c, err)
			return
		}
		data, err := artifact.PNG()
		if err != nil {
			writeError(c, failure.Wrap(failure.Capture, capture.CaptureFailedMessage, err))
			return
		}
		c.Header("Content-Disposition", `attachment; filename="`+capture.ResultFilename(requestID)+`"`)
		c.Data(http.StatusOK, "image/png", data)
	})

	protected.POST("/results/:id/share", func(c *gin.Context) {
		userID, _ := auth.GetUserID(c.Request.Context())
		requestID := c.Param("id")

		report, err := svc.ShareResult(c.Request.Context(), userID, requestID, themeParam(c))
		if err != nil {
			writeError(c, err)
			return
		}
		body := gin.H{"path": report.Path}
		if report.Path == capture.PathDownload {
			body["download_url"] = "/results/" + requestID + "/capture.png"
		}
		c.JSON(http.StatusOK, body)
	})

	protected.GET("/metrics/summary", func(c *gin.Context) {
		userID, _ := auth.GetUserID(c.Request.Context())

		summary, err := svc.GetMetricsSummary(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to aggregate metrics"})
			return
		}
		c.JSON(http.StatusOK, summary)
	})
}

// writeError maps use case and pipeline errors to a status and the user-facing message.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, usecase.ErrSubmissionInFlight):
		c.JSON(http.StatusConflict, gin.H{"error": "an analysis is already in progress"})
		return
	case errors.Is(err, usecase.ErrResultNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
		return
	case errors.Is(err, usecase.ErrResultProcessing):
		c.JSON(http.StatusAccepted, gin.H{"status": "processing"})
		return
	}

	kind := failure.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case failure.Validation:
		status = http.StatusBadRequest
	case failure.Network, failure.HTTP, failure.ServiceUnavailable, failure.Parse, failure.MalformedResponse:
		status = http.StatusBadGateway
	}
	c.JSON(status, gin.H{"error": failure.UserMessage(err), "kind": kind})
}

// isAudio trusts an audio/* part type; generic or missing types fall back to the extension.
func isAudio(contentType, filename string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if strings.HasPrefix(ct, "audio/") {
		return true
	}
	if ct != "" && ct != "application/octet-stream" {
		return false
	}
	_, ok := transport.AudioContentType(filename)
	return ok
}

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return true
	}
	return strings.Contains(err.Error(), "request body too large")
}

func themeParam(c *gin.Context) session.Theme {
	if theme, err := session.ParseTheme(c.Query("theme")); err == nil && theme != session.ThemeSystem {
		return theme
	}
	return session.ThemeLight
}
