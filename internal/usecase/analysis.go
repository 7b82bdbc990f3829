package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/audio-check/internal/capture"
	"github.com/example/audio-check/internal/events"
	"github.com/example/audio-check/internal/interpreter"
	"github.com/example/audio-check/internal/logging"
	"github.com/example/audio-check/internal/repository"
	"github.com/example/audio-check/internal/session"
	"github.com/example/audio-check/internal/transport"
)

const processingMarker = "processing"

var (
	// ErrResultNotFound means no analysis with that id belongs to the user.
	ErrResultNotFound = errors.New("result not found")
	// ErrResultProcessing means the analysis is still running.
	ErrResultProcessing = errors.New("result is still processing")
)

// AnalysisRepository defines the persistence operations needed by the use case.
type AnalysisRepository interface {
	SaveRecord(ctx context.Context, record *repository.AnalysisRecord) error
	FindByRequestIDAndUser(ctx context.Context, requestID, userID string) (*repository.AnalysisRecord, error)
	FindDuplicatesByDigest(ctx context.Context, userID, digest, excludeRequestID string) ([]*repository.AnalysisRecord, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*repository.AnalysisRecord, error)
	AggregateMetrics(ctx context.Context, userID string) (*repository.MetricsAggregation, error)
}

// Analysis is a finished submission as served to clients and kept in the cache.
type Analysis struct {
	RequestID   string                            `json:"request_id"`
	UserID      string                            `json:"user_id"`
	FileName    string                            `json:"file_name"`
	AudioDigest string                            `json:"audio_sha256"`
	Result      *interpreter.ClassificationResult `json:"result"`
	CreatedAt   time.Time                         `json:"created_at"`
}

// DuplicateReport lists earlier analyses of the same audio.
type DuplicateReport struct {
	Request    *Analysis
	Duplicates []*Analysis
}

// AnalysisDeps groups the collaborators of AnalysisUseCase. Publisher may be nil.
type AnalysisDeps struct {
	Repository  AnalysisRepository
	Cache       Cache
	Registry    *OrchestratorRegistry
	Interpreter *interpreter.Interpreter
	Exporter    *capture.Exporter
	Publisher   events.Publisher
}

// AnalysisUseCase encapsulates business logic for the server analysis flow.
type AnalysisUseCase struct {
	repo           AnalysisRepository
	cache          Cache
	registry       *OrchestratorRegistry
	interp         *interpreter.Interpreter
	exporter       *capture.Exporter
	publisher      events.Publisher
	logger         *zap.Logger
	now            func() time.Time
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewAnalysisUseCase constructs a new use case instance.
func NewAnalysisUseCase(deps AnalysisDeps, logger *zap.Logger) *AnalysisUseCase {
	publisher := deps.Publisher
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	interp := deps.Interpreter
	if interp == nil {
		interp = interpreter.New(interpreter.FieldMapping{}, interpreter.Thresholds{})
	}
	return &AnalysisUseCase{
		repo:           deps.Repository,
		cache:          deps.Cache,
		registry:       deps.Registry,
		interp:         interp,
		exporter:       deps.Exporter,
		publisher:      publisher,
		logger:         logger.Named("analysis_usecase"),
		now:            time.Now,
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// Analyze runs one orchestrated submission for userID, then persists, caches
// and announces the verdict. A user may only have one analysis in flight.
func (uc *AnalysisUseCase) Analyze(ctx context.Context, userID string, req *transport.UploadRequest) (*Analysis, error) {
	orchestrator := uc.registry.Get(userID)
	if orchestrator.Busy() {
		return nil, ErrSubmissionInFlight
	}

	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.analyze", requestID)

	cacheKey := resultKey(requestID)
	if err := uc.withRedisRetry(ctx, requestID, "cache.set.processing", func() error {
		return uc.cache.Set(ctx, cacheKey, processingValue(userID), time.Minute)
	}); err != nil {
		opLogger.Error("failed to set processing flag", zap.Error(err))
		return nil, err
	}
	stored := false
	defer func() {
		if !stored {
			uc.clearProcessing(context.WithoutCancel(ctx), cacheKey, requestID)
		}
	}()

	presentation, err := orchestrator.Submit(ctx, req)
	if err != nil {
		if errors.Is(err, ErrSubmissionInFlight) {
			return nil, err
		}
		wrapped := logging.NewOperationError("usecase.submit", requestID, err)
		opLogger.Warn("submission failed", zap.Error(wrapped))
		return nil, wrapped
	}

	analysis := &Analysis{
		RequestID:   requestID,
		UserID:      userID,
		FileName:    presentation.FileName,
		AudioDigest: req.Digest(),
		Result:      presentation.Result,
		CreatedAt:   uc.now().UTC(),
	}
	record := &repository.AnalysisRecord{
		RequestID:       requestID,
		UserID:          userID,
		FileName:        analysis.FileName,
		AudioDigest:     analysis.AudioDigest,
		RealProbability: analysis.Result.RealProbability,
		FakeProbability: analysis.Result.FakeProbability,
		Authentic:       analysis.Result.IsAuthentic,
		Label:           analysis.Result.Label,
		CreatedAt:       analysis.CreatedAt,
	}
	if err := uc.repo.SaveRecord(ctx, record); err != nil {
		wrapped := logging.NewOperationError("usecase.save_record", requestID, err)
		opLogger.Error("failed to persist analysis record", zap.Error(wrapped))
		return nil, wrapped
	}

	serialized, err := json.Marshal(analysis)
	if err != nil {
		opLogger.Error("failed to serialize analysis", zap.Error(err))
		return nil, err
	}
	if err := uc.withRedisRetry(ctx, requestID, "cache.set.result", func() error {
		return uc.cache.Set(ctx, cacheKey, string(serialized), 5*time.Minute)
	}); err != nil {
		opLogger.Error("failed to cache analysis", zap.Error(err))
		return nil, err
	}
	stored = true

	if err := uc.publisher.PublishVerdict(ctx, events.VerdictEvent{
		RequestID:       requestID,
		UserID:          userID,
		FileName:        analysis.FileName,
		Authentic:       analysis.Result.IsAuthentic,
		RealProbability: analysis.Result.RealProbability,
		FakeProbability: analysis.Result.FakeProbability,
		CreatedAt:       analysis.CreatedAt,
	}); err != nil {
		opLogger.Warn("verdict event not published", zap.Error(err))
	}

	return analysis, nil
}

// GetResult returns a cached analysis or loads it from persistence. Results
// owned by another user are reported as not found.
func (uc *AnalysisUseCase) GetResult(ctx context.Context, userID, requestID string) (*Analysis, error) {
	opLogger := logging.WithOperation(uc.logger, "usecase.get_result", requestID)
	cached, err := uc.withRedisGet(ctx, requestID, "cache.get.result", resultKey(requestID))
	switch {
	case err == nil && strings.HasPrefix(cached, processingMarker+":"):
		if strings.TrimPrefix(cached, processingMarker+":") != userID {
			return nil, ErrResultNotFound
		}
		return nil, ErrResultProcessing
	case err == nil:
		var payload Analysis
		if err := json.Unmarshal([]byte(cached), &payload); err != nil {
			opLogger.Warn("failed to decode cached result", zap.Error(err))
		} else if payload.UserID != userID {
			return nil, ErrResultNotFound
		} else {
			return &payload, nil
		}
	case !errors.Is(err, ErrCacheMiss):
		opLogger.Warn("failed to read cache", zap.Error(err))
	}

	record, err := uc.repo.FindByRequestIDAndUser(ctx, requestID, userID)
	if err != nil {
		return nil, uc.notFound(err)
	}
	return uc.fromRecord(record), nil
}

// GetDuplicateReport finds the user's other analyses of the same audio.
func (uc *AnalysisUseCase) GetDuplicateReport(ctx context.Context, userID, requestID string) (*DuplicateReport, error) {
	record, err := uc.repo.FindByRequestIDAndUser(ctx, requestID, userID)
	if err != nil {
		return nil, uc.notFound(err)
	}

	duplicates, err := uc.repo.FindDuplicatesByDigest(ctx, userID, record.AudioDigest, record.RequestID)
	if err != nil {
		return nil, err
	}

	report := &DuplicateReport{Request: uc.fromRecord(record), Duplicates: make([]*Analysis, 0, len(duplicates))}
	for _, d := range duplicates {
		report.Duplicates = append(report.Duplicates, uc.fromRecord(d))
	}
	return report, nil
}

// ListHistory returns the user's most recent analyses.
func (uc *AnalysisUseCase) ListHistory(ctx context.Context, userID string, limit int) ([]*Analysis, error) {
	records, err := uc.repo.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	history := make([]*Analysis, 0, len(records))
	for _, r := range records {
		history = append(history, uc.fromRecord(r))
	}
	return history, nil
}

// RenderCapture draws the result card of a stored analysis.
func (uc *AnalysisUseCase) RenderCapture(ctx context.Context, userID, requestID string, theme session.Theme) (*capture.Artifact, error) {
	analysis, err := uc.GetResult(ctx, userID, requestID)
	if err != nil {
		return nil, err
	}
	return uc.exporter.Capture(viewOf(analysis, theme))
}

// ShareResult shares the result card, falling back to saving it, and reports
// which path delivered it.
func (uc *AnalysisUseCase) ShareResult(ctx context.Context, userID, requestID string, theme session.Theme) (*capture.Report, error) {
	analysis, err := uc.GetResult(ctx, userID, requestID)
	if err != nil {
		return nil, err
	}
	report, err := uc.exporter.ExportAs(ctx, viewOf(analysis, theme), capture.ResultFilename(analysis.RequestID))
	if err != nil {
		logging.WithOperation(uc.logger, "usecase.share_result", requestID).Warn("export failed", zap.Error(err))
		return nil, err
	}
	return report, nil
}

// processingValue marks a request as running for its owner only.
func processingValue(userID string) string {
	return processingMarker + ":" + userID
}

func (uc *AnalysisUseCase) clearProcessing(ctx context.Context, cacheKey, requestID string) {
	if err := uc.withRedisRetry(ctx, requestID, "cache.delete.processing", func() error {
		return uc.cache.Delete(ctx, cacheKey)
	}); err != nil {
		logging.WithOperation(uc.logger, "usecase.analyze", requestID).Warn("failed to clear processing flag", zap.Error(err))
	}
}

func viewOf(a *Analysis, theme session.Theme) *capture.View {
	return &capture.View{FileName: a.FileName, Result: a.Result, Theme: theme}
}

func (uc *AnalysisUseCase) fromRecord(r *repository.AnalysisRecord) *Analysis {
	return &Analysis{
		RequestID:   r.RequestID,
		UserID:      r.UserID,
		FileName:    r.FileName,
		AudioDigest: r.AudioDigest,
		Result:      uc.interp.Classify(r.RealProbability, r.FakeProbability, r.Label),
		CreatedAt:   r.CreatedAt,
	}
}

func (uc *AnalysisUseCase) notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrResultNotFound
	}
	return err
}

func resultKey(requestID string) string {
	return fmt.Sprintf("analysis:%s", requestID)
}

func (uc *AnalysisUseCase) withRedisRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	if uc.retryAttempts <= 1 {
		return logging.NewOperationError(operation, requestID, fn())
	}

	backoff := uc.initialBackoff
	opLogger := logging.WithOperation(uc.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < uc.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewRetriedOperationError(operation, requestID, attempt, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= uc.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("cache operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if errors.Is(err, ErrCacheMiss) {
			return err
		}
		if !logging.IsTransient(err) || attempt == uc.retryAttempts-1 {
			opLogger.Error("cache operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewRetriedOperationError(operation, requestID, attempt+1, err)
		}

		opLogger.Warn("transient cache error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewRetriedOperationError(operation, requestID, uc.retryAttempts, err)
}

func (uc *AnalysisUseCase) withRedisGet(ctx context.Context, requestID, operation, cacheKey string) (string, error) {
	var result string
	err := uc.withRedisRetry(ctx, requestID, operation, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}
