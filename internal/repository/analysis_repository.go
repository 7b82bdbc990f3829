package repository

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/audio-check/internal/logging"
)

// AnalysisRecord is a persisted verdict. The audio itself is never stored;
// only its SHA-256 digest is kept to find repeat submissions.
type AnalysisRecord struct {
	ID              uint      `gorm:"primaryKey"`
	RequestID       string    `gorm:"column:request_id;uniqueIndex;size:64"`
	UserID          string    `gorm:"column:user_id;index;size:64"`
	FileName        string    `gorm:"column:file_name;size:255"`
	AudioDigest     string    `gorm:"column:audio_sha256;index;size:64"`
	RealProbability float64   `gorm:"column:real_probability"`
	FakeProbability float64   `gorm:"column:fake_probability"`
	Authentic       bool      `gorm:"column:authentic"`
	Label           string    `gorm:"column:label;size:64"`
	CreatedAt       time.Time `gorm:"column:created_at;index"`
}

// TableName overrides the default table name.
func (AnalysisRecord) TableName() string {
	return "analysis_records"
}

// MetricsAggregation is the per-user rollup behind the metrics summary.
type MetricsAggregation struct {
	TotalCount             int64
	AuthenticCount         int64
	AverageRealProbability float64
	AverageFakeProbability float64
}

// AnalysisRepository provides persistence APIs for analysis records.
type AnalysisRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewAnalysisRepository creates a new repository instance.
func NewAnalysisRepository(db *gorm.DB, logger *zap.Logger) *AnalysisRepository {
	return &AnalysisRepository{
		db:             db,
		logger:         logger.Named("analysis_repository"),
		retryAttempts:  3,
		initialBackoff: 100 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *AnalysisRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&AnalysisRecord{})
}

// SaveRecord persists an analysis record, retrying transient failures.
func (r *AnalysisRepository) SaveRecord(ctx context.Context, record *AnalysisRecord) error {
	return r.executeWithRetry(ctx, "repository.save_record", record.RequestID, func() error {
		return r.db.WithContext(ctx).Create(record).Error
	})
}

// FindByRequestIDAndUser retrieves a record matching the request and owner.
func (r *AnalysisRepository) FindByRequestIDAndUser(ctx context.Context, requestID, userID string) (*AnalysisRecord, error) {
	var record AnalysisRecord
	err := r.executeWithRetry(ctx, "repository.find_record", requestID, func() error {
		return r.db.WithContext(ctx).First(&record, "request_id = ? AND user_id = ?", requestID, userID).Error
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// FindDuplicatesByDigest lists the owner's other records for the same audio.
func (r *AnalysisRepository) FindDuplicatesByDigest(ctx context.Context, userID, digest, excludeRequestID string) ([]*AnalysisRecord, error) {
	var records []*AnalysisRecord
	err := r.executeWithRetry(ctx, "repository.find_duplicates", excludeRequestID, func() error {
		return r.db.WithContext(ctx).
			Where("user_id = ? AND audio_sha256 = ? AND request_id <> ?", userID, digest, excludeRequestID).
			Order("created_at DESC").
			Find(&records).Error
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// ListByUser returns the owner's most recent records, newest first.
func (r *AnalysisRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*AnalysisRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var records []*AnalysisRecord
	err := r.executeWithRetry(ctx, "repository.list_records", "", func() error {
		return r.db.WithContext(ctx).
			Where("user_id = ?", userID).
			Order("created_at DESC").
			Limit(limit).
			Find(&records).Error
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// AggregateMetrics rolls up the owner's history.
func (r *AnalysisRepository) AggregateMetrics(ctx context.Context, userID string) (*MetricsAggregation, error) {
	var aggregation MetricsAggregation
	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		return r.db.WithContext(ctx).
			Model(&AnalysisRecord{}).
			Select(`COUNT(*) AS total_count,
				COALESCE(SUM(CASE WHEN authentic THEN 1 ELSE 0 END), 0) AS authentic_count,
				COALESCE(AVG(real_probability), 0) AS average_real_probability,
				COALESCE(AVG(fake_probability), 0) AS average_fake_probability`).
			Where("user_id = ?", userID).
			Scan(&aggregation).Error
	})
	if err != nil {
		return nil, err
	}
	return &aggregation, nil
}

func (r *AnalysisRepository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	attempts := r.retryAttempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := r.initialBackoff
	opLogger := logging.WithOperation(r.logger, operation, requestID)

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewRetriedOperationError(operation, requestID, attempt, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("database operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !logging.IsTransient(err) || attempt == attempts-1 {
			opLogger.Error("database operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewRetriedOperationError(operation, requestID, attempt+1, err)
		}

		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewRetriedOperationError(operation, requestID, attempts, err)
}
