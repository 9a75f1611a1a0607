package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/medverify/internal/logging"
)

// Outcome values stored for every analysis attempt.
const (
	OutcomeCompleted = "completed"
	OutcomeRejected  = "rejected"
	OutcomeTimeout   = "timeout"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// ErrNotFound is returned when no record matches.
var ErrNotFound = errors.New("analysis record not found")

// AnalysisRecord is the audit entry of one analysis request. Image bytes are never
// stored, only their hash.
type AnalysisRecord struct {
	ID                uint      `gorm:"primaryKey"`
	RequestID         string    `gorm:"column:request_id;uniqueIndex;size:64"`
	ImageHash         string    `gorm:"column:image_hash;index;size:64"`
	ContentType       string    `gorm:"column:content_type;size:64"`
	Outcome           string    `gorm:"column:outcome;index;size:16"`
	Authentic         bool      `gorm:"column:authentic"`
	Confidence        int       `gorm:"column:confidence"`
	MatchedMedicineID string    `gorm:"column:matched_medicine_id;size:64"`
	ResultJSON        string    `gorm:"column:result_json;type:text"`
	ErrorDetail       string    `gorm:"column:error_detail;type:text"`
	LatencyMs         int64     `gorm:"column:latency_ms"`
	CreatedAt         time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (AnalysisRecord) TableName() string {
	return "analysis_records"
}

// MetricsAggregation is the raw aggregate over all records.
type MetricsAggregation struct {
	TotalCount                 int64
	CompletedCount             int64
	AuthenticCount             int64
	RejectedCount              int64
	TimeoutCount               int64
	FailedCount                int64
	CancelledCount             int64
	AverageConfidence          float64
	AverageProcessingLatencyMs float64
}

// AnalysisRepository persists analysis records with retries on transient errors.
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
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *AnalysisRepository) AutoMigrate(ctx context.Context) error {
	return r.executeWithRetry(ctx, "repository.auto_migrate", "", func() error {
		return r.db.WithContext(ctx).AutoMigrate(&AnalysisRecord{})
	})
}

// SaveRecord persists one analysis record.
func (r *AnalysisRepository) SaveRecord(ctx context.Context, record *AnalysisRecord) error {
	return r.executeWithRetry(ctx, "repository.save_record", record.RequestID, func() error {
		return r.db.WithContext(ctx).Create(record).Error
	})
}

// FindByRequestID retrieves the record of a request.
func (r *AnalysisRepository) FindByRequestID(ctx context.Context, requestID string) (*AnalysisRecord, error) {
	var record AnalysisRecord
	err := r.executeWithRetry(ctx, "repository.find_by_request_id", requestID, func() error {
		return r.db.WithContext(ctx).First(&record, "request_id = ?", requestID).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// FindDuplicatesByHash lists earlier analyses of the same image bytes, newest first.
func (r *AnalysisRepository) FindDuplicatesByHash(ctx context.Context, hash, excludeRequestID string) ([]*AnalysisRecord, error) {
	var records []*AnalysisRecord
	err := r.executeWithRetry(ctx, "repository.find_duplicates", excludeRequestID, func() error {
		return r.db.WithContext(ctx).
			Where("image_hash = ? AND request_id <> ?", hash, excludeRequestID).
			Order("created_at DESC").
			Limit(50).
			Find(&records).Error
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// AggregateMetrics summarises all stored records. Cancelled requests are counted
// separately so rates can leave them out.
func (r *AnalysisRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var agg MetricsAggregation
	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		return aggregateQuery(r.db.WithContext(ctx), &agg).Error
	})
	if err != nil {
		return nil, err
	}
	return &agg, nil
}

func aggregateQuery(tx *gorm.DB, dest *MetricsAggregation) *gorm.DB {
	return tx.Model(&AnalysisRecord{}).
		Select(`COUNT(*) AS total_count,
			COALESCE(SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END), 0) AS completed_count,
			COALESCE(SUM(CASE WHEN outcome = ? AND authentic THEN 1 ELSE 0 END), 0) AS authentic_count,
			COALESCE(SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END), 0) AS rejected_count,
			COALESCE(SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END), 0) AS timeout_count,
			COALESCE(SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END), 0) AS failed_count,
			COALESCE(SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END), 0) AS cancelled_count,
			COALESCE(AVG(CASE WHEN outcome = ? THEN confidence END), 0) AS average_confidence,
			COALESCE(AVG(latency_ms), 0) AS average_processing_latency_ms`,
			OutcomeCompleted, OutcomeCompleted, OutcomeRejected, OutcomeTimeout, OutcomeFailed, OutcomeCancelled, OutcomeCompleted).
		Scan(dest)
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
				return logging.NewOperationErrorAttempts(operation, requestID, attempt, ctx.Err())
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
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if !IsTransientError(err) || attempt == attempts-1 {
			opLogger.Error("database operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationErrorAttempts(operation, requestID, attempt+1, err)
		}
		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationErrorAttempts(operation, requestID, attempts, err)
}

// IsTransientError reports deadline, timeout and temporary network errors.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}
	return false
}
