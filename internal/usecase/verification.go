package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/example/medverify/internal/analysis"
	"github.com/example/medverify/internal/domain"
	"github.com/example/medverify/internal/logging"
	"github.com/example/medverify/internal/repository"
)

var (
	// ErrNotFound is returned when a request id is unknown.
	ErrNotFound = errors.New("verification not found")
	// ErrPersistenceDisabled is returned by queries that need the analysis log.
	ErrPersistenceDisabled = errors.New("analysis log is not configured")
)

// NoVerdictError reports a known request whose analysis ended without a verdict.
type NoVerdictError struct {
	RequestID string
	Outcome   string
}

func (e *NoVerdictError) Error() string {
	return fmt.Sprintf("request %s produced no verdict (%s)", e.RequestID, e.Outcome)
}

// RequestError carries the request id of a failed verification alongside the
// analysis error, which stays reachable through errors.Is and errors.As.
type RequestError struct {
	RequestID string
	Err       error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request %s: %v", e.RequestID, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// OutcomeProcessing is reported for a request whose analysis is still running.
const OutcomeProcessing = "processing"

// outcomePrefix marks a cached request that ended without a verdict.
const outcomePrefix = "outcome:"

// AnalysisRepository defines the persistence operations needed by the use case.
type AnalysisRepository interface {
	SaveRecord(ctx context.Context, record *repository.AnalysisRecord) error
	FindByRequestID(ctx context.Context, requestID string) (*repository.AnalysisRecord, error)
	FindDuplicatesByHash(ctx context.Context, hash, excludeRequestID string) ([]*repository.AnalysisRecord, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// Analyzer runs the authentication pipeline.
type Analyzer interface {
	Analyze(ctx context.Context, in analysis.Input) (*domain.AnalysisResult, error)
}

// Upload is an image received from an acquisition front-end.
type Upload struct {
	Data        []byte
	ContentType string
}

// Verification is a completed analysis together with its request metadata.
type Verification struct {
	RequestID string                 `json:"requestId"`
	ImageHash string                 `json:"imageHash"`
	CreatedAt time.Time              `json:"createdAt"`
	Result    *domain.AnalysisResult `json:"result"`
}

// DuplicateReport lists earlier analyses of the same image bytes.
type DuplicateReport struct {
	Request    *repository.AnalysisRecord
	Duplicates []*repository.AnalysisRecord
}

// VerificationUseCase wraps the analyzer with request ids, result caching and the
// analysis log.
type VerificationUseCase struct {
	repo           AnalysisRepository
	cache          Cache
	analyzer       Analyzer
	logger         *zap.Logger
	resultTTL      time.Duration
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	counters       *counters
}

// NewVerificationUseCase constructs a new use case instance. repo may be nil, in which
// case nothing is persisted and results live only in the cache.
func NewVerificationUseCase(repo AnalysisRepository, cache Cache, analyzer Analyzer, resultTTL time.Duration, logger *zap.Logger) *VerificationUseCase {
	if resultTTL <= 0 {
		resultTTL = 10 * time.Minute
	}
	return &VerificationUseCase{
		repo:           repo,
		cache:          cache,
		analyzer:       analyzer,
		logger:         logger.Named("verification_usecase"),
		resultTTL:      resultTTL,
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
		counters:       newCounters(),
	}
}

// VerifyImage analyses an upload. Analysis errors come back wrapped in a
// *RequestError so callers can both report the request id and tell a rejected
// image from a timeout or an internal failure.
func (uc *VerificationUseCase) VerifyImage(ctx context.Context, upload Upload) (*Verification, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.verify_image", requestID)

	cacheKey := resultKey(requestID)
	if err := uc.withCacheRetry(ctx, requestID, "cache.set.processing", func() error {
		return uc.cache.Set(ctx, cacheKey, OutcomeProcessing, uc.resultTTL)
	}); err != nil {
		opLogger.Error("failed to set processing flag", zap.Error(err))
		return nil, err
	}

	hash := sha1.Sum(upload.Data)
	record := &repository.AnalysisRecord{
		RequestID:   requestID,
		ImageHash:   hex.EncodeToString(hash[:]),
		ContentType: upload.ContentType,
		CreatedAt:   time.Now().UTC(),
	}

	uc.counters.inFlight.Inc()
	started := time.Now()
	result, err := uc.analyzer.Analyze(ctx, analysis.Input{Data: upload.Data, ContentType: upload.ContentType})
	record.LatencyMs = time.Since(started).Milliseconds()
	uc.counters.inFlight.Dec()

	if err != nil {
		record.Outcome = classifyOutcome(err)
		record.ErrorDetail = err.Error()
		uc.counters.record(record)
		opLogger.Warn("analysis produced no verdict", zap.String("outcome", record.Outcome), zap.Error(err))
		// Cancellation means the caller is gone; the audit entry and the
		// outcome marker still matter.
		detached := context.WithoutCancel(ctx)
		uc.saveRecord(detached, record, opLogger)
		if cacheErr := uc.withCacheRetry(detached, requestID, "cache.set.outcome", func() error {
			return uc.cache.Set(detached, cacheKey, outcomePrefix+record.Outcome, uc.resultTTL)
		}); cacheErr != nil {
			opLogger.Error("failed to replace processing flag", zap.Error(cacheErr))
		}
		return nil, &RequestError{RequestID: requestID, Err: err}
	}

	verification := &Verification{
		RequestID: requestID,
		ImageHash: record.ImageHash,
		CreatedAt: record.CreatedAt,
		Result:    result,
	}
	serialized, err := json.Marshal(verification)
	if err != nil {
		opLogger.Error("failed to serialize verification result", zap.Error(err))
		return nil, err
	}

	record.Outcome = repository.OutcomeCompleted
	record.Authentic = result.Authentic
	record.Confidence = result.Confidence
	record.ResultJSON = string(serialized)
	if result.MatchedMedicine != nil {
		record.MatchedMedicineID = result.MatchedMedicine.ID
	}
	uc.counters.record(record)
	uc.saveRecord(ctx, record, opLogger)

	if err := uc.withCacheRetry(ctx, requestID, "cache.set.result", func() error {
		return uc.cache.Set(ctx, cacheKey, string(serialized), uc.resultTTL)
	}); err != nil {
		opLogger.Error("failed to cache verification result", zap.Error(err))
		return nil, err
	}

	opLogger.Info("verification completed",
		zap.Bool("authentic", result.Authentic),
		zap.Int("confidence", result.Confidence),
		zap.Int64("latency_ms", record.LatencyMs),
	)
	return verification, nil
}

// GetResult retrieves a verification from the cache or, failing that, the analysis log.
func (uc *VerificationUseCase) GetResult(ctx context.Context, requestID string) (*Verification, error) {
	opLogger := logging.WithOperation(uc.logger, "usecase.get_result", requestID)

	cached, err := uc.withCacheGet(ctx, requestID, "cache.get.result", resultKey(requestID))
	switch {
	case err == nil && cached == OutcomeProcessing:
		return nil, &NoVerdictError{RequestID: requestID, Outcome: OutcomeProcessing}
	case err == nil && strings.HasPrefix(cached, outcomePrefix):
		return nil, &NoVerdictError{RequestID: requestID, Outcome: strings.TrimPrefix(cached, outcomePrefix)}
	case err == nil:
		var v Verification
		if err := json.Unmarshal([]byte(cached), &v); err == nil {
			return &v, nil
		}
		opLogger.Warn("failed to decode cached result", zap.Error(err))
	case !isCacheMiss(err):
		opLogger.Warn("failed to read cache", zap.Error(err))
	}

	if uc.repo == nil {
		return nil, ErrNotFound
	}
	record, err := uc.repo.FindByRequestID(ctx, requestID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if record.Outcome != repository.OutcomeCompleted {
		return nil, &NoVerdictError{RequestID: requestID, Outcome: record.Outcome}
	}

	var v Verification
	if err := json.Unmarshal([]byte(record.ResultJSON), &v); err != nil {
		return nil, logging.NewOperationError("usecase.decode_record", requestID, err)
	}
	return &v, nil
}

// GetDuplicateReport lists earlier analyses of the same image as a request.
func (uc *VerificationUseCase) GetDuplicateReport(ctx context.Context, requestID string) (*DuplicateReport, error) {
	if uc.repo == nil {
		return nil, ErrPersistenceDisabled
	}
	record, err := uc.repo.FindByRequestID(ctx, requestID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	duplicates, err := uc.repo.FindDuplicatesByHash(ctx, record.ImageHash, record.RequestID)
	if err != nil {
		return nil, err
	}
	return &DuplicateReport{Request: record, Duplicates: duplicates}, nil
}

func (uc *VerificationUseCase) saveRecord(ctx context.Context, record *repository.AnalysisRecord, opLogger *zap.Logger) {
	if uc.repo == nil {
		return
	}
	if err := uc.repo.SaveRecord(ctx, record); err != nil {
		opLogger.Error("failed to persist analysis record", zap.Error(err))
	}
}

func resultKey(requestID string) string {
	return fmt.Sprintf("verification:%s", requestID)
}

func classifyOutcome(err error) string {
	var (
		timeoutErr    *domain.AnalysisTimeoutError
		extractionErr *domain.ExtractionError
	)
	switch {
	case errors.Is(err, domain.ErrCancelled):
		return repository.OutcomeCancelled
	case errors.As(err, &timeoutErr):
		return repository.OutcomeTimeout
	case errors.As(err, &extractionErr):
		return repository.OutcomeRejected
	default:
		return repository.OutcomeFailed
	}
}

func (uc *VerificationUseCase) withCacheRetry(ctx context.Context, requestID, operation string, fn func() error) error {
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
				return logging.NewOperationErrorAttempts(operation, requestID, attempt, ctx.Err())
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
		if isCacheMiss(err) {
			return err
		}
		if !repository.IsTransientError(err) || attempt == uc.retryAttempts-1 {
			opLogger.Error("cache operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationErrorAttempts(operation, requestID, attempt+1, err)
		}

		opLogger.Warn("transient cache error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationErrorAttempts(operation, requestID, uc.retryAttempts, err)
}

func (uc *VerificationUseCase) withCacheGet(ctx context.Context, requestID, operation, cacheKey string) (string, error) {
	var result string
	err := uc.withCacheRetry(ctx, requestID, operation, func() error {
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

type counters struct {
	inFlight   *atomic.Int64
	total      *atomic.Int64
	completed  *atomic.Int64
	authentic  *atomic.Int64
	rejected   *atomic.Int64
	timeouts   *atomic.Int64
	failed     *atomic.Int64
	cancelled  *atomic.Int64
	confidence *atomic.Int64
	latencyMs  *atomic.Int64
}

func newCounters() *counters {
	return &counters{
		inFlight:   atomic.NewInt64(0),
		total:      atomic.NewInt64(0),
		completed:  atomic.NewInt64(0),
		authentic:  atomic.NewInt64(0),
		rejected:   atomic.NewInt64(0),
		timeouts:   atomic.NewInt64(0),
		failed:     atomic.NewInt64(0),
		cancelled:  atomic.NewInt64(0),
		confidence: atomic.NewInt64(0),
		latencyMs:  atomic.NewInt64(0),
	}
}

func (c *counters) record(r *repository.AnalysisRecord) {
	c.total.Inc()
	c.latencyMs.Add(r.LatencyMs)
	switch r.Outcome {
	case repository.OutcomeCompleted:
		c.completed.Inc()
		c.confidence.Add(int64(r.Confidence))
		if r.Authentic {
			c.authentic.Inc()
		}
	case repository.OutcomeRejected:
		c.rejected.Inc()
	case repository.OutcomeTimeout:
		c.timeouts.Inc()
	case repository.OutcomeFailed:
		c.failed.Inc()
	case repository.OutcomeCancelled:
		c.cancelled.Inc()
	}
}
