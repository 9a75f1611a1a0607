package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/medverify/internal/analysis"
	"github.com/example/medverify/internal/domain"
	"github.com/example/medverify/internal/logging"
	"github.com/example/medverify/internal/repository"
)

type stubRepository struct {
	saved      []*repository.AnalysisRecord
	saveErr    error
	findRecord *repository.AnalysisRecord
	findErr    error
	findCalls  int
	duplicates []*repository.AnalysisRecord
	dupHash    string
	dupExclude string
	agg        *repository.MetricsAggregation
}

func (s *stubRepository) SaveRecord(ctx context.Context, record *repository.AnalysisRecord) error {
	s.saved = append(s.saved, record)
	return s.saveErr
}

func (s *stubRepository) FindByRequestID(ctx context.Context, requestID string) (*repository.AnalysisRecord, error) {
	s.findCalls++
	if s.findErr != nil {
		return nil, s.findErr
	}
	if s.findRecord != nil {
		return s.findRecord, nil
	}
	return nil, repository.ErrNotFound
}

func (s *stubRepository) FindDuplicatesByHash(ctx context.Context, hash, excludeRequestID string) ([]*repository.AnalysisRecord, error) {
	s.dupHash = hash
	s.dupExclude = excludeRequestID
	return s.duplicates, nil
}

func (s *stubRepository) AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error) {
	if s.agg == nil {
		return &repository.MetricsAggregation{}, nil
	}
	return s.agg, nil
}

type stubCache struct {
	setErrs   []error
	getErrs   []error
	getValues []string
	setKeys   []string
	setValues []string
	getKeys   []string
}

func (s *stubCache) Set(ctx context.Context, key string, value string, expiration time.Duration) error {
	s.setKeys = append(s.setKeys, key)
	s.setValues = append(s.setValues, value)
	if len(s.setErrs) == 0 {
		return nil
	}
	err := s.setErrs[0]
	s.setErrs = s.setErrs[1:]
	return err
}

func (s *stubCache) Get(ctx context.Context, key string) (string, error) {
	s.getKeys = append(s.getKeys, key)
	var value string
	if len(s.getValues) > 0 {
		value = s.getValues[0]
		s.getValues = s.getValues[1:]
	}
	var err error
	if len(s.getErrs) > 0 {
		err = s.getErrs[0]
		s.getErrs = s.getErrs[1:]
	}
	return value, err
}

type stubAnalyzer struct {
	result *domain.AnalysisResult
	err    error
	inputs []analysis.Input
}

func (s *stubAnalyzer) Analyze(ctx context.Context, in analysis.Input) (*domain.AnalysisResult, error) {
	s.inputs = append(s.inputs, in)
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

type transientRedisError struct{}

func (transientRedisError) Error() string   { return "redis transient" }
func (transientRedisError) Timeout() bool   { return true }
func (transientRedisError) Temporary() bool { return true }

func authenticResult() *domain.AnalysisResult {
	return &domain.AnalysisResult{
		Authentic:       true,
		Confidence:      92,
		Features:        domain.NewFeatureScores(nil),
		Discrepancies:   []domain.Discrepancy{},
		Recommendations: []string{"Store in a cool, dry place"},
		MatchedMedicine: &domain.MatchedMedicine{ID: "med-001", Name: "Paracetamol 500mg"},
	}
}

func upload() Upload {
	return Upload{Data: []byte("image"), ContentType: "image/png"}
}

func TestVerifyImageRetriesRedisSet(t *testing.T) {
	cache := &stubCache{setErrs: []error{transientRedisError{}}}
	repo := &stubRepository{}
	analyzer := &stubAnalyzer{result: authenticResult()}
	uc := NewVerificationUseCase(repo, cache, analyzer, time.Minute, zap.NewNop())

	v, err := uc.VerifyImage(context.Background(), upload())
	require.NoError(t, err)
	assert.True(t, v.Result.Authentic)
	assert.Equal(t, 92, v.Result.Confidence)

	require.GreaterOrEqual(t, len(cache.setKeys), 3, "retry plus result")
	assert.Equal(t, cache.setKeys[0], cache.setKeys[1], "retry must target the same key")

	require.Len(t, repo.saved, 1)
	record := repo.saved[0]
	assert.Equal(t, repository.OutcomeCompleted, record.Outcome)
	assert.Equal(t, "med-001", record.MatchedMedicineID)
	assert.Equal(t, v.RequestID, record.RequestID)
	assert.Equal(t, v.ImageHash, record.ImageHash)

	require.Len(t, analyzer.inputs, 1)
	assert.Equal(t, "image/png", analyzer.inputs[0].ContentType)
}

func TestVerifyImageReturnsOperationErrorOnCacheFailure(t *testing.T) {
	cache := &stubCache{setErrs: []error{errors.New("boom")}}
	analyzer := &stubAnalyzer{result: authenticResult()}
	uc := NewVerificationUseCase(&stubRepository{}, cache, analyzer, time.Minute, zap.NewNop())

	_, err := uc.VerifyImage(context.Background(), upload())
	var opErr *logging.OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "cache.set.processing", opErr.Operation)
	assert.Empty(t, analyzer.inputs, "analyzer should not run when the processing flag cannot be set")
}

func TestVerifyImageRecordsOutcomeOfFailedAnalysis(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		outcome string
	}{
		{"rejected", &domain.ExtractionError{Reason: "image too small"}, repository.OutcomeRejected},
		{"timeout", &domain.AnalysisTimeoutError{Stage: "extract", Timeout: time.Second}, repository.OutcomeTimeout},
		{"cancelled", domain.ErrCancelled, repository.OutcomeCancelled},
		{"failed", &domain.AnalysisFailedError{Stage: "match", Err: errors.New("boom")}, repository.OutcomeFailed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := &stubRepository{}
			cache := &stubCache{}
			uc := NewVerificationUseCase(repo, cache, &stubAnalyzer{err: tc.err}, time.Minute, zap.NewNop())

			_, err := uc.VerifyImage(context.Background(), upload())
			assert.ErrorIs(t, err, tc.err)

			var reqErr *RequestError
			require.ErrorAs(t, err, &reqErr)
			require.Len(t, repo.saved, 1)
			assert.Equal(t, repo.saved[0].RequestID, reqErr.RequestID)
			assert.Equal(t, tc.outcome, repo.saved[0].Outcome)
			assert.NotEmpty(t, repo.saved[0].ErrorDetail)

			require.Len(t, cache.setValues, 2)
			assert.Equal(t, "processing", cache.setValues[0])
			assert.Equal(t, "outcome:"+tc.outcome, cache.setValues[1])
			assert.Equal(t, cache.setKeys[0], cache.setKeys[1])
		})
	}
}

func TestGetResultAfterFailedAnalysisReportsOutcome(t *testing.T) {
	failure := &domain.AnalysisFailedError{Stage: "match", Err: errors.New("boom")}
	uc := NewVerificationUseCase(nil, NewMemoryCache(), &stubAnalyzer{err: failure}, time.Minute, zap.NewNop())

	_, err := uc.VerifyImage(context.Background(), upload())
	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	require.NotEmpty(t, reqErr.RequestID)

	_, err = uc.GetResult(context.Background(), reqErr.RequestID)
	var noVerdict *NoVerdictError
	require.ErrorAs(t, err, &noVerdict)
	assert.Equal(t, repository.OutcomeFailed, noVerdict.Outcome)
	assert.Equal(t, reqErr.RequestID, noVerdict.RequestID)
}

func TestVerifyImageCancelledStillReplacesProcessingFlag(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	uc := NewVerificationUseCase(nil, NewMemoryCache(), &stubAnalyzer{err: domain.ErrCancelled}, time.Minute, zap.NewNop())

	_, err := uc.VerifyImage(ctx, upload())
	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)

	_, err = uc.GetResult(context.Background(), reqErr.RequestID)
	var noVerdict *NoVerdictError
	require.ErrorAs(t, err, &noVerdict)
	assert.Equal(t, repository.OutcomeCancelled, noVerdict.Outcome)
}

func TestVerifyImageWithoutRepository(t *testing.T) {
	uc := NewVerificationUseCase(nil, NewMemoryCache(), &stubAnalyzer{result: authenticResult()}, time.Minute, zap.NewNop())

	v, err := uc.VerifyImage(context.Background(), upload())
	require.NoError(t, err)

	got, err := uc.GetResult(context.Background(), v.RequestID)
	require.NoError(t, err)
	assert.Equal(t, v.RequestID, got.RequestID)
	assert.Equal(t, 92, got.Result.Confidence)

	_, err = uc.GetResult(context.Background(), "unknown")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = uc.GetDuplicateReport(context.Background(), v.RequestID)
	assert.ErrorIs(t, err, ErrPersistenceDisabled)
}

func TestGetResultFallsBackToRepositoryWhenCacheMiss(t *testing.T) {
	stored := Verification{RequestID: "req", ImageHash: "abc", Result: authenticResult()}
	payload, err := json.Marshal(stored)
	require.NoError(t, err)

	cache := &stubCache{getErrs: []error{redis.Nil}}
	repo := &stubRepository{findRecord: &repository.AnalysisRecord{
		RequestID:  "req",
		Outcome:    repository.OutcomeCompleted,
		ResultJSON: string(payload),
	}}
	uc := NewVerificationUseCase(repo, cache, &stubAnalyzer{}, time.Minute, zap.NewNop())

	v, err := uc.GetResult(context.Background(), "req")
	require.NoError(t, err)
	assert.Equal(t, "req", v.RequestID)
	assert.Equal(t, "med-001", v.Result.MatchedMedicine.ID)
	assert.Equal(t, 1, repo.findCalls)
}

func TestGetResultReportsRequestWithoutVerdict(t *testing.T) {
	cache := &stubCache{getErrs: []error{ErrCacheMiss}}
	repo := &stubRepository{findRecord: &repository.AnalysisRecord{RequestID: "req", Outcome: repository.OutcomeTimeout}}
	uc := NewVerificationUseCase(repo, cache, &stubAnalyzer{}, time.Minute, zap.NewNop())

	_, err := uc.GetResult(context.Background(), "req")
	var noVerdict *NoVerdictError
	require.ErrorAs(t, err, &noVerdict)
	assert.Equal(t, repository.OutcomeTimeout, noVerdict.Outcome)
}

func TestGetResultFromCachedMarkers(t *testing.T) {
	cases := map[string]string{
		"processing":       "processing",
		"outcome:timeout":  repository.OutcomeTimeout,
		"outcome:rejected": repository.OutcomeRejected,
	}
	for cached, outcome := range cases {
		t.Run(cached, func(t *testing.T) {
			repo := &stubRepository{}
			cache := &stubCache{getValues: []string{cached}}
			uc := NewVerificationUseCase(repo, cache, &stubAnalyzer{}, time.Minute, zap.NewNop())

			_, err := uc.GetResult(context.Background(), "req")
			var noVerdict *NoVerdictError
			require.ErrorAs(t, err, &noVerdict)
			assert.Equal(t, outcome, noVerdict.Outcome)
			assert.Zero(t, repo.findCalls, "a cached marker answers without the analysis log")
		})
	}
}

func TestGetDuplicateReportUsesStoredHash(t *testing.T) {
	repo := &stubRepository{
		findRecord: &repository.AnalysisRecord{RequestID: "req", ImageHash: "hash-1"},
		duplicates: []*repository.AnalysisRecord{{RequestID: "older", ImageHash: "hash-1"}},
	}
	uc := NewVerificationUseCase(repo, &stubCache{}, &stubAnalyzer{}, time.Minute, zap.NewNop())

	report, err := uc.GetDuplicateReport(context.Background(), "req")
	require.NoError(t, err)
	assert.Equal(t, "hash-1", repo.dupHash)
	assert.Equal(t, "req", repo.dupExclude)
	require.Len(t, report.Duplicates, 1)
	assert.Equal(t, "older", report.Duplicates[0].RequestID)
}

func TestGetMetricsSummaryFromProcessCounters(t *testing.T) {
	analyzer := &stubAnalyzer{result: authenticResult()}
	uc := NewVerificationUseCase(nil, NewMemoryCache(), analyzer, time.Minute, zap.NewNop())

	_, err := uc.VerifyImage(context.Background(), upload())
	require.NoError(t, err)
	analyzer.result = nil
	analyzer.err = &domain.ExtractionError{Reason: "not an image"}
	_, _ = uc.VerifyImage(context.Background(), upload())

	summary, err := uc.GetMetricsSummary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "process", summary.Source)
	assert.EqualValues(t, 2, summary.TotalRequests)
	assert.EqualValues(t, 1, summary.CompletedRequests)
	assert.EqualValues(t, 1, summary.RejectedImages)
	assert.Equal(t, 92.0, summary.AverageConfidence)
	assert.Equal(t, 1.0, summary.AuthenticRate)
	assert.Equal(t, 0.5, summary.CompletionRate)
	assert.Zero(t, summary.InFlightRequests)
}

func TestGetMetricsSummaryExcludesCancelledFromCompletionRate(t *testing.T) {
	analyzer := &stubAnalyzer{result: authenticResult()}
	uc := NewVerificationUseCase(nil, NewMemoryCache(), analyzer, time.Minute, zap.NewNop())

	_, err := uc.VerifyImage(context.Background(), upload())
	require.NoError(t, err)
	analyzer.result = nil
	analyzer.err = domain.ErrCancelled
	for i := 0; i < 3; i++ {
		_, _ = uc.VerifyImage(context.Background(), upload())
	}

	summary, err := uc.GetMetricsSummary(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 4, summary.TotalRequests)
	assert.EqualValues(t, 3, summary.CancelledRequests)
	assert.Equal(t, 1.0, summary.CompletionRate)
}

func TestGetMetricsSummaryFromRepository(t *testing.T) {
	repo := &stubRepository{agg: &repository.MetricsAggregation{
		TotalCount:        12,
		CompletedCount:    8,
		AuthenticCount:    6,
		CancelledCount:    2,
		AverageConfidence: 81.5,
	}}
	uc := NewVerificationUseCase(repo, &stubCache{}, &stubAnalyzer{}, time.Minute, zap.NewNop())

	summary, err := uc.GetMetricsSummary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "analysis_log", summary.Source)
	assert.EqualValues(t, 2, summary.CancelledRequests)
	assert.Equal(t, 0.8, summary.CompletionRate)
	assert.Equal(t, 0.75, summary.AuthenticRate)
}

func TestGetMetricsSummaryAllCancelled(t *testing.T) {
	repo := &stubRepository{agg: &repository.MetricsAggregation{TotalCount: 2, CancelledCount: 2}}
	uc := NewVerificationUseCase(repo, &stubCache{}, &stubAnalyzer{}, time.Minute, zap.NewNop())

	summary, err := uc.GetMetricsSummary(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.CompletionRate)
}
