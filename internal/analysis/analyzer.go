// Package analysis runs the medicine authentication pipeline for one image.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/example/medverify/internal/domain"
	"github.com/example/medverify/internal/matcher"
	"github.com/example/medverify/internal/verdict"
)

// Stage names as reported in errors and logs.
const (
	StageExtract    = "extract"
	StageMatch      = "match"
	StageSynthesize = "synthesize"
	StageAggregate  = "aggregate"
)

// Extractor measures an image.
type Extractor interface {
	Extract(ctx context.Context, data []byte, contentType string) (*domain.FeatureVector, error)
}

// Matcher compares a vector with the reference catalog.
type Matcher interface {
	Match(ctx context.Context, vec *domain.FeatureVector) (*matcher.Outcome, error)
}

// Synthesizer derives discrepancies from scored features.
type Synthesizer interface {
	Synthesize(scored []domain.ScoredFeature) []domain.Discrepancy
}

// Aggregator classifies the scored features.
type Aggregator interface {
	Aggregate(scored []domain.ScoredFeature, discrepancies []domain.Discrepancy, matched *domain.ReferenceMedicine) verdict.Verdict
}

// Input is one image handed over by an acquisition front-end.
type Input struct {
	Data        []byte
	ContentType string
}

// Analyzer sequences extract, match, synthesize and aggregate under one deadline.
// It never retries and never substitutes a verdict for a failure.
type Analyzer struct {
	extractor   Extractor
	matcher     Matcher
	synthesizer Synthesizer
	aggregator  Aggregator
	timeout     time.Duration
	logger      *zap.Logger
}

// NewAnalyzer wires the stages. A non-positive timeout defaults to five seconds.
func NewAnalyzer(e Extractor, m Matcher, s Synthesizer, a Aggregator, timeout time.Duration, logger *zap.Logger) *Analyzer {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Analyzer{
		extractor:   e,
		matcher:     m,
		synthesizer: s,
		aggregator:  a,
		timeout:     timeout,
		logger:      logger.Named("analyzer"),
	}
}

// Analyze returns a complete result or one of *domain.AnalysisTimeoutError,
// *domain.AnalysisFailedError or domain.ErrCancelled.
func (a *Analyzer) Analyze(ctx context.Context, in Input) (*domain.AnalysisResult, error) {
	budget := a.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < budget {
			budget = max(left, 0)
		}
	}
	runCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	started := time.Now()
	vec, err := runStage(runCtx, ctx, budget, StageExtract, func(c context.Context) (*domain.FeatureVector, error) {
		return a.extractor.Extract(c, in.Data, in.ContentType)
	})
	if err != nil {
		return nil, a.fail(StageExtract, err)
	}

	outcome, err := runStage(runCtx, ctx, budget, StageMatch, func(c context.Context) (*matcher.Outcome, error) {
		return a.matcher.Match(c, vec)
	})
	if err != nil {
		return nil, a.fail(StageMatch, err)
	}

	discrepancies, err := runStage(runCtx, ctx, budget, StageSynthesize, func(context.Context) ([]domain.Discrepancy, error) {
		return a.synthesizer.Synthesize(outcome.Scores), nil
	})
	if err != nil {
		return nil, a.fail(StageSynthesize, err)
	}

	v, err := runStage(runCtx, ctx, budget, StageAggregate, func(context.Context) (verdict.Verdict, error) {
		return a.aggregator.Aggregate(outcome.Scores, discrepancies, outcome.Reference), nil
	})
	if err != nil {
		return nil, a.fail(StageAggregate, err)
	}

	result := &domain.AnalysisResult{
		Authentic:       v.Authentic,
		Confidence:      v.Confidence,
		Features:        domain.NewFeatureScores(outcome.Scores),
		Discrepancies:   discrepancies,
		Recommendations: v.Recommendations,
		MatchedMedicine: domain.NewMatchedMedicine(outcome.Reference),
	}
	a.logger.Debug("analysis complete",
		zap.Bool("authentic", result.Authentic),
		zap.Int("confidence", result.Confidence),
		zap.String("candidate", outcome.CandidateID),
		zap.Int("discrepancies", len(discrepancies)),
		zap.Duration("elapsed", time.Since(started)),
	)
	return result, nil
}

func (a *Analyzer) fail(stage string, err error) error {
	var timeoutErr *domain.AnalysisTimeoutError
	switch {
	case errors.Is(err, domain.ErrCancelled):
		a.logger.Info("analysis cancelled", zap.String("stage", stage))
		return domain.ErrCancelled
	case errors.As(err, &timeoutErr):
		a.logger.Warn("analysis timed out",
			zap.String("stage", stage),
			zap.Duration("timeout", timeoutErr.Timeout),
			zap.Bool("caller_deadline", timeoutErr.CallerDeadline),
		)
		return timeoutErr
	}
	failed := &domain.AnalysisFailedError{Stage: stage, Err: err}
	var extractionErr *domain.ExtractionError
	if errors.As(err, &extractionErr) {
		a.logger.Info("image rejected", zap.String("stage", stage), zap.String("reason", extractionErr.Reason))
	} else {
		a.logger.Error("analysis failed", zap.Error(failed))
	}
	return failed
}

type stageResult[T any] struct {
	value T
	err   error
}

// runStage runs fn in its own goroutine so a stage that ignores its context still
// cannot hold the caller past the deadline. runCtx carries the pipeline deadline,
// parent the caller's context, used to tell a cancellation from a timeout. budget is
// the time the analysis had when it started.
func runStage[T any](runCtx, parent context.Context, budget time.Duration, stage string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := runCtx.Err(); err != nil {
		return zero, stageContextError(parent, budget, stage)
	}

	done := make(chan stageResult[T], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- stageResult[T]{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		v, err := fn(runCtx)
		done <- stageResult[T]{value: v, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil && runCtx.Err() != nil &&
			(errors.Is(res.err, context.Canceled) || errors.Is(res.err, context.DeadlineExceeded)) {
			return zero, stageContextError(parent, budget, stage)
		}
		return res.value, res.err
	case <-runCtx.Done():
		return zero, stageContextError(parent, budget, stage)
	}
}

func stageContextError(parent context.Context, budget time.Duration, stage string) error {
	switch err := parent.Err(); {
	case errors.Is(err, context.Canceled):
		return domain.ErrCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return &domain.AnalysisTimeoutError{Stage: stage, Timeout: budget, CallerDeadline: true}
	}
	return &domain.AnalysisTimeoutError{Stage: stage, Timeout: budget}
}
