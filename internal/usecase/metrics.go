package usecase

import (
	"context"

	"github.com/example/medverify/internal/repository"
)

// MetricsSummary represents aggregated analysis insights.
type MetricsSummary struct {
	TotalRequests              int64   `json:"total_requests"`
	CompletedRequests          int64   `json:"completed_requests"`
	AuthenticVerdicts          int64   `json:"authentic_verdicts"`
	RejectedImages             int64   `json:"rejected_images"`
	TimedOutRequests           int64   `json:"timed_out_requests"`
	FailedRequests             int64   `json:"failed_requests"`
	CancelledRequests          int64   `json:"cancelled_requests"`
	InFlightRequests           int64   `json:"in_flight_requests"`
	CompletionRate             float64 `json:"completion_rate"`
	AuthenticRate              float64 `json:"authentic_rate"`
	AverageConfidence          float64 `json:"average_confidence"`
	AverageProcessingLatencyMs float64 `json:"average_processing_latency_ms"`
	Source                     string  `json:"source"`
}

// GetMetricsSummary aggregates from the analysis log when one is configured and from
// the process counters otherwise.
func (uc *VerificationUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	var (
		agg    *repository.MetricsAggregation
		source string
	)
	if uc.repo != nil {
		var err error
		agg, err = uc.repo.AggregateMetrics(ctx)
		if err != nil {
			return nil, err
		}
		source = "analysis_log"
	} else {
		agg = uc.counters.snapshot()
		source = "process"
	}

	summary := &MetricsSummary{
		TotalRequests:              agg.TotalCount,
		CompletedRequests:          agg.CompletedCount,
		AuthenticVerdicts:          agg.AuthenticCount,
		RejectedImages:             agg.RejectedCount,
		TimedOutRequests:           agg.TimeoutCount,
		FailedRequests:             agg.FailedCount,
		CancelledRequests:          agg.CancelledCount,
		InFlightRequests:           uc.counters.inFlight.Load(),
		AverageConfidence:          agg.AverageConfidence,
		AverageProcessingLatencyMs: agg.AverageProcessingLatencyMs,
		Source:                     source,
	}
	// Requests the caller abandoned say nothing about the pipeline.
	if decided := agg.TotalCount - agg.CancelledCount; decided > 0 {
		summary.CompletionRate = float64(agg.CompletedCount) / float64(decided)
	}
	if agg.CompletedCount > 0 {
		summary.AuthenticRate = float64(agg.AuthenticCount) / float64(agg.CompletedCount)
	}
	return summary, nil
}

func (c *counters) snapshot() *repository.MetricsAggregation {
	agg := &repository.MetricsAggregation{
		TotalCount:     c.total.Load(),
		CompletedCount: c.completed.Load(),
		AuthenticCount: c.authentic.Load(),
		RejectedCount:  c.rejected.Load(),
		TimeoutCount:   c.timeouts.Load(),
		FailedCount:    c.failed.Load(),
		CancelledCount: c.cancelled.Load(),
	}
	if agg.CompletedCount > 0 {
		agg.AverageConfidence = float64(c.confidence.Load()) / float64(agg.CompletedCount)
	}
	if agg.TotalCount > 0 {
		agg.AverageProcessingLatencyMs = float64(c.latencyMs.Load()) / float64(agg.TotalCount)
	}
	return agg
}
