// Package matcher compares extracted feature vectors with the reference catalog.
package matcher

import (
	"context"
	"errors"
	"math"

	"go.uber.org/zap"

	"github.com/example/medverify/internal/domain"
	"github.com/example/medverify/internal/reference"
)

// Config holds the scoring parameters.
type Config struct {
	Weights domain.Weights
	// Thresholds is the minimum score for a feature to count as a match. Missing
	// features use DefaultThreshold.
	Thresholds       map[domain.Feature]float64
	DefaultThreshold float64
	// DegradedFloor is the score given to a feature the extractor could not measure.
	// Zero means the default of 20.
	DegradedFloor float64
	// MinViableSimilarity is the overall similarity below which no reference is named.
	MinViableSimilarity float64
}

// Outcome is the result of matching one vector.
type Outcome struct {
	// Scores are computed against the closest candidate, in domain.Features order.
	Scores []domain.ScoredFeature
	// Reference is nil when the closest candidate is below the viable-match floor.
	Reference   *domain.ReferenceMedicine
	CandidateID string
	Similarity  float64
}

// Matcher scores feature vectors against an injected, read-only Database.
type Matcher struct {
	db                  *reference.Database
	weights             domain.Weights
	thresholds          map[domain.Feature]float64
	defaultThreshold    float64
	degradedFloor       float64
	minViableSimilarity float64
	logger              *zap.Logger
}

// New creates a Matcher. Zero thresholds fall back to 70, a zero viable floor to 50.
func New(db *reference.Database, cfg Config, logger *zap.Logger) *Matcher {
	threshold := cfg.DefaultThreshold
	if threshold <= 0 {
		threshold = 70
	}
	viable := cfg.MinViableSimilarity
	if viable <= 0 {
		viable = 50
	}
	floor := cfg.DegradedFloor
	if floor <= 0 {
		floor = 20
	}
	thresholds := make(map[domain.Feature]float64, len(cfg.Thresholds))
	for f, t := range cfg.Thresholds {
		thresholds[f] = t
	}
	weights := make(domain.Weights, len(cfg.Weights))
	for f, w := range cfg.Weights {
		weights[f] = w
	}
	return &Matcher{
		db:                  db,
		weights:             weights,
		thresholds:          thresholds,
		defaultThreshold:    threshold,
		degradedFloor:       floor,
		minViableSimilarity: viable,
		logger:              logger.Named("matcher"),
	}
}

// Weights returns the feature weights used for the overall similarity.
func (m *Matcher) Weights() domain.Weights {
	return m.weights
}

// Threshold returns the match threshold of a feature.
func (m *Matcher) Threshold(f domain.Feature) float64 {
	if t, ok := m.thresholds[f]; ok {
		return t
	}
	return m.defaultThreshold
}

// Match scores the vector against every reference and keeps the most similar one.
// Ties go to the lowest id, which is the first one seen since the database is id-ordered.
func (m *Matcher) Match(ctx context.Context, vec *domain.FeatureVector) (*Outcome, error) {
	if vec == nil {
		return nil, errors.New("nil feature vector")
	}
	if m.db == nil || m.db.Len() == 0 {
		return nil, domain.ErrEmptyDatabase
	}

	var (
		best    *Outcome
		bestRef *domain.ReferenceMedicine
		ctxErr  error
	)
	m.db.Each(func(ref *domain.ReferenceMedicine) bool {
		if ctxErr = ctx.Err(); ctxErr != nil {
			return false
		}
		scores := m.score(vec, ref)
		similarity := math.Round(m.weights.Mean(scores)*10) / 10
		m.logger.Debug("candidate scored", zap.String("reference", ref.ID), zap.Float64("similarity", similarity))
		if best == nil || similarity > best.Similarity {
			best = &Outcome{Scores: scores, CandidateID: ref.ID, Similarity: similarity}
			bestRef = ref
		}
		return true
	})
	if ctxErr != nil {
		return nil, ctxErr
	}

	if best.Similarity >= m.minViableSimilarity {
		matched := bestRef.Clone()
		best.Reference = &matched
	}
	return best, nil
}

func (m *Matcher) score(vec *domain.FeatureVector, ref *domain.ReferenceMedicine) []domain.ScoredFeature {
	scores := make([]domain.ScoredFeature, 0, len(domain.Features))
	for _, f := range domain.Features {
		obs := vec.Observation(f)
		var sim similarity
		switch {
		case obs.Degraded && f == domain.FeatureQRCode && !ref.Features.QRCodePresent:
			sim = similarity{score: 100, matched: "No QR code expected and none found"}
		case obs.Degraded:
			sim = similarity{score: m.degradedFloor, matched: obs.Note, mismatch: obs.Note}
		default:
			sim = m.compare(f, vec, ref)
		}

		score := math.Round(sim.score*10) / 10
		match := score >= m.Threshold(f)
		details := sim.mismatch
		if match {
			details = sim.matched
		}
		scores = append(scores, domain.ScoredFeature{
			Feature:      f,
			FeatureScore: domain.FeatureScore{Match: match, Score: score, Details: details},
			Deviation:    sim.deviation,
			Region:       obs.Region,
		})
	}
	return scores
}

func (m *Matcher) compare(f domain.Feature, vec *domain.FeatureVector, ref *domain.ReferenceMedicine) similarity {
	switch f {
	case domain.FeatureColor:
		return compareColor(vec.Color, ref)
	case domain.FeatureShape:
		return compareShape(vec.Shape, ref)
	case domain.FeatureSize:
		return compareSize(vec.Size, ref)
	case domain.FeatureText:
		return compareText(vec.Text, ref)
	case domain.FeatureQRCode:
		return compareQRCode(vec.QRCode, ref, m.db.Resolve)
	case domain.FeaturePackaging:
		return comparePackaging(vec.Packaging, ref)
	}
	return similarity{}
}
