// Package verdict combines feature scores into the final classification.
package verdict

import (
	"math"

	"github.com/example/medverify/internal/domain"
)

// Bands are the confidence boundaries of the recommendation tiers. A confidence above
// AuthenticAbove gets the authentic-care text; at or above CautionFrom the caution
// text; anything lower the critical text.
type Bands struct {
	AuthenticAbove float64
	CautionFrom    float64
}

// Recommendations holds the fixed text of each tier.
type Recommendations struct {
	Authentic []string
	Caution   []string
	Critical  []string
}

// DefaultRecommendations are the texts shipped with the service.
var DefaultRecommendations = Recommendations{
	Authentic: []string{
		"This medicine appears to be authentic based on our analysis.",
		"Store the medicine in a cool, dry place away from direct sunlight.",
		"Check the expiration date before use.",
		"Follow the dosage instructions provided by your healthcare provider.",
	},
	Caution: []string{
		"Some minor discrepancies were detected. Exercise caution.",
		"Verify the medicine with your pharmacist or healthcare provider before use.",
		"Check if the packaging seal was intact when you received it.",
		"Compare with a known authentic sample if available.",
		"Report suspicious medicines to local health authorities.",
	},
	Critical: []string{
		"CRITICAL: This medicine shows significant signs of being counterfeit. DO NOT USE.",
		"Immediately report this to local health authorities and pharmaceutical regulators.",
		"Do not dispose of the medicine - keep it as evidence for authorities.",
		"Contact the manufacturer directly using verified contact information.",
		"Visit an authorized pharmacy or healthcare facility for genuine medicine.",
		"File a complaint with your country's drug regulatory authority.",
	},
}

// Config parameterises the aggregator.
type Config struct {
	Weights            domain.Weights
	AuthenticThreshold float64
	Bands              Bands
	Recommendations    Recommendations
}

// Verdict is the classification of one analysis.
type Verdict struct {
	Authentic       bool
	Confidence      int
	Recommendations []string
}

// Aggregator is a pure function of its inputs and safe for concurrent use.
type Aggregator struct {
	weights            domain.Weights
	authenticThreshold float64
	bands              Bands
	recs               Recommendations
}

// NewAggregator fills zero values with 80 / {85, 70} and DefaultRecommendations.
func NewAggregator(cfg Config) *Aggregator {
	a := &Aggregator{
		weights:            cfg.Weights,
		authenticThreshold: cfg.AuthenticThreshold,
		bands:              cfg.Bands,
		recs:               cfg.Recommendations,
	}
	if a.authenticThreshold <= 0 {
		a.authenticThreshold = 80
	}
	if a.bands.AuthenticAbove <= 0 {
		a.bands.AuthenticAbove = 85
	}
	if a.bands.CautionFrom <= 0 {
		a.bands.CautionFrom = 70
	}
	if len(a.recs.Authentic) == 0 {
		a.recs.Authentic = DefaultRecommendations.Authentic
	}
	if len(a.recs.Caution) == 0 {
		a.recs.Caution = DefaultRecommendations.Caution
	}
	if len(a.recs.Critical) == 0 {
		a.recs.Critical = DefaultRecommendations.Critical
	}
	return a
}

// Aggregate computes confidence as the rounded weighted mean of the feature scores.
// An image is authentic only above the threshold and without high-severity findings.
func (a *Aggregator) Aggregate(scored []domain.ScoredFeature, discrepancies []domain.Discrepancy, matched *domain.ReferenceMedicine) Verdict {
	confidence := int(math.Max(0, math.Min(100, math.Round(a.weights.Mean(scored)))))
	authentic := matched != nil &&
		float64(confidence) > a.authenticThreshold &&
		!domain.HasHighSeverity(discrepancies)

	return Verdict{
		Authentic:       authentic,
		Confidence:      confidence,
		Recommendations: a.Recommend(confidence, authentic),
	}
}

// Recommend returns a copy of the tier text for a confidence. A non-authentic verdict
// never receives the authentic-care text; it drops to the caution tier.
func (a *Aggregator) Recommend(confidence int, authentic bool) []string {
	var tier []string
	switch c := float64(confidence); {
	case c > a.bands.AuthenticAbove && authentic:
		tier = a.recs.Authentic
	case c >= a.bands.CautionFrom:
		tier = a.recs.Caution
	default:
		tier = a.recs.Critical
	}
	return append([]string(nil), tier...)
}
