// Package discrepancy turns failed feature comparisons into ranked discrepancies.
package discrepancy

import (
	"sort"

	"github.com/example/medverify/internal/domain"
)

// precedence orders discrepancies of equal severity.
var precedence = map[domain.Feature]int{
	domain.FeatureText:      0,
	domain.FeatureQRCode:    1,
	domain.FeatureColor:     2,
	domain.FeatureShape:     3,
	domain.FeatureSize:      4,
	domain.FeaturePackaging: 5,
}

type template struct {
	label       string
	description string
}

var templates = map[domain.Feature]template{
	domain.FeatureColor:     {"Color Mismatch", "The tablet color deviates from the expected shade for authentic products"},
	domain.FeatureShape:     {"Shape Irregularity", "Tablet outline or proportions differ from the authentic reference"},
	domain.FeatureSize:      {"Size Variance", "Measured size falls outside the tolerance of the authentic reference"},
	domain.FeatureText:      {"Text Quality", "Embossed text appears blurry, missing or incorrectly formatted"},
	domain.FeatureQRCode:    {"QR Code Issue", "QR code is missing, unreadable, or doesn't link to verified database"},
	domain.FeaturePackaging: {"Packaging Quality", "Print quality or material consistency below expected standards"},
}

// Config sets the severity of each feature and the deviations that escalate shape and
// size mismatches to high.
type Config struct {
	Severities     map[domain.Feature]domain.Severity
	ShapeHardLimit float64
	SizeHardLimit  float64
}

// DefaultSeverities is the severity table used when Config leaves a feature out.
var DefaultSeverities = map[domain.Feature]domain.Severity{
	domain.FeatureText:      domain.SeverityHigh,
	domain.FeatureQRCode:    domain.SeverityHigh,
	domain.FeatureColor:     domain.SeverityMedium,
	domain.FeaturePackaging: domain.SeverityMedium,
	domain.FeatureShape:     domain.SeverityMedium,
	domain.FeatureSize:      domain.SeverityMedium,
}

// Synthesizer is stateless once built and safe for concurrent use.
type Synthesizer struct {
	severities     map[domain.Feature]domain.Severity
	shapeHardLimit float64
	sizeHardLimit  float64
}

// NewSynthesizer fills unset hard limits with 0.5 (relative shape distance) and 2
// (size class steps).
func NewSynthesizer(cfg Config) *Synthesizer {
	s := &Synthesizer{
		severities:     make(map[domain.Feature]domain.Severity, len(DefaultSeverities)),
		shapeHardLimit: cfg.ShapeHardLimit,
		sizeHardLimit:  cfg.SizeHardLimit,
	}
	for f, sev := range DefaultSeverities {
		s.severities[f] = sev
	}
	for f, sev := range cfg.Severities {
		s.severities[f] = sev
	}
	if s.shapeHardLimit <= 0 {
		s.shapeHardLimit = 0.5
	}
	if s.sizeHardLimit <= 0 {
		s.sizeHardLimit = 2
	}
	return s
}

// Synthesize emits one discrepancy per non-matching feature, highest severity first,
// then by feature precedence.
func (s *Synthesizer) Synthesize(scored []domain.ScoredFeature) []domain.Discrepancy {
	out := make([]domain.Discrepancy, 0, len(scored))
	for _, sf := range scored {
		if sf.Match {
			continue
		}
		tpl := templates[sf.Feature]
		d := domain.Discrepancy{
			Feature:     sf.Feature,
			Type:        tpl.label,
			Severity:    s.severity(sf),
			Description: tpl.description,
		}
		if sf.Region != nil {
			loc := *sf.Region
			d.Location = &loc
		}
		out = append(out, d)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if ri, rj := out[i].Severity.Rank(), out[j].Severity.Rank(); ri != rj {
			return ri < rj
		}
		return precedence[out[i].Feature] < precedence[out[j].Feature]
	})
	return out
}

func (s *Synthesizer) severity(sf domain.ScoredFeature) domain.Severity {
	switch sf.Feature {
	case domain.FeatureShape:
		if sf.Deviation > s.shapeHardLimit {
			return domain.SeverityHigh
		}
	case domain.FeatureSize:
		if sf.Deviation >= s.sizeHardLimit {
			return domain.SeverityHigh
		}
	}
	return s.severities[sf.Feature]
}
