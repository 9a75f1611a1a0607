package discrepancy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/medverify/internal/domain"
)

func scored(f domain.Feature, match bool, deviation float64) domain.ScoredFeature {
	score := 95.0
	if !match {
		score = 30
	}
	return domain.ScoredFeature{
		Feature:      f,
		FeatureScore: domain.FeatureScore{Match: match, Score: score},
		Deviation:    deviation,
	}
}

func allMatching() []domain.ScoredFeature {
	out := make([]domain.ScoredFeature, 0, len(domain.Features))
	for _, f := range domain.Features {
		out = append(out, scored(f, true, 0))
	}
	return out
}

func types(ds []domain.Discrepancy) []string {
	out := make([]string, 0, len(ds))
	for _, d := range ds {
		out = append(out, d.Type)
	}
	return out
}

func TestSynthesizeNoMismatch(t *testing.T) {
	ds := NewSynthesizer(Config{}).Synthesize(allMatching())
	require.NotNil(t, ds)
	assert.Empty(t, ds)
}

func TestSynthesizeOnePerMismatchOrderedBySeverityThenPrecedence(t *testing.T) {
	in := []domain.ScoredFeature{
		scored(domain.FeatureColor, false, 0),
		scored(domain.FeatureShape, false, 0.2),
		scored(domain.FeatureSize, false, 1),
		scored(domain.FeatureText, false, 0),
		scored(domain.FeatureQRCode, true, 0),
		scored(domain.FeaturePackaging, false, 0),
	}

	ds := NewSynthesizer(Config{}).Synthesize(in)

	assert.Equal(t, []string{
		"Text Quality",
		"Color Mismatch",
		"Shape Irregularity",
		"Size Variance",
		"Packaging Quality",
	}, types(ds))
	assert.Equal(t, domain.SeverityHigh, ds[0].Severity)
	for _, d := range ds[1:] {
		assert.Equal(t, domain.SeverityMedium, d.Severity, d.Type)
		assert.NotEmpty(t, d.Description)
	}
}

func TestSynthesizeSeverityOverride(t *testing.T) {
	in := []domain.ScoredFeature{
		scored(domain.FeatureColor, false, 0),
		scored(domain.FeatureQRCode, false, 0),
		scored(domain.FeaturePackaging, false, 0),
	}
	s := NewSynthesizer(Config{Severities: map[domain.Feature]domain.Severity{
		domain.FeatureColor: domain.SeverityLow,
	}})

	ds := s.Synthesize(in)

	assert.Equal(t, []string{"QR Code Issue", "Packaging Quality", "Color Mismatch"}, types(ds))
	assert.Equal(t, domain.SeverityLow, ds[2].Severity)
}

func TestSynthesizeHardLimitsEscalate(t *testing.T) {
	in := []domain.ScoredFeature{
		scored(domain.FeatureSize, false, 2),
		scored(domain.FeatureShape, false, 0.6),
		scored(domain.FeatureQRCode, false, 0),
	}

	ds := NewSynthesizer(Config{}).Synthesize(in)

	assert.Equal(t, []string{"QR Code Issue", "Shape Irregularity", "Size Variance"}, types(ds))
	for _, d := range ds {
		assert.Equal(t, domain.SeverityHigh, d.Severity, d.Type)
	}

	relaxed := NewSynthesizer(Config{ShapeHardLimit: 1, SizeHardLimit: 3}).Synthesize(in)
	assert.Equal(t, domain.SeverityMedium, relaxed[1].Severity)
	assert.Equal(t, domain.SeverityMedium, relaxed[2].Severity)
}

func TestSynthesizeShapeAtHardLimitStaysMedium(t *testing.T) {
	ds := NewSynthesizer(Config{}).Synthesize([]domain.ScoredFeature{scored(domain.FeatureShape, false, 0.5)})
	require.Len(t, ds, 1)
	assert.Equal(t, domain.SeverityMedium, ds[0].Severity)
}

func TestSynthesizeCopiesLocation(t *testing.T) {
	region := &domain.Region{X: 40, Y: 60, Width: 20, Height: 15}
	sf := scored(domain.FeatureQRCode, false, 0)
	sf.Region = region
	in := []domain.ScoredFeature{sf, scored(domain.FeatureColor, false, 0)}

	ds := NewSynthesizer(Config{}).Synthesize(in)

	require.Len(t, ds, 2)
	require.NotNil(t, ds[0].Location)
	assert.Equal(t, *region, *ds[0].Location)
	assert.Nil(t, ds[1].Location)

	ds[0].Location.X = 0
	assert.Equal(t, 40.0, region.X)
}

func TestSynthesizeDoesNotMutateInput(t *testing.T) {
	in := []domain.ScoredFeature{
		scored(domain.FeaturePackaging, false, 0),
		scored(domain.FeatureText, false, 0),
	}
	_ = NewSynthesizer(Config{}).Synthesize(in)
	assert.Equal(t, domain.FeaturePackaging, in[0].Feature)
}
