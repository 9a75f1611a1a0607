package domain

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validMedicine() ReferenceMedicine {
	return ReferenceMedicine{
		ID:           "med-001",
		Name:         "Paracetamol 500mg",
		Manufacturer: "PharmaCorp Ltd.",
		BatchNumber:  "PCM-2024-001",
		Features: FeatureProfile{
			Color:            "white",
			Shape:            ShapeRound,
			Size:             "standard",
			TextPresent:      true,
			QRCodePresent:    true,
			PackagingQuality: PackagingHigh,
		},
		Certifications: []string{"FDA Approved"},
	}
}

func TestFeatureProfileColors(t *testing.T) {
	p := FeatureProfile{Color: "Pink / White"}
	assert.Equal(t, []string{"pink", "white"}, p.Colors())
	assert.Empty(t, FeatureProfile{Color: " / "}.Colors())
}

func TestReferenceMedicineValidate(t *testing.T) {
	require.NoError(t, validMedicine().Validate())

	cases := map[string]func(m *ReferenceMedicine){
		"missing id":       func(m *ReferenceMedicine) { m.ID = " " },
		"missing name":     func(m *ReferenceMedicine) { m.Name = "" },
		"unknown color":    func(m *ReferenceMedicine) { m.Features.Color = "white/teal" },
		"unknown shape":    func(m *ReferenceMedicine) { m.Features.Shape = "triangle" },
		"unknown size":     func(m *ReferenceMedicine) { m.Features.Size = "huge" },
		"unknown quality":  func(m *ReferenceMedicine) { m.Features.PackagingQuality = "premium" },
		"color is missing": func(m *ReferenceMedicine) { m.Features.Color = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			m := validMedicine()
			mutate(&m)
			assert.Error(t, m.Validate())
		})
	}
}

func TestResolvesPayload(t *testing.T) {
	m := validMedicine()

	accepted := []string{
		"PCM-2024-001",
		"  med-001 ",
		"MED-001",
		"https://registry.example/verify?batch=pcm-2024-001",
		"https://registry.example/verify?code=MED-001&lang=en",
		"https://registry.example/products/PCM-2024-001/",
	}
	for _, payload := range accepted {
		assert.True(t, m.ResolvesPayload(payload), payload)
	}

	rejected := []string{
		"",
		"   ",
		"IBU-2024-045",
		"MED-0019",
		"FAKE-PCM-2024-0017",
		"PCM-2024-001X",
		"https://counterfeit.example/?x=med-001",
		"https://counterfeit.example/med-001-lookalike",
		"https://counterfeit.example/verify?code=PCM-2024-0011",
	}
	for _, payload := range rejected {
		assert.False(t, m.ResolvesPayload(payload), payload)
	}
}

func TestPayloadTokens(t *testing.T) {
	assert.Nil(t, PayloadTokens("  "))
	assert.Equal(t, []string{"PCM-2024-001"}, PayloadTokens("PCM-2024-001"))
	assert.Equal(t, []string{"A-1", "B-2", "item"},
		PayloadTokens("https://registry.example/item?batch=B-2&code=A-1&utm=med-001"))
	assert.Empty(t, PayloadTokens("https://registry.example/"))
}

func TestCloneDoesNotAlias(t *testing.T) {
	m := validMedicine()
	c := m.Clone()
	c.Certifications[0] = "changed"
	assert.Equal(t, "FDA Approved", m.Certifications[0])
}

func TestParseFeatureIsCaseInsensitive(t *testing.T) {
	f, ok := ParseFeature("qrcode")
	require.True(t, ok)
	assert.Equal(t, FeatureQRCode, f)

	_, ok = ParseFeature("weight")
	assert.False(t, ok)
}

func TestColorHistogramDominant(t *testing.T) {
	var h ColorHistogram
	assert.Equal(t, "", h.Dominant())

	h[ColorBinIndex("pink")] = 0.4
	h[ColorBinIndex("white")] = 0.4
	h[ColorBinIndex("gray")] = 0.2
	assert.Equal(t, "white", h.Dominant(), "ties go to the lowest bin")
	assert.Equal(t, -1, ColorBinIndex("teal"))
}

func TestSizeClasses(t *testing.T) {
	assert.Equal(t, SizeSmall, SizeClassFor(0.01))
	assert.Equal(t, SizeStandard, SizeClassFor(0.04))
	assert.Equal(t, SizeMedium, SizeClassFor(0.2))
	assert.Equal(t, SizeLarge, SizeClassFor(0.25))

	c, ok := ParseSizeClass(" Medium ")
	require.True(t, ok)
	assert.Equal(t, "medium", c.String())
	assert.Equal(t, "unknown", SizeClass(9).String())
}

func TestShapeGeometry(t *testing.T) {
	aspect, extent, ok := ShapeGeometry(ShapeRound)
	require.True(t, ok)
	assert.Zero(t, ShapeDistance(ShapeRound, aspect, extent))
	assert.Equal(t, ShapeRound, NearestShape(1.05, 0.78))
	assert.Equal(t, ShapeOval, NearestShape(1.7, 0.77))
	assert.Equal(t, ShapeCapsule, NearestShape(2.5, 0.9))
	assert.True(t, math.IsInf(ShapeDistance("star", 1, 1), 1))
}

func TestPackagingClass(t *testing.T) {
	assert.Equal(t, PackagingHigh, PackagingClass(75))
	assert.Equal(t, PackagingMedium, PackagingClass(50))
	assert.Equal(t, PackagingLow, PackagingClass(49.9))
}

func TestWeightsMean(t *testing.T) {
	scored := []ScoredFeature{
		{Feature: FeatureColor, FeatureScore: FeatureScore{Score: 100}},
		{Feature: FeatureText, FeatureScore: FeatureScore{Score: 40}},
	}
	assert.InDelta(t, 70, Weights(nil).Mean(scored), 1e-9)
	assert.InDelta(t, 60, Weights{FeatureText: 2}.Mean(scored), 1e-9)
	assert.Zero(t, Weights{FeatureColor: 0, FeatureText: 0}.Mean(scored))
}

func TestFeatureScoresRoundTrip(t *testing.T) {
	scored := make([]ScoredFeature, 0, len(Features))
	for i, f := range Features {
		scored = append(scored, ScoredFeature{Feature: f, FeatureScore: FeatureScore{Score: float64(i)}})
	}
	fs := NewFeatureScores(scored)
	for i, f := range Features {
		assert.Equal(t, float64(i), fs.Get(f).Score, f)
	}
}

func TestSeverity(t *testing.T) {
	assert.Less(t, SeverityHigh.Rank(), SeverityMedium.Rank())
	assert.Less(t, SeverityMedium.Rank(), SeverityLow.Rank())
	s, ok := ParseSeverity("LOW")
	require.True(t, ok)
	assert.Equal(t, SeverityLow, s)
	assert.True(t, HasHighSeverity([]Discrepancy{{Severity: SeverityLow}, {Severity: SeverityHigh}}))
	assert.False(t, HasHighSeverity(nil))
}

func TestNewMatchedMedicine(t *testing.T) {
	assert.Nil(t, NewMatchedMedicine(nil))
	m := validMedicine()
	mm := NewMatchedMedicine(&m)
	assert.Equal(t, "med-001", mm.ID)
	assert.Equal(t, []string{"FDA Approved"}, mm.Certifications)
}

func TestErrorsUnwrap(t *testing.T) {
	cause := errors.New("bad header")
	err := error(&AnalysisFailedError{Stage: "extract", Err: &ExtractionError{Reason: "undecodable image", Err: cause}})

	var extractionErr *ExtractionError
	require.ErrorAs(t, err, &extractionErr)
	assert.Equal(t, "undecodable image", extractionErr.Reason)
	assert.ErrorIs(t, err, cause)

	timeout := &AnalysisTimeoutError{Stage: "match", Timeout: 5 * time.Second}
	assert.Contains(t, timeout.Error(), "5s")
	assert.Contains(t, timeout.Error(), "match")
}
