package matcher

import (
	"fmt"
	"math"
	"strings"

	"github.com/example/medverify/internal/domain"
)

// similarity is the raw comparison of one feature against one reference. The detail
// text depends on whether the score clears the feature threshold, which is decided
// by the caller.
type similarity struct {
	score     float64
	deviation float64
	matched   string
	mismatch  string
}

// packagingTargets is the print quality an authentic pack of each class reaches.
var packagingTargets = map[string]float64{
	domain.PackagingHigh:   80,
	domain.PackagingMedium: 55,
	domain.PackagingLow:    30,
}

func clampScore(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}

// colorPrototype spreads the profile colors evenly over their bins.
func colorPrototype(p domain.FeatureProfile) domain.ColorHistogram {
	var h domain.ColorHistogram
	colors := p.Colors()
	for _, c := range colors {
		if i := domain.ColorBinIndex(c); i >= 0 {
			h[i] += 1 / float64(len(colors))
		}
	}
	return h
}

func compareColor(m domain.ColorMeasurement, ref *domain.ReferenceMedicine) similarity {
	proto := colorPrototype(ref.Features)
	var overlap float64
	for i := range proto {
		overlap += math.Min(proto[i], m.Histogram[i])
	}
	pct := clampScore(100 * overlap)
	return similarity{
		score: pct,
		matched: fmt.Sprintf("Color profile matches authentic sample within acceptable variance (%s, %.0f%% overlap)",
			m.Dominant, pct),
		mismatch: fmt.Sprintf("Color deviates from the expected %s shade (dominant %s, %.0f%% overlap). May indicate a different dye batch or counterfeit.",
			strings.ToLower(ref.Features.Color), m.Dominant, pct),
	}
}

func compareShape(m domain.ShapeMeasurement, ref *domain.ReferenceMedicine) similarity {
	dist := domain.ShapeDistance(ref.Features.Shape, m.AspectRatio, m.Extent)
	return similarity{
		score:     clampScore(100 * (1 - dist)),
		deviation: dist,
		matched: fmt.Sprintf("Tablet shape and dimensions match reference specifications (%s, aspect %.2f)",
			m.Class, m.AspectRatio),
		mismatch: fmt.Sprintf("Shape irregularities detected: outline reads as %s (aspect %.2f, fill %.2f) where %s is expected.",
			m.Class, m.AspectRatio, m.Extent, ref.Features.Shape),
	}
}

func compareSize(m domain.SizeMeasurement, ref *domain.ReferenceMedicine) similarity {
	want, _ := domain.ParseSizeClass(ref.Features.Size)
	steps := math.Abs(float64(m.Class - want))
	s := similarity{
		score:     clampScore(100 - 50*steps),
		deviation: steps,
		matched:   fmt.Sprintf("Size measurements are within tolerance range of authentic medicine (%s)", m.Class),
		mismatch: fmt.Sprintf("Size variance exceeds acceptable limits: measured %s, expected %s.",
			m.Class, want),
	}
	if m.Note != "" {
		s.mismatch += " " + m.Note
	}
	return s
}

func compareText(m domain.TextMeasurement, ref *domain.ReferenceMedicine) similarity {
	quality := 0.0
	if m.Present {
		quality = m.Quality
	}
	if !ref.Features.TextPresent {
		return similarity{
			score:    clampScore(100 - quality),
			matched:  "No imprint expected and none found",
			mismatch: fmt.Sprintf("Text found (quality %.0f) on a product that carries no imprint.", quality),
		}
	}
	s := similarity{
		score:    clampScore(quality),
		matched:  fmt.Sprintf("Embossed text is clear, properly aligned, and matches reference quality (%.0f)", quality),
		mismatch: fmt.Sprintf("Text quality is degraded (%.0f). Font weight and spacing differ from authentic samples.", quality),
	}
	if !m.Present {
		s.mismatch = "No imprint or printed text found where the authentic product carries one."
	}
	return s
}

func compareQRCode(m domain.QRMeasurement, ref *domain.ReferenceMedicine, resolve func(string) (string, bool)) similarity {
	if !ref.Features.QRCodePresent {
		if m.Payload == "" {
			return similarity{score: 100, matched: "No QR code expected and none found"}
		}
		return similarity{
			score:    50,
			matched:  "Unexpected QR code present; product normally carries none",
			mismatch: "QR code found on a product that normally carries none.",
		}
	}
	if ref.ResolvesPayload(m.Payload) {
		return similarity{score: 100, matched: "QR code is scannable and links to verified pharmaceutical database"}
	}
	mismatch := "QR code does not resolve to the official registry."
	if id, ok := resolve(m.Payload); ok {
		mismatch = fmt.Sprintf("QR code resolves to registry entry %s, not to this product.", id)
	}
	return similarity{score: 0, mismatch: mismatch}
}

func comparePackaging(m domain.PackagingMeasurement, ref *domain.ReferenceMedicine) similarity {
	target := packagingTargets[ref.Features.PackagingQuality]
	return similarity{
		score: clampScore(100 - math.Max(0, target-m.Quality)),
		matched: fmt.Sprintf("Packaging material, print quality, and seal integrity meet standards (print quality %.0f)",
			m.Quality),
		mismatch: fmt.Sprintf("Packaging shows signs of poor print quality (print quality %.0f, %s expected).",
			m.Quality, ref.Features.PackagingQuality),
	}
}
