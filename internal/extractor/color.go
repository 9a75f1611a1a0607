package extractor

import (
	"context"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/example/medverify/internal/domain"
)

func (e *Extractor) extractColor(ctx context.Context, s *scene) (domain.ColorMeasurement, error) {
	var m domain.ColorMeasurement
	if ok, note := e.segmented(s); !ok {
		m.Degraded, m.Note = true, note
		return m, nil
	}

	var counts [domain.NumColorBins]float64
	for y := s.bounds.Min.Y; y < s.bounds.Max.Y; y++ {
		if y%64 == 0 {
			if err := ctx.Err(); err != nil {
				return m, err
			}
		}
		for x := s.bounds.Min.X; x < s.bounds.Max.X; x++ {
			if !s.foreground(x, y) {
				continue
			}
			counts[s.bin(x, y)]++
		}
	}

	total := floats.Sum(counts[:])
	floats.Scale(1/total, counts[:])
	m.Histogram = domain.ColorHistogram(counts)
	m.Dominant = m.Histogram.Dominant()
	m.Region = s.region(s.bounds)
	return m, nil
}

// classifyColor maps an RGB pixel (0-255 channels) to a named color bin.
func classifyColor(r, g, b float64) int {
	return classifyHSV(rgbToHSV(r, g, b))
}

// rgbToHSV returns hue in degrees [0, 360) and saturation and value in [0, 1].
func rgbToHSV(r, g, b float64) (h, s, v float64) {
	r, g, b = r/255, g/255, b/255
	maxC := math.Max(r, math.Max(g, b))
	minC := math.Min(r, math.Min(g, b))
	v = maxC
	delta := maxC - minC
	if maxC > 0 {
		s = delta / maxC
	}
	if delta == 0 {
		return 0, s, v
	}

	switch maxC {
	case r:
		h = math.Mod((g-b)/delta, 6)
	case g:
		h = (b-r)/delta + 2
	default:
		h = (r-g)/delta + 4
	}
	h *= 60
	if h < 0 {
		h += 360
	}
	return h, s, v
}

// classifyHSV applies the bin rules. Hue is in degrees, saturation and value in [0, 1].
func classifyHSV(h, s, v float64) int {
	if v < 0.2 {
		return domain.ColorBinIndex("black")
	}
	if s < 0.15 {
		if v > 0.75 {
			return domain.ColorBinIndex("white")
		}
		return domain.ColorBinIndex("grey")
	}

	switch {
	case h < 15 || h >= 345:
		if s < 0.5 && v > 0.7 {
			return domain.ColorBinIndex("pink")
		}
		return domain.ColorBinIndex("red")
	case h < 40:
		if v < 0.6 {
			return domain.ColorBinIndex("brown")
		}
		return domain.ColorBinIndex("orange")
	case h < 70:
		return domain.ColorBinIndex("yellow")
	case h < 165:
		return domain.ColorBinIndex("green")
	case h < 195:
		return domain.ColorBinIndex("cyan")
	case h < 255:
		return domain.ColorBinIndex("blue")
	case h < 290:
		return domain.ColorBinIndex("purple")
	default:
		return domain.ColorBinIndex("pink")
	}
}
