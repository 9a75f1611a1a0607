package extractor

import (
	"context"
	"image"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/example/medverify/internal/domain"
)

// maxSobel is the gradient magnitude of a full black/white step edge.
const maxSobel = 4 * 255

// strongEdge is the magnitude above which a pixel counts as part of a stroke.
const strongEdge = 200

// TextRecognizer reads imprinted or printed text from a cropped image region.
// Confidence is 0-100.
type TextRecognizer interface {
	Recognize(ctx context.Context, img image.Image) (text string, confidence float64, err error)
}

// extractText scans a grid of cells for stroke-like texture: strong edges that cross a
// cell row several times, which a plain outline never does. Quality is the crispness of
// those strokes.
func (e *Extractor) extractText(ctx context.Context, s *scene) (domain.TextMeasurement, error) {
	var m domain.TextMeasurement

	area := s.bounds
	if ok, _ := e.segmented(s); !ok {
		area = image.Rect(0, 0, s.width, s.height)
	}
	area = area.Intersect(image.Rect(1, 1, s.width-1, s.height-1))

	cell := e.cfg.TextCellSize
	var (
		magnitudes []float64
		textArea   image.Rectangle
		textCells  int
	)
	for cy := area.Min.Y; cy+cell <= area.Max.Y; cy += cell {
		if err := ctx.Err(); err != nil {
			return m, err
		}
		for cx := area.Min.X; cx+cell <= area.Max.X; cx += cell {
			r := image.Rect(cx, cy, cx+cell, cy+cell)
			strong, ok := textCell(s, r)
			if !ok {
				continue
			}
			textCells++
			magnitudes = append(magnitudes, strong...)
			textArea = textArea.Union(r)
		}
	}

	if textCells < e.cfg.MinTextCells || len(magnitudes) == 0 {
		m.Note = "no imprint or printed text detected"
		return m, nil
	}

	mean, std := stat.MeanStdDev(magnitudes, nil)
	crispness := math.Min(1, mean/maxSobel)
	consistency := 1 - 0.25*math.Min(1, std/mean)
	m.Present = true
	m.Quality = math.Round(100*crispness*consistency*10) / 10
	m.Region = s.region(textArea)

	if e.recognizer != nil {
		crop := s.img.SubImage(textArea)
		text, confidence, err := e.recognizer.Recognize(ctx, crop)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return m, ctxErr
			}
			m.Degraded, m.Note = true, "text recognition failed: "+err.Error()
			return m, nil
		}
		m.Recognized = text
		m.Present = text != ""
		m.Quality = math.Max(0, math.Min(100, confidence))
	}
	return m, nil
}

// textCell returns the strong gradient magnitudes of a cell when the cell looks like
// text: enough contrast, and rows crossing dark/light at least twice on average.
func textCell(s *scene, r image.Rectangle) ([]float64, bool) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			v := s.luminance(x, y)
			lo, hi = math.Min(lo, v), math.Max(hi, v)
		}
	}
	if hi-lo < 60 {
		return nil, false
	}
	mid := (lo + hi) / 2

	transitions := 0
	for y := r.Min.Y; y < r.Max.Y; y++ {
		prev := s.luminance(r.Min.X, y) > mid
		for x := r.Min.X + 1; x < r.Max.X; x++ {
			cur := s.luminance(x, y) > mid
			if cur != prev {
				transitions++
			}
			prev = cur
		}
	}
	if float64(transitions)/float64(r.Dy()) < 2 {
		return nil, false
	}

	var strong []float64
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			if mag := s.gradient(x, y); mag >= strongEdge {
				strong = append(strong, mag)
			}
		}
	}
	density := float64(len(strong)) / float64(r.Dx()*r.Dy())
	if density < 0.05 {
		return nil, false
	}
	return strong, true
}
