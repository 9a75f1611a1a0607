package extractor

import (
	"context"
	"math"

	"github.com/example/medverify/internal/domain"
)

// extractPackaging scores print quality from the variance of the Laplacian: crisp
// printing and sharp seals produce strong second derivatives, smeared reprints do not.
func (e *Extractor) extractPackaging(ctx context.Context, s *scene) (domain.PackagingMeasurement, error) {
	var m domain.PackagingMeasurement
	if err := ctx.Err(); err != nil {
		return m, err
	}
	if s.width < 3 || s.height < 3 {
		m.Degraded, m.Note = true, "image too small to assess print quality"
		return m, nil
	}

	variance := s.lapVariance
	quality := 100 * variance / (variance + e.cfg.PackagingVarianceScale)
	m.Quality = math.Round(quality*10) / 10
	m.Class = domain.PackagingClass(m.Quality)
	return m, nil
}
