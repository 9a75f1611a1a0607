package extractor

import (
	"context"
	"fmt"

	"github.com/example/medverify/internal/domain"
)

func (e *Extractor) extractShape(ctx context.Context, s *scene) (domain.ShapeMeasurement, error) {
	var m domain.ShapeMeasurement
	if err := ctx.Err(); err != nil {
		return m, err
	}
	if ok, note := e.segmented(s); !ok {
		m.Degraded, m.Note = true, note
		return m, nil
	}

	w, h := float64(s.bounds.Dx()), float64(s.bounds.Dy())
	long, short := max(w, h), min(w, h)
	m.AspectRatio = long / short
	m.Extent = float64(s.fgCount) / (w * h)
	m.Class = domain.NearestShape(m.AspectRatio, m.Extent)
	m.Region = s.region(s.bounds)
	return m, nil
}

func (e *Extractor) extractSize(ctx context.Context, s *scene) (domain.SizeMeasurement, error) {
	var m domain.SizeMeasurement
	if err := ctx.Err(); err != nil {
		return m, err
	}
	if ok, note := e.segmented(s); !ok {
		m.Degraded, m.Note = true, note
		return m, nil
	}
	m.AreaFraction = s.areaFraction()
	m.Class = domain.SizeClassFor(m.AreaFraction)
	m.Region = s.region(s.bounds)
	if m.Region != nil && (m.Region.X == 0 || m.Region.Y == 0 ||
		m.Region.X+m.Region.Width >= 100 || m.Region.Y+m.Region.Height >= 100) {
		m.Note = fmt.Sprintf("medicine touches the frame edge; size %s may be underestimated", m.Class)
	}
	return m, nil
}
