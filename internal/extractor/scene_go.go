//go:build !gocv

package extractor

import (
	"context"
	"image"
	"math"

	"gonum.org/v1/gonum/stat"
)

const sceneBackend = "go"

// newScene estimates the backdrop color from a thin border frame, marks every pixel
// further than threshold (euclidean RGB distance) from it and keeps the largest
// 8-connected region of those pixels as the medicine body.
func newScene(ctx context.Context, img *image.RGBA, threshold float64) (*scene, error) {
	s := allocScene(img)

	frame := backdropFrame(s.width, s.height)
	var sumR, sumG, sumB, count float64
	for y := 0; y < s.height; y++ {
		for x := 0; x < s.width; x++ {
			if x >= frame && x < s.width-frame && y >= frame && y < s.height-frame {
				continue
			}
			r, g, b := rgbAt(img, x, y)
			sumR += r
			sumG += g
			sumB += b
			count++
		}
	}
	bgR, bgG, bgB := sumR/count, sumG/count, sumB/count

	raw := make([]bool, len(s.fg))
	for y := 0; y < s.height; y++ {
		if y%64 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		for x := 0; x < s.width; x++ {
			r, g, b := rgbAt(img, x, y)
			idx := y*s.width + x
			s.gray[idx] = 0.299*r + 0.587*g + 0.114*b
			s.bins[idx] = uint8(classifyColor(r, g, b))
			dr, dg, db := r-bgR, g-bgG, b-bgB
			raw[idx] = math.Sqrt(dr*dr+dg*dg+db*db) > threshold
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.keepLargestRegion(raw)

	if err := s.computeEdges(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func rgbAt(img *image.RGBA, x, y int) (r, g, b float64) {
	i := img.PixOffset(x, y)
	p := img.Pix[i : i+3 : i+3]
	return float64(p[0]), float64(p[1]), float64(p[2])
}

// keepLargestRegion labels the 8-connected regions of raw and copies the largest into
// the foreground mask. Ties keep the region found first in raster order.
func (s *scene) keepLargestRegion(raw []bool) {
	labels := make([]int32, len(raw))
	var (
		stack     []int
		best      int32
		bestCount int
		next      int32
	)
	for start, on := range raw {
		if !on || labels[start] != 0 {
			continue
		}
		next++
		labels[start] = next
		stack = append(stack[:0], start)
		count := 0
		for len(stack) > 0 {
			idx := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			count++
			x, y := idx%s.width, idx/s.width
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := x+dx, y+dy
					if nx < 0 || ny < 0 || nx >= s.width || ny >= s.height {
						continue
					}
					n := ny*s.width + nx
					if raw[n] && labels[n] == 0 {
						labels[n] = next
						stack = append(stack, n)
					}
				}
			}
		}
		if count > bestCount {
			best, bestCount = next, count
		}
	}
	if bestCount == 0 {
		return
	}

	minX, minY, maxX, maxY := s.width, s.height, -1, -1
	for idx, l := range labels {
		if l != best {
			continue
		}
		s.fg[idx] = true
		x, y := idx%s.width, idx/s.width
		minX, minY = min(minX, x), min(minY, y)
		maxX, maxY = max(maxX, x), max(maxY, y)
	}
	s.fgCount = bestCount
	s.bounds = image.Rect(minX, minY, maxX+1, maxY+1)
}

// computeEdges fills the Sobel magnitude plane and the Laplacian variance.
func (s *scene) computeEdges(ctx context.Context) error {
	if s.width < 3 || s.height < 3 {
		return nil
	}
	lap := make([]float64, 0, (s.width-2)*(s.height-2))
	for y := 1; y < s.height-1; y++ {
		if y%64 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		for x := 1; x < s.width-1; x++ {
			l := func(dx, dy int) float64 { return s.luminance(x+dx, y+dy) }
			gx := (l(1, -1) + 2*l(1, 0) + l(1, 1)) - (l(-1, -1) + 2*l(-1, 0) + l(-1, 1))
			gy := (l(-1, 1) + 2*l(0, 1) + l(1, 1)) - (l(-1, -1) + 2*l(0, -1) + l(1, -1))
			s.grad[y*s.width+x] = math.Hypot(gx, gy)
			lap = append(lap, l(-1, 0)+l(1, 0)+l(0, -1)+l(0, 1)-4*l(0, 0))
		}
	}
	_, s.lapVariance = stat.PopMeanVariance(lap, nil)
	return nil
}
