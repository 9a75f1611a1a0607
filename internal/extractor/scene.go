package extractor

import (
	"image"
	"math"

	"github.com/example/medverify/internal/domain"
)

// scene is the read-only view every sub-extractor works from. It is built once per
// image by newScene, either in pure Go or with OpenCV when the binary is built with
// the gocv tag. Planes are row-major over the working raster.
type scene struct {
	img    *image.RGBA
	width  int
	height int
	// gray is the luminance plane, grad the Sobel gradient magnitude (zero on the
	// outermost ring) and bins the color bin of every pixel.
	gray []float64
	grad []float64
	bins []uint8
	// fg marks the largest connected region that differs from the backdrop.
	fg      []bool
	fgCount int
	bounds  image.Rectangle
	// lapVariance is the variance of the 4-neighbour Laplacian over interior pixels.
	lapVariance float64
}

// Backend names the image backend compiled into this binary.
func Backend() string {
	return sceneBackend
}

func allocScene(img *image.RGBA) *scene {
	b := img.Bounds()
	s := &scene{img: img, width: b.Dx(), height: b.Dy()}
	n := s.width * s.height
	s.gray = make([]float64, n)
	s.grad = make([]float64, n)
	s.bins = make([]uint8, n)
	s.fg = make([]bool, n)
	return s
}

func (s *scene) luminance(x, y int) float64 {
	return s.gray[y*s.width+x]
}

func (s *scene) gradient(x, y int) float64 {
	return s.grad[y*s.width+x]
}

func (s *scene) bin(x, y int) int {
	return int(s.bins[y*s.width+x])
}

func (s *scene) foreground(x, y int) bool {
	return s.fg[y*s.width+x]
}

func (s *scene) areaFraction() float64 {
	return float64(s.fgCount) / float64(s.width*s.height)
}

// backdropFrame is the width of the border strip sampled for the backdrop color.
func backdropFrame(width, height int) int {
	return max(1, min(width, height)/25)
}

// region converts a pixel rectangle of the working raster to percent coordinates.
func (s *scene) region(r image.Rectangle) *domain.Region {
	if r.Empty() {
		return nil
	}
	pct := func(v, total int) float64 {
		return math.Round(float64(v)*1000/float64(total)) / 10
	}
	return &domain.Region{
		X:      pct(r.Min.X, s.width),
		Y:      pct(r.Min.Y, s.height),
		Width:  pct(r.Dx(), s.width),
		Height: pct(r.Dy(), s.height),
	}
}
