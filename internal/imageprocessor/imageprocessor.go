package imageprocessor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	_ "golang.org/x/image/bmp"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/example/medverify/internal/domain"
)

// Config bounds the images accepted for analysis.
type Config struct {
	MinWidth     int
	MinHeight    int
	MaxDimension int
	MaxPixels    int
}

// Frame is a decoded upload normalised to RGBA at working resolution.
type Frame struct {
	Image          *image.RGBA
	Format         string
	OriginalWidth  int
	OriginalHeight int
}

// Decoder validates and decodes uploaded image bytes.
type Decoder struct {
	minWidth     int
	minHeight    int
	maxDimension int
	maxPixels    int
}

// NewDecoder applies defaults to zero fields of cfg.
func NewDecoder(cfg Config) *Decoder {
	d := &Decoder{
		minWidth:     cfg.MinWidth,
		minHeight:    cfg.MinHeight,
		maxDimension: cfg.MaxDimension,
		maxPixels:    cfg.MaxPixels,
	}
	if d.minWidth <= 0 {
		d.minWidth = 64
	}
	if d.minHeight <= 0 {
		d.minHeight = 64
	}
	if d.maxDimension <= 0 {
		d.maxDimension = 512
	}
	if d.maxPixels <= 0 {
		d.maxPixels = 40_000_000
	}
	return d
}

// Decode checks the content-type hint and dimensions before decoding the full raster,
// then downscales to the working resolution. Every failure is an *domain.ExtractionError.
func (d *Decoder) Decode(ctx context.Context, data []byte, contentType string) (*Frame, error) {
	if len(data) == 0 {
		return nil, &domain.ExtractionError{Reason: "empty image"}
	}
	if hint := strings.ToLower(strings.TrimSpace(contentType)); hint != "" && !strings.HasPrefix(hint, "image/") {
		return nil, &domain.ExtractionError{Reason: fmt.Sprintf("unsupported content type %q", contentType)}
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, &domain.ExtractionError{Reason: "undecodable image", Err: err}
	}
	if cfg.Width < d.minWidth || cfg.Height < d.minHeight {
		return nil, &domain.ExtractionError{
			Reason: fmt.Sprintf("image %dx%d below minimum %dx%d", cfg.Width, cfg.Height, d.minWidth, d.minHeight),
		}
	}
	if cfg.Width*cfg.Height > d.maxPixels {
		return nil, &domain.ExtractionError{Reason: fmt.Sprintf("image %dx%d exceeds pixel limit", cfg.Width, cfg.Height)}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &domain.ExtractionError{Reason: "undecodable image", Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return &Frame{
		Image:          d.normalise(img),
		Format:         format,
		OriginalWidth:  cfg.Width,
		OriginalHeight: cfg.Height,
	}, nil
}

func (d *Decoder) normalise(img image.Image) *image.RGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if longest := max(w, h); longest > d.maxDimension {
		scale := float64(d.maxDimension) / float64(longest)
		w = max(1, int(float64(w)*scale+0.5))
		h = max(1, int(float64(h)*scale+0.5))
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
		return dst
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.Copy(dst, image.Point{}, img, b, xdraw.Src, nil)
	return dst
}
