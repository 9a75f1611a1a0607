// Package extractor measures the six comparable features of a medicine photo.
package extractor

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/medverify/internal/domain"
	"github.com/example/medverify/internal/imageprocessor"
)

// Config tunes the measurements. Zero values fall back to defaults.
type Config struct {
	Decoder imageprocessor.Config
	// ForegroundThreshold is the RGB distance from the backdrop above which a pixel
	// belongs to the medicine.
	ForegroundThreshold float64
	// MinForegroundFraction and MaxForegroundFraction bound a usable segmentation.
	MinForegroundFraction float64
	MaxForegroundFraction float64
	// TextCellSize is the side of the grid cells scanned for strokes, in working pixels.
	TextCellSize int
	MinTextCells int
	// PackagingVarianceScale is the Laplacian variance that maps to a quality of 50.
	PackagingVarianceScale float64
}

// Extractor turns image bytes into a FeatureVector. It is safe for concurrent use.
type Extractor struct {
	decoder    *imageprocessor.Decoder
	recognizer TextRecognizer
	cfg        Config
	logger     *zap.Logger
}

// Option customises an Extractor.
type Option func(*Extractor)

// WithTextRecognizer replaces stroke analysis confidence with OCR confidence.
func WithTextRecognizer(r TextRecognizer) Option {
	return func(e *Extractor) {
		e.recognizer = r
	}
}

// New constructs an Extractor.
func New(cfg Config, logger *zap.Logger, opts ...Option) *Extractor {
	if cfg.ForegroundThreshold <= 0 {
		cfg.ForegroundThreshold = 60
	}
	if cfg.MinForegroundFraction <= 0 {
		cfg.MinForegroundFraction = 0.005
	}
	if cfg.MaxForegroundFraction <= 0 {
		cfg.MaxForegroundFraction = 0.97
	}
	if cfg.TextCellSize <= 0 {
		cfg.TextCellSize = 16
	}
	if cfg.MinTextCells <= 0 {
		cfg.MinTextCells = 2
	}
	if cfg.PackagingVarianceScale <= 0 {
		cfg.PackagingVarianceScale = 400
	}
	e := &Extractor{
		decoder: imageprocessor.NewDecoder(cfg.Decoder),
		cfg:     cfg,
		logger:  logger.Named("extractor"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Extract decodes the image and runs the sub-extractors concurrently. Each one writes
// only its own slot of the vector. Feature-local failures degrade the slot; only an
// unusable image or a cancelled context fails the call.
func (e *Extractor) Extract(ctx context.Context, data []byte, contentType string) (*domain.FeatureVector, error) {
	frame, err := e.decoder.Decode(ctx, data, contentType)
	if err != nil {
		return nil, err
	}

	s, err := newScene(ctx, frame.Image, e.cfg.ForegroundThreshold)
	if err != nil {
		return nil, err
	}

	vec := &domain.FeatureVector{Width: frame.OriginalWidth, Height: frame.OriginalHeight}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		m, err := e.extractColor(gctx, s)
		vec.Color = m
		return err
	})
	g.Go(func() error {
		m, err := e.extractShape(gctx, s)
		vec.Shape = m
		return err
	})
	g.Go(func() error {
		m, err := e.extractSize(gctx, s)
		vec.Size = m
		return err
	})
	g.Go(func() error {
		m, err := e.extractText(gctx, s)
		vec.Text = m
		return err
	})
	g.Go(func() error {
		m, err := e.extractQRCode(gctx, s)
		vec.QRCode = m
		return err
	})
	g.Go(func() error {
		m, err := e.extractPackaging(gctx, s)
		vec.Packaging = m
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, f := range domain.Features {
		if obs := vec.Observation(f); obs.Degraded {
			e.logger.Debug("feature degraded", zap.String("feature", string(f)), zap.String("note", obs.Note))
		}
	}
	return vec, nil
}

// segmented reports whether the foreground mask is usable for silhouette features.
func (e *Extractor) segmented(s *scene) (bool, string) {
	frac := s.areaFraction()
	switch {
	case frac < e.cfg.MinForegroundFraction:
		return false, "no medicine body could be separated from the background"
	case frac > e.cfg.MaxForegroundFraction:
		return false, "medicine fills the whole frame; its outline could not be measured"
	}
	return true, ""
}
