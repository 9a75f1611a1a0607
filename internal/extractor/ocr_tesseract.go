//go:build tesseract

package extractor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

// TesseractRecognizer reads imprint text with a fresh Tesseract client per call, since a
// gosseract client is not safe for concurrent use.
type TesseractRecognizer struct {
	Language string
	// Whitelist restricts recognised characters; imprints are upper-case codes.
	Whitelist string
}

// NewTesseractRecognizer returns a recognizer tuned for imprint codes such as "P500".
func NewTesseractRecognizer() *TesseractRecognizer {
	return &TesseractRecognizer{
		Language:  "eng",
		Whitelist: "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ",
	}
}

// Recognize implements TextRecognizer. Confidence is the mean word confidence.
func (t *TesseractRecognizer) Recognize(ctx context.Context, img image.Image) (string, float64, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", 0, fmt.Errorf("encode region: %w", err)
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(t.Language); err != nil {
		return "", 0, fmt.Errorf("set OCR language: %w", err)
	}
	if t.Whitelist != "" {
		if err := client.SetWhitelist(t.Whitelist); err != nil {
			return "", 0, fmt.Errorf("set OCR whitelist: %w", err)
		}
	}
	if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
		return "", 0, fmt.Errorf("load OCR image: %w", err)
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return "", 0, fmt.Errorf("recognise text: %w", err)
	}

	var (
		words []string
		total float64
	)
	for _, box := range boxes {
		if w := strings.TrimSpace(box.Word); w != "" {
			words = append(words, w)
			total += box.Confidence
		}
	}
	if len(words) == 0 {
		return "", 0, nil
	}
	return strings.Join(words, " "), total / float64(len(words)), nil
}

func newOCRRecognizer() TextRecognizer { return NewTesseractRecognizer() }
