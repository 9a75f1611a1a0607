package extractor

import (
	"context"
	"image"
	"math"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"

	"github.com/example/medverify/internal/domain"
)

var qrHints = map[gozxing.DecodeHintType]interface{}{
	gozxing.DecodeHintType_TRY_HARDER: true,
}

func (e *Extractor) extractQRCode(ctx context.Context, s *scene) (domain.QRMeasurement, error) {
	var m domain.QRMeasurement
	if err := ctx.Err(); err != nil {
		return m, err
	}

	bmp, err := gozxing.NewBinaryBitmapFromImage(s.img)
	if err != nil {
		m.Degraded, m.Note = true, "QR scan could not binarize the image: "+err.Error()
		return m, nil
	}
	result, err := qrcode.NewQRCodeReader().Decode(bmp, qrHints)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return m, ctxErr
		}
		m.Degraded, m.Note = true, "no readable QR code found"
		return m, nil
	}

	m.Payload = result.GetText()
	m.Region = qrRegion(s, result.GetResultPoints())
	return m, nil
}

// qrRegion bounds the finder pattern centres, padded by one module-ish margin since the
// centres sit inside the symbol.
func qrRegion(s *scene, points []gozxing.ResultPoint) *domain.Region {
	if len(points) == 0 {
		return nil
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range points {
		minX, maxX = math.Min(minX, p.GetX()), math.Max(maxX, p.GetX())
		minY, maxY = math.Min(minY, p.GetY()), math.Max(maxY, p.GetY())
	}
	pad := math.Max(maxX-minX, maxY-minY) / 8
	r := image.Rect(
		int(math.Floor(minX-pad)), int(math.Floor(minY-pad)),
		int(math.Ceil(maxX+pad)), int(math.Ceil(maxY+pad)),
	).Intersect(image.Rect(0, 0, s.width, s.height))
	return s.region(r)
}
