//go:build gocv

package extractor

import (
	"context"
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

const sceneBackend = "gocv"

// newScene builds the scene with OpenCV. Segmentation thresholds the squared RGB
// distance from the border backdrop, then keeps the largest external contour.
func newScene(ctx context.Context, img *image.RGBA, threshold float64) (*scene, error) {
	s := allocScene(img)

	rgba, err := gocv.NewMatFromBytes(s.height, s.width, gocv.MatTypeCV8UC4, img.Pix)
	if err != nil {
		return nil, err
	}
	defer rgba.Close()

	bgr := gocv.NewMat()
	defer bgr.Close()
	gocv.CvtColor(rgba, &bgr, gocv.ColorRGBAToBGR)

	bgrF := gocv.NewMat()
	defer bgrF.Close()
	bgr.ConvertTo(&bgrF, gocv.MatTypeCV32FC3)

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(bgrF, &gray, gocv.ColorBGRToGray)

	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(bgr, &hsv, gocv.ColorBGRToHSV)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mask := foregroundMask(bgrF, backdropMean(bgr, s.width, s.height), threshold)
	defer mask.Close()
	body, bounds := largestContour(mask)
	defer body.Close()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	grayData, err := gray.DataPtrFloat32()
	if err != nil {
		return nil, err
	}
	hsvData, err := hsv.DataPtrUint8()
	if err != nil {
		return nil, err
	}
	bodyData, err := body.DataPtrUint8()
	if err != nil {
		return nil, err
	}
	for i := range s.gray {
		s.gray[i] = float64(grayData[i])
		h, sat, v := hsvData[3*i], hsvData[3*i+1], hsvData[3*i+2]
		s.bins[i] = uint8(classifyHSV(float64(h)*2, float64(sat)/255, float64(v)/255))
		if bodyData[i] != 0 {
			s.fg[i] = true
			s.fgCount++
		}
	}
	if s.fgCount > 0 {
		s.bounds = bounds
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.computeEdges(gray); err != nil {
		return nil, err
	}
	return s, nil
}

// backdropMean averages the BGR color of the border frame, returned as R, G, B.
func backdropMean(bgr gocv.Mat, width, height int) [3]float64 {
	frame := backdropFrame(width, height)
	strips := []image.Rectangle{
		image.Rect(0, 0, width, frame),
		image.Rect(0, height-frame, width, height),
		image.Rect(0, frame, frame, height-frame),
		image.Rect(width-frame, frame, width, height-frame),
	}
	var sum [3]float64
	var count float64
	for _, r := range strips {
		if r.Empty() {
			continue
		}
		roi := bgr.Region(r)
		mean := roi.Mean()
		roi.Close()
		n := float64(r.Dx() * r.Dy())
		sum[0] += mean.Val3 * n
		sum[1] += mean.Val2 * n
		sum[2] += mean.Val1 * n
		count += n
	}
	for i := range sum {
		sum[i] /= count
	}
	return sum
}

// foregroundMask is 255 where the squared RGB distance from the backdrop exceeds
// threshold squared.
func foregroundMask(bgrF gocv.Mat, backdrop [3]float64, threshold float64) gocv.Mat {
	bg := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(backdrop[2], backdrop[1], backdrop[0], 0), bgrF.Rows(), bgrF.Cols(), gocv.MatTypeCV32FC3)
	defer bg.Close()

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.Subtract(bgrF, bg, &diff)
	gocv.Multiply(diff, diff, &diff)

	channels := gocv.Split(diff)
	defer func() {
		for _, c := range channels {
			c.Close()
		}
	}()
	dist := gocv.NewMat()
	defer dist.Close()
	gocv.Add(channels[0], channels[1], &dist)
	gocv.Add(dist, channels[2], &dist)

	binary := gocv.NewMat()
	defer binary.Close()
	gocv.Threshold(dist, &binary, float32(threshold*threshold), 255, gocv.ThresholdBinary)

	mask := gocv.NewMat()
	binary.ConvertTo(&mask, gocv.MatTypeCV8U)
	return mask
}

// largestContour keeps the mask pixels inside the largest external contour.
func largestContour(mask gocv.Mat) (gocv.Mat, image.Rectangle) {
	body := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), mask.Rows(), mask.Cols(), gocv.MatTypeCV8U)

	contours := gocv.FindContours(mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()
	if contours.Size() == 0 {
		return body, image.Rectangle{}
	}

	largest, largestArea := 0, -1.0
	for i := 0; i < contours.Size(); i++ {
		if area := gocv.ContourArea(contours.At(i)); area > largestArea {
			largest, largestArea = i, area
		}
	}

	filled := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), mask.Rows(), mask.Cols(), gocv.MatTypeCV8U)
	defer filled.Close()
	gocv.DrawContours(&filled, contours, largest, color.RGBA{R: 255, G: 255, B: 255, A: 255}, -1)
	gocv.BitwiseAnd(filled, mask, &body)
	return body, gocv.BoundingRect(contours.At(largest))
}

// computeEdges fills the Sobel magnitude plane and the Laplacian variance from the
// float luminance plane.
func (s *scene) computeEdges(gray gocv.Mat) error {
	if s.width < 3 || s.height < 3 {
		return nil
	}

	dx, dy, mag := gocv.NewMat(), gocv.NewMat(), gocv.NewMat()
	defer dx.Close()
	defer dy.Close()
	defer mag.Close()
	gocv.Sobel(gray, &dx, gocv.MatTypeCV32F, 1, 0, 3, 1, 0, gocv.BorderDefault)
	gocv.Sobel(gray, &dy, gocv.MatTypeCV32F, 0, 1, 3, 1, 0, gocv.BorderDefault)
	gocv.Magnitude(dx, dy, &mag)

	magData, err := mag.DataPtrFloat32()
	if err != nil {
		return err
	}
	for y := 1; y < s.height-1; y++ {
		for x := 1; x < s.width-1; x++ {
			i := y*s.width + x
			s.grad[i] = float64(magData[i])
		}
	}

	lap := gocv.NewMat()
	defer lap.Close()
	gocv.Laplacian(gray, &lap, gocv.MatTypeCV32F, 1, 1, 0, gocv.BorderDefault)
	interior := lap.Region(image.Rect(1, 1, s.width-1, s.height-1))
	defer interior.Close()

	mean, stdDev := gocv.NewMat(), gocv.NewMat()
	defer mean.Close()
	defer stdDev.Close()
	gocv.MeanStdDev(interior, &mean, &stdDev)
	sd := stdDev.GetDoubleAt(0, 0)
	s.lapVariance = sd * sd
	return nil
}
