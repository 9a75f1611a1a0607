package domain

import "strings"

// Feature names one analysed characteristic of a medicine image.
type Feature string

const (
	FeatureColor     Feature = "color"
	FeatureShape     Feature = "shape"
	FeatureSize      Feature = "size"
	FeatureText      Feature = "text"
	FeatureQRCode    Feature = "qrCode"
	FeaturePackaging Feature = "packaging"
)

// Features lists every feature in result order.
var Features = []Feature{FeatureColor, FeatureShape, FeatureSize, FeatureText, FeatureQRCode, FeaturePackaging}

// ParseFeature accepts the JSON name of a feature, case-insensitively.
func ParseFeature(name string) (Feature, bool) {
	for _, f := range Features {
		if strings.EqualFold(string(f), name) {
			return f, true
		}
	}
	return "", false
}

// Color bins of the named-color histogram.
var ColorBins = []string{
	"white", "grey", "black", "red", "orange", "yellow",
	"green", "cyan", "blue", "purple", "pink", "brown",
}

// NumColorBins is the histogram length.
const NumColorBins = 12

// ColorHistogram holds the fraction of foreground pixels per color bin. Entries sum to 1
// for a non-empty foreground.
type ColorHistogram [NumColorBins]float64

// ColorBinIndex returns the bin of a color name or -1.
func ColorBinIndex(name string) int {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "gray" {
		name = "grey"
	}
	for i, bin := range ColorBins {
		if bin == name {
			return i
		}
	}
	return -1
}

// Dominant returns the name of the largest bin, lowest index on ties.
func (h ColorHistogram) Dominant() string {
	best := 0
	for i := 1; i < NumColorBins; i++ {
		if h[i] > h[best] {
			best = i
		}
	}
	if h[best] == 0 {
		return ""
	}
	return ColorBins[best]
}

// SizeClass is an ordinal size bucket relative to the photographed frame.
type SizeClass int

const (
	SizeSmall SizeClass = iota
	SizeStandard
	SizeMedium
	SizeLarge
)

var sizeClassNames = []string{"small", "standard", "medium", "large"}

func (c SizeClass) String() string {
	if c < SizeSmall || c > SizeLarge {
		return "unknown"
	}
	return sizeClassNames[c]
}

// ParseSizeClass converts a catalog size name.
func ParseSizeClass(name string) (SizeClass, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range sizeClassNames {
		if n == name {
			return SizeClass(i), true
		}
	}
	return 0, false
}

// Region is a rectangle in percent-of-image coordinates, each value in [0,100].
type Region struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Observation is the bookkeeping every feature slot carries.
type Observation struct {
	// Degraded marks a feature-local extraction failure; the slot values are not usable.
	Degraded bool
	Note     string
	Region   *Region
}

// ColorMeasurement is the color slot.
type ColorMeasurement struct {
	Observation
	Histogram ColorHistogram
	Dominant  string
}

// ShapeMeasurement is the shape slot.
type ShapeMeasurement struct {
	Observation
	AspectRatio float64
	Extent      float64
	Class       string
}

// SizeMeasurement is the size slot.
type SizeMeasurement struct {
	Observation
	AreaFraction float64
	Class        SizeClass
}

// TextMeasurement is the text slot. Quality is 0-100.
type TextMeasurement struct {
	Observation
	Present    bool
	Quality    float64
	Recognized string
}

// QRMeasurement is the QR code slot.
type QRMeasurement struct {
	Observation
	Payload string
}

// PackagingMeasurement is the packaging slot. Quality is 0-100.
type PackagingMeasurement struct {
	Observation
	Quality float64
	Class   string
}

// FeatureVector is the full set of measurements taken from one image.
type FeatureVector struct {
	Width     int
	Height    int
	Color     ColorMeasurement
	Shape     ShapeMeasurement
	Size      SizeMeasurement
	Text      TextMeasurement
	QRCode    QRMeasurement
	Packaging PackagingMeasurement
}

// Observation returns the bookkeeping of one slot.
func (v *FeatureVector) Observation(f Feature) Observation {
	switch f {
	case FeatureColor:
		return v.Color.Observation
	case FeatureShape:
		return v.Shape.Observation
	case FeatureSize:
		return v.Size.Observation
	case FeatureText:
		return v.Text.Observation
	case FeatureQRCode:
		return v.QRCode.Observation
	case FeaturePackaging:
		return v.Packaging.Observation
	}
	return Observation{}
}

// PackagingClass maps a 0-100 print-quality score to a packaging class.
func PackagingClass(quality float64) string {
	switch {
	case quality >= 75:
		return PackagingHigh
	case quality >= 50:
		return PackagingMedium
	default:
		return PackagingLow
	}
}

// Weights assigns each feature its share of the overall similarity. Missing features
// weigh 1.
type Weights map[Feature]float64

// Of returns the weight of one feature.
func (w Weights) Of(f Feature) float64 {
	if v, ok := w[f]; ok {
		return v
	}
	return 1
}

// Mean is the weighted mean score of the scored features, 0 when all weights are zero.
func (w Weights) Mean(scored []ScoredFeature) float64 {
	var sum, total float64
	for _, sf := range scored {
		weight := w.Of(sf.Feature)
		sum += weight * sf.Score
		total += weight
	}
	if total == 0 {
		return 0
	}
	return sum / total
}
