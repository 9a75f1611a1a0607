package domain

import "math"

// shapeGeometry is the canonical silhouette of a shape class: long/short side ratio of
// the bounding box and the fraction of the box the silhouette fills.
type shapeGeometry struct {
	aspect float64
	extent float64
}

var shapeGeometries = map[string]shapeGeometry{
	ShapeRound:   {aspect: 1.0, extent: math.Pi / 4},
	ShapeOval:    {aspect: 1.8, extent: math.Pi / 4},
	ShapeCapsule: {aspect: 2.6, extent: (1.6 + math.Pi/4) / 2.6},
}

// ShapeGeometry returns the canonical aspect ratio and extent of a shape class.
func ShapeGeometry(class string) (aspect, extent float64, ok bool) {
	g, ok := shapeGeometries[class]
	return g.aspect, g.extent, ok
}

// ShapeDistance is the summed relative deviation of a measured silhouette from a class.
// Zero means identical geometry.
func ShapeDistance(class string, aspect, extent float64) float64 {
	g, ok := shapeGeometries[class]
	if !ok {
		return math.Inf(1)
	}
	return math.Abs(aspect-g.aspect)/g.aspect + math.Abs(extent-g.extent)/g.extent
}

// NearestShape returns the class with the smallest ShapeDistance.
func NearestShape(aspect, extent float64) string {
	best, bestDist := "", math.Inf(1)
	for _, class := range []string{ShapeRound, ShapeOval, ShapeCapsule} {
		if d := ShapeDistance(class, aspect, extent); d < bestDist {
			best, bestDist = class, d
		}
	}
	return best
}

// Size class boundaries as the fraction of the frame covered by the medicine.
var sizeBounds = []float64{0.04, 0.12, 0.25}

// SizeClassFor buckets an area fraction.
func SizeClassFor(areaFraction float64) SizeClass {
	for i, bound := range sizeBounds {
		if areaFraction < bound {
			return SizeClass(i)
		}
	}
	return SizeLarge
}
