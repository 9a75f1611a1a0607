//go:build !gocv

package extractor

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeepLargestRegion(t *testing.T) {
	s := allocScene(image.NewRGBA(image.Rect(0, 0, 6, 4)))
	raw := make([]bool, 24)
	on := func(x, y int) { raw[y*6+x] = true }
	// Two-pixel region top left, diagonal three-pixel region bottom right.
	on(0, 0)
	on(1, 0)
	on(3, 1)
	on(4, 2)
	on(5, 3)

	s.keepLargestRegion(raw)

	assert.Equal(t, 3, s.fgCount)
	assert.Equal(t, image.Rect(3, 1, 6, 4), s.bounds)
	assert.False(t, s.foreground(0, 0))
	assert.True(t, s.foreground(4, 2))
}

func TestKeepLargestRegionEmpty(t *testing.T) {
	s := allocScene(image.NewRGBA(image.Rect(0, 0, 3, 3)))
	s.keepLargestRegion(make([]bool, 9))

	assert.Zero(t, s.fgCount)
	assert.True(t, s.bounds.Empty())
}
