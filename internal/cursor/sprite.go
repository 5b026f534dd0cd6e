// Package cursor loads cursor sprites and blends them onto captured frames.
package cursor

import (
	"image"

	"golang.org/x/image/draw"
)

// Size is the fixed edge length of every sprite, in pixels.
const Size = 32

// Sprite is an immutable Size x Size non-premultiplied RGBA image.
type Sprite struct {
	img *image.NRGBA
}

// NewSprite converts img to a sprite, scaling it to Size x Size.
func NewSprite(img image.Image) *Sprite {
	dst := image.NewNRGBA(image.Rect(0, 0, Size, Size))
	b := img.Bounds()
	if b.Dx() == Size && b.Dy() == Size {
		draw.Copy(dst, image.Point{}, img, b, draw.Src, nil)
	} else {
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	}
	return &Sprite{img: dst}
}

// Image returns the sprite pixels. Callers must not modify them.
func (s *Sprite) Image() *image.NRGBA {
	return s.img
}

// DefaultSprite draws the built-in arrow: a white triangle with corners
// (0,0), (0,16), (12,12) outlined in black.
func DefaultSprite() *Sprite {
	img := image.NewNRGBA(image.Rect(0, 0, Size, Size))
	inside := func(x, y int) bool {
		if x < 0 || y < 0 || x >= Size || y >= Size {
			return false
		}
		return inTriangle(float64(x)+0.5, float64(y)+0.5)
	}
	for y := 0; y < Size; y++ {
		for x := 0; x < Size; x++ {
			if !inside(x, y) {
				continue
			}
			edge := !inside(x-1, y) || !inside(x+1, y) || !inside(x, y-1) || !inside(x, y+1)
			i := img.PixOffset(x, y)
			v := uint8(255)
			if edge {
				v = 0
			}
			img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = v, v, v, 255
		}
	}
	return &Sprite{img: img}
}

// inTriangle tests p against the arrow triangle using edge signs.
func inTriangle(px, py float64) bool {
	const (
		ax, ay = 0.0, 0.0
		bx, by = 0.0, 16.0
		cx, cy = 12.0, 12.0
	)
	d1 := sign(px, py, ax, ay, bx, by)
	d2 := sign(px, py, bx, by, cx, cy)
	d3 := sign(px, py, cx, cy, ax, ay)
	hasNeg := d1 < 0 || d2 < 0 || d3 < 0
	hasPos := d1 > 0 || d2 > 0 || d3 > 0
	return !(hasNeg && hasPos)
}

func sign(px, py, x1, y1, x2, y2 float64) float64 {
	return (px-x2)*(y1-y2) - (x1-x2)*(py-y2)
}
