package cursor

import (
	"sync/atomic"

	"screenrec/internal/capture"
)

// Compositor blends the active sprite onto frames. The sprite can be swapped
// from any goroutine while compositing is in progress.
type Compositor struct {
	sprite atomic.Pointer[Sprite]
}

// NewCompositor returns a compositor with the given active sprite (may be nil).
func NewCompositor(s *Sprite) *Compositor {
	c := &Compositor{}
	c.sprite.Store(s)
	return c
}

// SetSprite replaces the active sprite. Nil disables the overlay.
func (c *Compositor) SetSprite(s *Sprite) {
	c.sprite.Store(s)
}

// Sprite returns the active sprite.
func (c *Compositor) Sprite() *Sprite {
	return c.sprite.Load()
}

// Composite alpha-blends the sprite onto frame in place with its top-left
// corner at (x, y), clipped to the frame. The same frame is returned.
func (c *Compositor) Composite(frame *capture.Frame, x, y int) *capture.Frame {
	sp := c.sprite.Load()
	if sp == nil || frame == nil || frame.Validate() != nil {
		return frame
	}
	src := sp.img

	x0, y0 := max(x, 0), max(y, 0)
	x1, y1 := min(x+Size, frame.Width), min(y+Size, frame.Height)
	if x0 >= x1 || y0 >= y1 {
		return frame
	}

	for fy := y0; fy < y1; fy++ {
		si := src.PixOffset(x0-x, fy-y)
		fi := frame.Offset(x0, fy)
		for fx := x0; fx < x1; fx++ {
			a := int(src.Pix[si+3])
			if a == 255 {
				frame.Pix[fi] = src.Pix[si]
				frame.Pix[fi+1] = src.Pix[si+1]
				frame.Pix[fi+2] = src.Pix[si+2]
			} else if a != 0 {
				for ch := 0; ch < 3; ch++ {
					f := int(frame.Pix[fi+ch])
					s := int(src.Pix[si+ch])
					frame.Pix[fi+ch] = uint8((f*(255-a) + s*a + 127) / 255)
				}
			}
			si += 4
			fi += capture.BytesPerPixel
		}
	}
	return frame
}
