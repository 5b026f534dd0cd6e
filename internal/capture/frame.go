package capture

import "fmt"

// BytesPerPixel is the channel count of a Frame (RGB, no alpha).
const BytesPerPixel = 3

// Frame is a dense row-major RGB image with stride 3*Width.
type Frame struct {
	Width  int
	Height int
	Pix    []byte
}

// NewFrame allocates a black frame of the given size.
func NewFrame(width, height int) *Frame {
	return &Frame{
		Width:  width,
		Height: height,
		Pix:    make([]byte, FrameSize(width, height)),
	}
}

// FrameSize returns the byte length of a width x height frame.
func FrameSize(width, height int) int {
	if width <= 0 || height <= 0 {
		return 0
	}
	return width * height * BytesPerPixel
}

// Stride returns the byte length of one row.
func (f *Frame) Stride() int {
	return f.Width * BytesPerPixel
}

// Offset returns the index of the first byte of pixel (x, y).
func (f *Frame) Offset(x, y int) int {
	return y*f.Stride() + x*BytesPerPixel
}

// Validate reports whether Pix matches the declared dimensions.
func (f *Frame) Validate() error {
	if f == nil {
		return fmt.Errorf("frame is nil")
	}
	if want := FrameSize(f.Width, f.Height); want == 0 || len(f.Pix) != want {
		return fmt.Errorf("frame %dx%d has %d bytes, want %d", f.Width, f.Height, len(f.Pix), want)
	}
	return nil
}
