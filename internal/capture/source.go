package capture

import (
	"context"
	"errors"
)

// ErrCaptureFailure marks failures of the capture path itself (frame grab or
// sink write). The scheduler stops when it sees one.
var ErrCaptureFailure = errors.New("capture failure")

// Source yields full-screen frames.
type Source interface {
	Bounds() (width, height int)
	Grab() (*Frame, error)
	Close() error
}

// Opener creates a Source for one recording.
type Opener func(ctx context.Context) (Source, error)

// PointerSource reports the global pointer position in screen coordinates.
type PointerSource interface {
	Position() (x, y int, err error)
}

// PointerFunc adapts a function to PointerSource.
type PointerFunc func() (int, int, error)

// Position implements PointerSource.
func (f PointerFunc) Position() (int, int, error) {
	return f()
}

// Compositor overlays the cursor on a frame.
type Compositor interface {
	Composite(frame *Frame, x, y int) *Frame
}

// FrameWriter consumes finished frames. Ownership of the frame transfers to
// the writer.
type FrameWriter interface {
	WriteFrame(frame *Frame) error
}
