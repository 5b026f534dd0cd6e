// Package sink encodes captured frames into a video file.
package sink

import (
	"sync/atomic"

	"screenrec/internal/capture"
)

// Sink accepts frames in order and finalizes the file on Release.
type Sink interface {
	WriteFrame(frame *capture.Frame) error
	Release() error
}

// Opener creates a sink writing width x height frames at fps to path.
type Opener func(path string, width, height, fps int) (Sink, error)

// Guarded wraps a Sink so Release runs once and writes that arrive after it
// (from a capture loop that missed its join deadline) are discarded.
type Guarded struct {
	inner     Sink
	released  atomic.Bool
	discarded atomic.Uint64
}

// NewGuarded wraps inner.
func NewGuarded(inner Sink) *Guarded {
	return &Guarded{inner: inner}
}

// WriteFrame forwards to the inner sink until Release.
func (g *Guarded) WriteFrame(frame *capture.Frame) error {
	if g.released.Load() {
		g.discarded.Add(1)
		return nil
	}
	err := g.inner.WriteFrame(frame)
	if err != nil && g.released.Load() {
		// Lost the race with Release; the write is late, not a failure.
		g.discarded.Add(1)
		return nil
	}
	return err
}

// Release finalizes the inner sink exactly once. Later calls return nil.
func (g *Guarded) Release() error {
	if !g.released.CompareAndSwap(false, true) {
		return nil
	}
	return g.inner.Release()
}

// Discarded returns the number of writes dropped after Release.
func (g *Guarded) Discarded() uint64 {
	return g.discarded.Load()
}
