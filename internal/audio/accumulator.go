// Package audio collects microphone samples for one recording.
//
// A Device delivers interleaved float32 chunks on its own goroutine; the
// Accumulator keeps them in arrival order while the session is not paused
// and publishes a volume level per chunk. After the device stops, Flush
// hands the concatenated samples to WriteWAV.
package audio

import (
	"math"
	"sync"

	"screenrec/internal/state"
)

const (
	// SampleRate of every capture, in Hz.
	SampleRate = 44100
	// Channels of every capture (interleaved stereo).
	Channels = 2
	// DefaultMeterGain scales RMS into the 0..1 meter range.
	DefaultMeterGain = 10.0
)

// Chunk is one delivery of interleaved samples.
type Chunk []float32

// Buffer is the flushed audio of one recording.
type Buffer struct {
	Samples    []float32
	SampleRate int
	Channels   int
}

// Frames returns the number of per-channel sample frames.
func (b Buffer) Frames() int {
	if b.Channels <= 0 {
		return 0
	}
	return len(b.Samples) / b.Channels
}

// Empty reports whether the buffer holds no samples.
func (b Buffer) Empty() bool {
	return len(b.Samples) == 0
}

// Accumulator collects chunks while the shared state is not Paused.
type Accumulator struct {
	state   *state.Value
	gain    float64
	onLevel func(float64)

	mu      sync.Mutex
	chunks  []Chunk
	samples int
	dropped int
}

// NewAccumulator builds an accumulator reading pause state from st. A
// non-positive gain selects DefaultMeterGain. onLevel may be nil.
func NewAccumulator(st *state.Value, gain float64, onLevel func(float64)) *Accumulator {
	if gain <= 0 {
		gain = DefaultMeterGain
	}
	return &Accumulator{state: st, gain: gain, onLevel: onLevel}
}

// Handle is the device callback. Chunks arriving while paused are dropped
// without metering. The chunk is copied; the caller may reuse it.
func (a *Accumulator) Handle(chunk Chunk) {
	if len(chunk) == 0 {
		return
	}
	if a.state != nil && a.state.Load() == state.Paused {
		a.mu.Lock()
		a.dropped++
		a.mu.Unlock()
		return
	}

	owned := make(Chunk, len(chunk))
	copy(owned, chunk)

	a.mu.Lock()
	a.chunks = append(a.chunks, owned)
	a.samples += len(owned)
	a.mu.Unlock()

	if a.onLevel != nil {
		a.onLevel(Level(owned, a.gain))
	}
}

// Flush concatenates the retained chunks in arrival order and clears them.
func (a *Accumulator) Flush() Buffer {
	a.mu.Lock()
	chunks := a.chunks
	total := a.samples
	a.chunks = nil
	a.samples = 0
	a.mu.Unlock()

	out := make([]float32, 0, total)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return Buffer{Samples: out, SampleRate: SampleRate, Channels: Channels}
}

// Dropped returns how many chunks were discarded while paused.
func (a *Accumulator) Dropped() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dropped
}

// Level returns clamp(rms(samples) * gain, 0, 1).
func Level(samples []float32, gain float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	level := rms * gain
	switch {
	case math.IsNaN(level) || level < 0:
		return 0
	case level > 1:
		return 1
	default:
		return level
	}
}
