// Package state holds the recording session state shared between the
// session's control calls, the capture goroutine and the audio callback.
//
// The session is the only writer during normal operation. Readers poll the
// value without locking; the capture loop may additionally move an active
// session to Stopping when capture can no longer continue.
package state

import "sync/atomic"

// State enumerates the lifecycle of one recording session.
type State int32

const (
	Idle State = iota
	Recording
	Paused
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Paused:
		return "paused"
	case Stopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Active reports whether capture is logically running (recording or paused).
func (s State) Active() bool {
	return s == Recording || s == Paused
}

// Value is an atomic State. The zero value is Idle.
type Value struct {
	v atomic.Int32
}

// Load returns the current state.
func (v *Value) Load() State {
	return State(v.v.Load())
}

// Store sets the state unconditionally.
func (v *Value) Store(s State) {
	v.v.Store(int32(s))
}

// CompareAndSwap transitions from old to next if the current value is old.
func (v *Value) CompareAndSwap(old, next State) bool {
	return v.v.CompareAndSwap(int32(old), int32(next))
}

// Abort moves an active session (recording or paused) to Stopping. It
// returns false when the session was not active.
func (v *Value) Abort() bool {
	for {
		cur := v.Load()
		if !cur.Active() {
			return false
		}
		if v.CompareAndSwap(cur, Stopping) {
			return true
		}
	}
}
