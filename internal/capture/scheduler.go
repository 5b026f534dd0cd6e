package capture

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"screenrec/internal/logging"
	"screenrec/internal/state"
)

const (
	defaultFPS        = 30
	defaultPausePoll  = 100 * time.Millisecond
	defaultMaxCatchUp = 3
)

// Options tunes a Scheduler. Zero values select the defaults.
type Options struct {
	FPS        int
	PausePoll  time.Duration
	MaxCatchUp int
	Clock      Clock
	Logger     *slog.Logger
	// Preview observes every written frame. It must not retain or mutate it.
	Preview func(*Frame)
}

// Stats is a snapshot of the scheduler counters.
type Stats struct {
	FramesWritten   uint64
	FramesDropped   uint64
	TicksSkipped    uint64
	PreviewFailures uint64
	PointerFailures uint64
}

// Scheduler drives frame capture at a fixed rate while the shared state is
// Recording, idling while it is Paused, and returning once it is Stopping.
type Scheduler struct {
	state      *state.Value
	source     Source
	pointer    PointerSource
	compositor Compositor
	sink       FrameWriter

	period     time.Duration
	pausePoll  time.Duration
	maxCatchUp int
	clock      Clock
	logger     *slog.Logger
	preview    func(*Frame)

	written         atomic.Uint64
	dropped         atomic.Uint64
	skipped         atomic.Uint64
	previewFailures atomic.Uint64
	pointerFailures atomic.Uint64
}

// NewScheduler wires a scheduler. pointer and compositor may be nil, in which
// case frames are written without a cursor.
func NewScheduler(st *state.Value, source Source, pointer PointerSource, compositor Compositor, sink FrameWriter, opts Options) *Scheduler {
	fps := opts.FPS
	if fps <= 0 {
		fps = defaultFPS
	}
	pausePoll := opts.PausePoll
	if pausePoll <= 0 {
		pausePoll = defaultPausePoll
	}
	maxCatchUp := opts.MaxCatchUp
	if maxCatchUp <= 0 {
		maxCatchUp = defaultMaxCatchUp
	}
	clock := opts.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	return &Scheduler{
		state:      st,
		source:     source,
		pointer:    pointer,
		compositor: compositor,
		sink:       sink,
		period:     time.Second / time.Duration(fps),
		pausePoll:  pausePoll,
		maxCatchUp: maxCatchUp,
		clock:      clock,
		logger:     logging.NewComponentLogger(opts.Logger, "scheduler"),
		preview:    opts.Preview,
	}
}

// Period returns the nominal interval between ticks.
func (s *Scheduler) Period() time.Duration {
	return s.period
}

// Stats returns the current counters. Safe from any goroutine.
func (s *Scheduler) Stats() Stats {
	return Stats{
		FramesWritten:   s.written.Load(),
		FramesDropped:   s.dropped.Load(),
		TicksSkipped:    s.skipped.Load(),
		PreviewFailures: s.previewFailures.Load(),
		PointerFailures: s.pointerFailures.Load(),
	}
}

// Run executes the capture loop until the state leaves Recording/Paused.
// A capture-path failure moves the state to Stopping and is returned
// wrapped in ErrCaptureFailure.
func (s *Scheduler) Run() error {
	next := s.clock.Now()
	var pausedAt time.Time
	catchUpLimit := time.Duration(s.maxCatchUp) * s.period

	for {
		switch s.state.Load() {
		case state.Stopping, state.Idle:
			return nil
		case state.Paused:
			if pausedAt.IsZero() {
				pausedAt = s.clock.Now()
			}
			s.clock.Sleep(s.pausePoll)
			continue
		}

		now := s.clock.Now()
		if !pausedAt.IsZero() {
			// Pause time is not charged against cadence.
			next = next.Add(now.Sub(pausedAt))
			pausedAt = time.Time{}
		}

		if now.Before(next) {
			s.clock.Sleep(next.Sub(now))
			continue
		}

		if behind := now.Sub(next); behind > catchUpLimit {
			missed := int64((behind - catchUpLimit) / s.period)
			if missed > 0 {
				next = next.Add(time.Duration(missed) * s.period)
				total := s.skipped.Add(uint64(missed))
				s.logger.Debug("capture fell behind; skipping ticks",
					logging.String(logging.FieldEventType, "ticks_skipped"),
					logging.Int64("skipped", missed),
					logging.Int64("skipped_total", int64(total)),
					logging.Duration("behind", behind),
				)
			}
		}

		if err := s.tick(); err != nil {
			s.state.Abort()
			logging.ErrorWithContext(s.logger, "capture loop stopped", "capture_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check the display connection and encoder process"),
				logging.Int64("frames_written", int64(s.written.Load())),
			)
			return err
		}
		next = next.Add(s.period)
	}
}

func (s *Scheduler) tick() error {
	frame, err := s.source.Grab()
	if err != nil {
		return fmt.Errorf("%w: grab frame: %w", ErrCaptureFailure, err)
	}
	if frame == nil {
		return fmt.Errorf("%w: grab returned no frame", ErrCaptureFailure)
	}

	frame = s.overlayCursor(frame)

	// Pause may have been requested while this tick was in flight.
	if s.state.Load() != state.Recording {
		s.dropped.Add(1)
		return nil
	}
	if err := s.sink.WriteFrame(frame); err != nil {
		return fmt.Errorf("%w: write frame: %w", ErrCaptureFailure, err)
	}
	s.written.Add(1)
	s.notifyPreview(frame)
	return nil
}

func (s *Scheduler) overlayCursor(frame *Frame) (out *Frame) {
	if s.pointer == nil || s.compositor == nil {
		return frame
	}
	x, y, err := s.pointer.Position()
	if err != nil {
		if n := s.pointerFailures.Add(1); shouldLog(n) {
			logging.WarnWithContext(s.logger, "pointer position unavailable", "pointer_failed",
				logging.Error(err),
				logging.Int64("failures", int64(n)),
				logging.String(logging.FieldImpact, "frames are written without a cursor"),
			)
		}
		return frame
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("cursor composite panicked",
				logging.String(logging.FieldEventType, "composite_panic"),
				logging.Any("panic", r),
			)
			out = frame
		}
	}()
	if composited := s.compositor.Composite(frame, x, y); composited != nil {
		return composited
	}
	return frame
}

func (s *Scheduler) notifyPreview(frame *Frame) {
	if s.preview == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			if n := s.previewFailures.Add(1); shouldLog(n) {
				s.logger.Warn("preview observer failed",
					logging.String(logging.FieldEventType, "preview_failed"),
					logging.Any("panic", r),
					logging.Int64("failures", int64(n)),
				)
			}
		}
	}()
	s.preview(frame)
}

// shouldLog thins repeated per-tick failures to the first and every 100th.
func shouldLog(n uint64) bool {
	return n == 1 || n%100 == 0
}
