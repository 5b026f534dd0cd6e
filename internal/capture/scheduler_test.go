package capture_test

import (
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"screenrec/internal/capture"
	"screenrec/internal/state"
)

type clockEvent struct {
	at time.Time
	fn func()
}

// fakeClock advances only when the scheduler sleeps, firing scheduled events
// in order as their time passes.
type fakeClock struct {
	t      *testing.T
	mu     sync.Mutex
	start  time.Time
	now    time.Time
	events []clockEvent
}

func newFakeClock(t *testing.T) *fakeClock {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	return &fakeClock{t: t, start: start, now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(d time.Duration) {
	c.Advance(d)
}

func (c *fakeClock) At(offset time.Duration, fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, clockEvent{at: c.start.Add(offset), fn: fn})
	sort.SliceStable(c.events, func(i, j int) bool { return c.events[i].at.Before(c.events[j].at) })
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	if target.Sub(c.start) > time.Minute {
		c.mu.Unlock()
		c.t.Fatalf("fake clock ran past one minute; scheduler never stopped")
	}
	for len(c.events) > 0 && !c.events[0].at.After(target) {
		ev := c.events[0]
		c.events = c.events[1:]
		c.now = ev.at
		c.mu.Unlock()
		ev.fn()
		c.mu.Lock()
	}
	c.now = target
	c.mu.Unlock()
}

type fakeSource struct {
	grabs  int
	onGrab func(n int) error
}

func (s *fakeSource) Bounds() (int, int) { return 4, 2 }

func (s *fakeSource) Grab() (*capture.Frame, error) {
	s.grabs++
	if s.onGrab != nil {
		if err := s.onGrab(s.grabs); err != nil {
			return nil, err
		}
	}
	return capture.NewFrame(4, 2), nil
}

func (s *fakeSource) Close() error { return nil }

type recordingSink struct {
	t     *testing.T
	st    *state.Value
	count int
	err   error
}

func (s *recordingSink) WriteFrame(f *capture.Frame) error {
	if s.err != nil {
		return s.err
	}
	if got := s.st.Load(); got != state.Recording {
		s.t.Errorf("frame written while state was %s", got)
	}
	s.count++
	return nil
}

type compositorFunc func(f *capture.Frame, x, y int) *capture.Frame

func (fn compositorFunc) Composite(f *capture.Frame, x, y int) *capture.Frame { return fn(f, x, y) }

func newHarness(t *testing.T) (*fakeClock, *state.Value, *fakeSource, *recordingSink) {
	t.Helper()
	clock := newFakeClock(t)
	st := &state.Value{}
	st.Store(state.Recording)
	return clock, st, &fakeSource{}, &recordingSink{t: t, st: st}
}

func stopAt(clock *fakeClock, st *state.Value, offset time.Duration) {
	clock.At(offset, func() { st.Store(state.Stopping) })
}

func TestSchedulerHoldsFrameRate(t *testing.T) {
	clock, st, source, sink := newHarness(t)
	stopAt(clock, st, 3*time.Second)

	sched := capture.NewScheduler(st, source, nil, nil, sink, capture.Options{FPS: 30, Clock: clock})
	if err := sched.Run(); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if sink.count < 89 || sink.count > 91 {
		t.Fatalf("expected 90±1 frames in 3s at 30fps, got %d", sink.count)
	}
	if got := sched.Stats().FramesWritten; got != uint64(sink.count) {
		t.Fatalf("stats mismatch: %d vs %d", got, sink.count)
	}
}

func TestSchedulerExcludesPauseFromCadence(t *testing.T) {
	clock, st, source, sink := newHarness(t)
	st.Store(state.Paused)
	clock.At(2*time.Second, func() { st.Store(state.Recording) })
	stopAt(clock, st, 3*time.Second)

	sched := capture.NewScheduler(st, source, nil, nil, sink, capture.Options{FPS: 30, Clock: clock})
	if err := sched.Run(); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if sink.count < 29 || sink.count > 31 {
		t.Fatalf("expected ~30 frames for 1s of active time, got %d", sink.count)
	}
	if source.grabs != sink.count {
		t.Fatalf("expected no grabs while paused, got %d grabs for %d frames", source.grabs, sink.count)
	}
}

func TestSchedulerDropsFrameWhenPausedMidTick(t *testing.T) {
	clock, st, source, sink := newHarness(t)
	calls := 0
	comp := compositorFunc(func(f *capture.Frame, x, y int) *capture.Frame {
		calls++
		if calls == 3 {
			st.Store(state.Paused)
		}
		return f
	})
	pointer := capture.PointerFunc(func() (int, int, error) { return 1, 1, nil })
	clock.At(500*time.Millisecond, func() { st.Store(state.Recording) })
	stopAt(clock, st, time.Second)

	sched := capture.NewScheduler(st, source, pointer, comp, sink, capture.Options{FPS: 30, Clock: clock})
	if err := sched.Run(); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	stats := sched.Stats()
	if stats.FramesDropped != 1 {
		t.Fatalf("expected exactly one dropped frame, got %d", stats.FramesDropped)
	}
	if sink.count <= 2 {
		t.Fatalf("expected capture to resume after pause, got %d frames", sink.count)
	}
}

func TestSchedulerSwallowsPreviewPanics(t *testing.T) {
	clock, st, source, sink := newHarness(t)
	stopAt(clock, st, time.Second)

	sched := capture.NewScheduler(st, source, nil, nil, sink, capture.Options{
		FPS:     30,
		Clock:   clock,
		Preview: func(*capture.Frame) { panic("preview exploded") },
	})
	if err := sched.Run(); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	stats := sched.Stats()
	if sink.count < 29 {
		t.Fatalf("expected capture to continue despite preview panics, got %d frames", sink.count)
	}
	if stats.PreviewFailures != stats.FramesWritten {
		t.Fatalf("expected a preview failure per frame, got %d for %d", stats.PreviewFailures, stats.FramesWritten)
	}
}

func TestSchedulerWritesWithoutCursorOnPointerFailure(t *testing.T) {
	clock, st, source, sink := newHarness(t)
	stopAt(clock, st, 500*time.Millisecond)
	composited := 0
	comp := compositorFunc(func(f *capture.Frame, x, y int) *capture.Frame {
		composited++
		return f
	})
	pointer := capture.PointerFunc(func() (int, int, error) { return 0, 0, errors.New("no pointer") })

	sched := capture.NewScheduler(st, source, pointer, comp, sink, capture.Options{FPS: 30, Clock: clock})
	if err := sched.Run(); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if composited != 0 {
		t.Fatalf("expected no composite calls, got %d", composited)
	}
	if sink.count == 0 || sched.Stats().PointerFailures != uint64(sink.count) {
		t.Fatalf("expected frames written with pointer failures counted, got %d frames %+v", sink.count, sched.Stats())
	}
}

func TestSchedulerRecoversCompositorPanic(t *testing.T) {
	clock, st, source, sink := newHarness(t)
	stopAt(clock, st, 200*time.Millisecond)
	comp := compositorFunc(func(*capture.Frame, int, int) *capture.Frame { panic("bad sprite") })
	pointer := capture.PointerFunc(func() (int, int, error) { return 0, 0, nil })

	sched := capture.NewScheduler(st, source, pointer, comp, sink, capture.Options{FPS: 30, Clock: clock})
	if err := sched.Run(); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if sink.count == 0 {
		t.Fatal("expected frames to be written after compositor panic")
	}
}

func TestSchedulerStopsOnCaptureFailure(t *testing.T) {
	tests := []struct {
		name      string
		grabErrAt int
		sinkErr   error
		want      int
	}{
		{name: "grab failure", grabErrAt: 5, want: 4},
		{name: "sink failure", sinkErr: errors.New("broken pipe"), want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock, st, source, sink := newHarness(t)
			stopAt(clock, st, 10*time.Second)
			sink.err = tt.sinkErr
			if tt.grabErrAt > 0 {
				source.onGrab = func(n int) error {
					if n == tt.grabErrAt {
						return errors.New("display gone")
					}
					return nil
				}
			}

			sched := capture.NewScheduler(st, source, nil, nil, sink, capture.Options{FPS: 30, Clock: clock})
			err := sched.Run()
			if !errors.Is(err, capture.ErrCaptureFailure) {
				t.Fatalf("expected ErrCaptureFailure, got %v", err)
			}
			if got := st.Load(); got != state.Stopping {
				t.Fatalf("expected state stopping, got %s", got)
			}
			if sink.count != tt.want {
				t.Fatalf("expected %d frames before failure, got %d", tt.want, sink.count)
			}
		})
	}
}

func TestSchedulerCapsCatchUp(t *testing.T) {
	clock, st, source, sink := newHarness(t)
	stopAt(clock, st, 3*time.Second)
	source.onGrab = func(n int) error {
		if n == 3 {
			clock.Advance(1010 * time.Millisecond)
		}
		return nil
	}

	sched := capture.NewScheduler(st, source, nil, nil, sink, capture.Options{FPS: 30, MaxCatchUp: 3, Clock: clock})
	if err := sched.Run(); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if got := sched.Stats().TicksSkipped; got != 26 {
		t.Fatalf("expected 26 skipped ticks after a 1.01s stall, got %d", got)
	}
}

func TestSchedulerReturnsImmediatelyWhenIdle(t *testing.T) {
	clock, st, source, sink := newHarness(t)
	st.Store(state.Idle)
	sched := capture.NewScheduler(st, source, nil, nil, sink, capture.Options{Clock: clock})
	if err := sched.Run(); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if source.grabs != 0 {
		t.Fatalf("expected no grabs, got %d", source.grabs)
	}
}
