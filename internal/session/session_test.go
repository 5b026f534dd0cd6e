package session_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofrs/flock"

	"screenrec/internal/audio"
	"screenrec/internal/capture"
	"screenrec/internal/history"
	"screenrec/internal/logging"
	"screenrec/internal/mux"
	"screenrec/internal/session"
	"screenrec/internal/sink"
	"screenrec/internal/state"
)

type fakeSource struct {
	grabErr error
	// gate, when set, blocks the first Grab until closed.
	gate    chan struct{}
	entered chan struct{}
	once    sync.Once
	grabs   atomic.Int64
	closes  atomic.Int32
}

func (f *fakeSource) Bounds() (int, int) { return 4, 2 }

func (f *fakeSource) Grab() (*capture.Frame, error) {
	f.grabs.Add(1)
	if f.gate != nil {
		f.once.Do(func() {
			close(f.entered)
			<-f.gate
		})
	}
	if f.grabErr != nil {
		return nil, f.grabErr
	}
	return capture.NewFrame(4, 2), nil
}

func (f *fakeSource) Close() error {
	f.closes.Add(1)
	return nil
}

type fakeSink struct {
	writes   atomic.Int64
	releases atomic.Int32
}

func (f *fakeSink) WriteFrame(*capture.Frame) error {
	f.writes.Add(1)
	return nil
}

func (f *fakeSink) Release() error {
	f.releases.Add(1)
	return nil
}

type fakeDevice struct {
	cfg    audio.DeviceConfig
	chunks []audio.Chunk
	stops  atomic.Int32
	closes atomic.Int32
}

func (d *fakeDevice) Start() error {
	for _, c := range d.chunks {
		d.cfg.OnChunk(c)
	}
	return nil
}

func (d *fakeDevice) Stop() error  { d.stops.Add(1); return nil }
func (d *fakeDevice) Close() error { d.closes.Add(1); return nil }

type fakeMuxer struct {
	mu       sync.Mutex
	requests []mux.Request
	err      error
}

func (m *fakeMuxer) Combine(_ context.Context, req mux.Request) (mux.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.err != nil {
		return mux.Artifact{Path: req.VideoPath}, m.err
	}
	return mux.Artifact{Path: req.OutputPath, Muxed: true}, nil
}

type fakeHistory struct {
	mu      sync.Mutex
	entries []history.Entry
	max     map[string]int
}

func (h *fakeHistory) Record(_ context.Context, e history.Entry) (history.Entry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, e)
	return e, nil
}

func (h *fakeHistory) MaxChunkIndex(_ context.Context, base string) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if idx, ok := h.max[base]; ok {
		return idx, nil
	}
	return -1, nil
}

// manualClock reports a time the test controls; Sleep yields briefly in
// real time so the capture loop does not spin.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Sleep(time.Duration) { time.Sleep(time.Millisecond) }

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	dir     string
	source  *fakeSource
	sinks   []*fakeSink
	sinkMu  sync.Mutex
	device  *fakeDevice
	muxer   *fakeMuxer
	history *fakeHistory
	deps    session.Deps
	opts    session.Options
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		dir:     t.TempDir(),
		source:  &fakeSource{},
		muxer:   &fakeMuxer{},
		history: &fakeHistory{max: map[string]int{}},
	}
	h.deps = session.Deps{
		OpenSource: func(context.Context) (capture.Source, error) { return h.source, nil },
		OpenSink: func(path string, _, _, _ int) (sink.Sink, error) {
			if err := os.WriteFile(path, []byte("video"), 0o644); err != nil {
				return nil, err
			}
			s := &fakeSink{}
			h.sinkMu.Lock()
			h.sinks = append(h.sinks, s)
			h.sinkMu.Unlock()
			return s, nil
		},
		OpenAudio: func(_ context.Context, cfg audio.DeviceConfig) (audio.Device, error) {
			h.device = &fakeDevice{cfg: cfg, chunks: []audio.Chunk{{0.1, 0.1}, {0.2, 0.2}}}
			return h.device, nil
		},
		Muxer:   h.muxer,
		History: h.history,
	}
	h.opts = session.Options{
		OutputDir:   h.dir,
		FPS:         100,
		PausePoll:   5 * time.Millisecond,
		JoinTimeout: time.Second,
		Logger:      logging.NewNop(),
	}
	return h
}

func (h *harness) session(t *testing.T) *session.Session {
	t.Helper()
	s, err := session.New(h.deps, h.opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return s
}

func (h *harness) sink(i int) *fakeSink {
	h.sinkMu.Lock()
	defer h.sinkMu.Unlock()
	return h.sinks[i]
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestStartStopProducesArtifact(t *testing.T) {
	h := newHarness(t)
	h.opts.BaseName = "demo"
	s := h.session(t)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if s.State() != state.Recording {
		t.Fatalf("state = %s, want recording", s.State())
	}
	waitFor(t, func() bool { return h.sink(0).writes.Load() >= 3 })

	res := s.Stop(context.Background())
	if !res.OK() {
		t.Fatalf("unexpected failures: %v", res.Failures)
	}
	want := filepath.Join(h.dir, "demo_final.mp4")
	if res.Artifact != (mux.Artifact{Path: want, Muxed: true}) {
		t.Fatalf("artifact = %+v", res.Artifact)
	}
	if len(h.muxer.requests) != 1 || h.muxer.requests[0].AudioPath != "" {
		t.Fatalf("expected one video-only mux request, got %+v", h.muxer.requests)
	}
	if h.muxer.requests[0].VideoPath != filepath.Join(h.dir, "demo_chunk0.mp4") {
		t.Fatalf("video path = %s", h.muxer.requests[0].VideoPath)
	}
	if s.State() != state.Idle {
		t.Fatalf("state after stop = %s", s.State())
	}
	if res.Stats.FramesWritten == 0 || res.Stats.FramesWritten != uint64(h.sink(0).writes.Load()) {
		t.Fatalf("frames written %d, sink saw %d", res.Stats.FramesWritten, h.sink(0).writes.Load())
	}
	if art, ok := s.LastArtifact(); !ok || art.Path != want {
		t.Fatalf("LastArtifact = %+v, %v", art, ok)
	}
	if len(h.history.entries) != 1 || h.history.entries[0].ID != res.SessionID || !h.history.entries[0].Muxed {
		t.Fatalf("history entries %+v", h.history.entries)
	}

	other := flock.New(filepath.Join(h.dir, session.LockFile))
	ok, err := other.TryLock()
	if err != nil || !ok {
		t.Fatalf("output lock still held after Stop: %v", err)
	}
	_ = other.Unlock()
}

func TestStopTwiceReleasesOnce(t *testing.T) {
	h := newHarness(t)
	s := h.session(t)
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	first := s.Stop(context.Background())
	second := s.Stop(context.Background())

	if first.SessionID == "" || second.SessionID != first.SessionID {
		t.Fatalf("second Stop returned a different result: %q vs %q", second.SessionID, first.SessionID)
	}
	if n := h.sink(0).releases.Load(); n != 1 {
		t.Fatalf("sink released %d times", n)
	}
	if n := h.source.closes.Load(); n != 1 {
		t.Fatalf("source closed %d times", n)
	}
	if len(h.muxer.requests) != 1 || len(h.history.entries) != 1 {
		t.Fatal("finalization ran more than once")
	}
}

func TestStopWhenNeverStarted(t *testing.T) {
	h := newHarness(t)
	res := h.session(t).Stop(context.Background())
	if res.SessionID != "" || !res.OK() {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestStartWhileActiveIsRejected(t *testing.T) {
	h := newHarness(t)
	s := h.session(t)
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop(context.Background())

	if err := s.Start(context.Background()); !errors.Is(err, session.ErrAlreadyRecording) {
		t.Fatalf("expected ErrAlreadyRecording, got %v", err)
	}
	if s.State() != state.Recording {
		t.Fatalf("state changed to %s", s.State())
	}
}

func TestStartRejectsLockedOutputDir(t *testing.T) {
	h := newHarness(t)
	other := flock.New(filepath.Join(h.dir, session.LockFile))
	if ok, err := other.TryLock(); err != nil || !ok {
		t.Fatalf("could not take lock: %v", err)
	}
	defer other.Unlock()

	s := h.session(t)
	if err := s.Start(context.Background()); !errors.Is(err, session.ErrAlreadyRecording) {
		t.Fatalf("expected ErrAlreadyRecording, got %v", err)
	}
	if s.State() != state.Idle || h.source.closes.Load() != 0 {
		t.Fatal("nothing should have been opened")
	}
}

func TestStartDeviceFailureReleasesEverything(t *testing.T) {
	h := newHarness(t)
	h.deps.OpenAudio = func(context.Context, audio.DeviceConfig) (audio.Device, error) {
		return nil, errors.New("no such source")
	}
	h.opts.Microphone = "missing-mic"
	h.opts.BaseName = "broken"
	s := h.session(t)

	err := s.Start(context.Background())
	if !errors.Is(err, session.ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable, got %v", err)
	}
	if s.State() != state.Idle {
		t.Fatalf("state = %s, want idle", s.State())
	}
	if h.source.closes.Load() != 1 || h.sink(0).releases.Load() != 1 {
		t.Fatal("opened resources were not released")
	}
	if _, err := os.Stat(filepath.Join(h.dir, "broken_chunk0.mp4")); !os.IsNotExist(err) {
		t.Fatalf("partial video should be removed, stat err = %v", err)
	}

	s.SetMicrophone("")
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start after failure: %v", err)
	}
	s.Stop(context.Background())
}

func TestStartSourceFailure(t *testing.T) {
	h := newHarness(t)
	h.deps.OpenSource = func(context.Context) (capture.Source, error) {
		return nil, errors.New("cannot open display")
	}
	s := h.session(t)
	if err := s.Start(context.Background()); !errors.Is(err, session.ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable, got %v", err)
	}
	if len(h.sinks) != 0 {
		t.Fatal("sink must not be opened without a source")
	}
}

func TestPauseResumeTransitions(t *testing.T) {
	h := newHarness(t)
	s := h.session(t)

	if err := s.Pause(); !errors.Is(err, session.ErrInvalidTransition) {
		t.Fatalf("pause while idle: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop(context.Background())

	if err := s.Resume(); !errors.Is(err, session.ErrInvalidTransition) {
		t.Fatalf("resume while recording: %v", err)
	}
	if err := s.Pause(); err != nil {
		t.Fatal(err)
	}
	if err := s.Pause(); !errors.Is(err, session.ErrInvalidTransition) {
		t.Fatalf("double pause: %v", err)
	}
	if s.State() != state.Paused {
		t.Fatalf("state = %s", s.State())
	}
	if err := s.Resume(); err != nil {
		t.Fatal(err)
	}
	if s.State() != state.Recording {
		t.Fatalf("state = %s", s.State())
	}
}

func TestElapsedExcludesPauses(t *testing.T) {
	h := newHarness(t)
	clock := &manualClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	h.opts.Clock = clock
	s := h.session(t)

	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	clock.Advance(10 * time.Second)
	mustNil(t, s.Pause())
	clock.Advance(5 * time.Second)
	mustNil(t, s.Resume())
	clock.Advance(3 * time.Second)
	mustNil(t, s.Pause())
	clock.Advance(2 * time.Second)

	if got := s.Elapsed(); got != 13*time.Second {
		t.Fatalf("Elapsed while paused = %v, want 13s", got)
	}
	mustNil(t, s.Resume())
	clock.Advance(time.Second)
	if got := s.Elapsed(); got != 14*time.Second {
		t.Fatalf("Elapsed = %v, want 14s", got)
	}

	res := s.Stop(context.Background())
	if res.Elapsed != 14*time.Second {
		t.Fatalf("result elapsed = %v, want 14s", res.Elapsed)
	}
	if res.BaseName != "20260102_030405" {
		t.Fatalf("timestamp base name = %q", res.BaseName)
	}
	if s.Elapsed() != 0 {
		t.Fatal("Elapsed should be zero when idle")
	}
}

func TestMicrophoneAudioIsFlushedAndMuxed(t *testing.T) {
	h := newHarness(t)
	h.opts.Microphone = "usb-mic"
	h.opts.BaseName = "talk"
	var levels atomic.Int32
	h.opts.OnLevel = func(float64) { levels.Add(1) }
	s := h.session(t)

	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	res := s.Stop(context.Background())
	if !res.OK() {
		t.Fatalf("failures: %v", res.Failures)
	}

	wav := filepath.Join(h.dir, "talk_chunk0.wav")
	if res.AudioPath != wav || h.muxer.requests[0].AudioPath != wav {
		t.Fatalf("audio path = %q, mux request %+v", res.AudioPath, h.muxer.requests[0])
	}
	f, err := os.Open(wav)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	buf, err := audio.ReadWAV(f)
	if err != nil {
		t.Fatal(err)
	}
	if len(buf.Samples) != 4 || buf.Samples[2] != 0.2 {
		t.Fatalf("wav samples = %v", buf.Samples)
	}
	if h.device.stops.Load() != 1 || h.device.closes.Load() != 1 {
		t.Fatal("device should be stopped and closed once")
	}
	if h.device.cfg.ID != "usb-mic" || h.device.cfg.Channels != audio.Channels || h.device.cfg.SampleRate != audio.SampleRate {
		t.Fatalf("device config %+v", h.device.cfg)
	}
	if levels.Load() != 2 {
		t.Fatalf("expected 2 meter updates, got %d", levels.Load())
	}
}

func TestCaptureFailureEndsLoop(t *testing.T) {
	h := newHarness(t)
	h.source.grabErr = errors.New("display went away")
	s := h.session(t)

	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done not closed after capture failure")
	}
	if s.State() != state.Stopping {
		t.Fatalf("state = %s, want stopping", s.State())
	}

	res := s.Stop(context.Background())
	if !errors.Is(res.Worst(), session.ErrCaptureFailure) {
		t.Fatalf("worst = %v, want capture failure", res.Worst())
	}
	if res.Artifact.Path == "" {
		t.Fatal("artifact must still be set when the sink produced a file")
	}
	if s.State() != state.Idle {
		t.Fatalf("state after stop = %s", s.State())
	}
}

func TestAbandonedCaptureGoroutineIsIsolated(t *testing.T) {
	h := newHarness(t)
	h.opts.JoinTimeout = 50 * time.Millisecond
	stuck := &fakeSource{gate: make(chan struct{}), entered: make(chan struct{})}
	sources := []*fakeSource{stuck, {}}
	var opened atomic.Int32
	h.deps.OpenSource = func(context.Context) (capture.Source, error) {
		return sources[opened.Add(1)-1], nil
	}
	s := h.session(t)

	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	<-stuck.entered
	oldDone := s.Done()

	res := s.Stop(context.Background())
	if !res.Abandoned {
		t.Fatal("expected abandoned capture goroutine")
	}
	if !errors.Is(res.Worst(), session.ErrThreadJoinTimeout) {
		t.Fatalf("worst = %v, want join timeout", res.Worst())
	}
	if res.Artifact.Path == "" {
		t.Fatal("artifact must be set after abandonment")
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start after abandonment: %v", err)
	}
	close(stuck.gate)
	select {
	case <-oldDone:
	case <-time.After(2 * time.Second):
		t.Fatal("abandoned goroutine never exited")
	}
	if s.State() != state.Recording {
		t.Fatalf("abandoned goroutine changed the new recording's state to %s", s.State())
	}
	if n := h.sink(0).writes.Load(); n != 0 {
		t.Fatalf("abandoned goroutine wrote %d frames after release", n)
	}
	waitFor(t, func() bool { return h.sink(1).writes.Load() > 0 })
	if res := s.Stop(context.Background()); !res.OK() {
		t.Fatalf("second recording failures: %v", res.Failures)
	}
}

func TestChunkIndexAdvancesForRepeatedName(t *testing.T) {
	h := newHarness(t)
	s := h.session(t)
	mustNil(t, s.SetBaseName("lesson"))

	for want := 0; want <= 1; want++ {
		mustNil(t, s.Start(context.Background()))
		res := s.Stop(context.Background())
		if res.ChunkIndex != want {
			t.Fatalf("chunk = %d, want %d", res.ChunkIndex, want)
		}
	}

	h.history.max["lesson"] = 7
	mustNil(t, s.Start(context.Background()))
	if res := s.Stop(context.Background()); res.ChunkIndex != 8 {
		t.Fatalf("chunk = %d, want 8 from history", res.ChunkIndex)
	}
}

func TestChunkIndexContinuesFromEarlierRun(t *testing.T) {
	h := newHarness(t)
	h.history.max["lesson"] = 0
	s := h.session(t)
	mustNil(t, s.SetBaseName("lesson"))

	mustNil(t, s.Start(context.Background()))
	res := s.Stop(context.Background())
	if res.ChunkIndex != 1 {
		t.Fatalf("chunk = %d, want 1 after a stored chunk 0", res.ChunkIndex)
	}
	if h.muxer.requests[0].VideoPath != filepath.Join(h.dir, "lesson_chunk1.mp4") {
		t.Fatalf("video path = %s", h.muxer.requests[0].VideoPath)
	}
}

func TestEncoderFailureFallsBackToVideo(t *testing.T) {
	h := newHarness(t)
	h.muxer.err = mux.ErrEncoderFailure
	s := h.session(t)
	mustNil(t, s.Start(context.Background()))
	res := s.Stop(context.Background())

	if !errors.Is(res.Worst(), mux.ErrEncoderFailure) {
		t.Fatalf("worst = %v", res.Worst())
	}
	if res.Artifact.Muxed || res.Artifact.Path != res.VideoPath {
		t.Fatalf("expected video fallback, got %+v", res.Artifact)
	}
	if h.history.entries[0].Failure == "" {
		t.Fatal("history should carry the failure")
	}
}

func TestSetBaseNameRejectsPaths(t *testing.T) {
	h := newHarness(t)
	s := h.session(t)
	for _, name := range []string{"a/b", `a\b`, ".."} {
		if err := s.SetBaseName(name); err == nil {
			t.Fatalf("expected error for %q", name)
		}
	}
}

func TestNewRequiresAdapters(t *testing.T) {
	if _, err := session.New(session.Deps{}, session.Options{OutputDir: t.TempDir()}); err == nil {
		t.Fatal("expected error without adapters")
	}
	h := newHarness(t)
	h.opts.OutputDir = ""
	if _, err := session.New(h.deps, h.opts); err == nil {
		t.Fatal("expected error without output dir")
	}
}

func mustNil(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}
