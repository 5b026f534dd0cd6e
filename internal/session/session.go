// Package session owns one recording at a time: it opens the frame source,
// video sink and microphone, runs the capture loop, and on Stop turns the
// intermediates into a final artifact.
//
// Control calls (Start, Pause, Resume, Stop) are serialized by a mutex. The
// recording state lives in a state.Value that belongs to the current run and
// is shared with the capture goroutine and the audio callback. Each run gets
// a fresh value, so a capture goroutine abandoned after a join timeout can
// never observe or change the state of a later recording.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"screenrec/internal/audio"
	"screenrec/internal/capture"
	"screenrec/internal/fileutil"
	"screenrec/internal/history"
	"screenrec/internal/logging"
	"screenrec/internal/mux"
	"screenrec/internal/sink"
	"screenrec/internal/state"
)

const (
	// LockFile is created in the output directory while a recording runs.
	LockFile = ".screenrec.lock"
	// BaseNameLayout formats the default base name from the start time.
	BaseNameLayout = "20060102_150405"

	defaultJoinTimeout = 2 * time.Second
)

// Combiner produces the final artifact from the intermediates.
type Combiner interface {
	Combine(ctx context.Context, req mux.Request) (mux.Artifact, error)
}

// Recorder persists finished recordings.
type Recorder interface {
	Record(ctx context.Context, e history.Entry) (history.Entry, error)
	MaxChunkIndex(ctx context.Context, baseName string) (int, error)
}

// Deps are the adapters a session drives. OpenSource and OpenSink are
// required; the rest are optional.
type Deps struct {
	OpenSource capture.Opener
	OpenSink   sink.Opener
	OpenAudio  audio.Opener
	Pointer    capture.PointerSource
	Compositor capture.Compositor
	Muxer      Combiner
	History    Recorder
}

// Options configures a session.
type Options struct {
	OutputDir   string
	FPS         int
	PausePoll   time.Duration
	MaxCatchUp  int
	JoinTimeout time.Duration
	ChunkFrames int
	MeterGain   float64
	// Microphone is the initial input; empty records video only.
	Microphone string
	// BaseName is the initial explicit name; empty uses the start time.
	BaseName string
	Clock    capture.Clock
	Logger   *slog.Logger
	Preview  func(*capture.Frame)
	OnLevel  func(float64)
}

// Session records the screen.
type Session struct {
	deps   Deps
	opts   Options
	clock  capture.Clock
	logger *slog.Logger

	mu         sync.Mutex
	baseName   string
	microphone string
	lastBase   string
	lastChunk  int
	last       *Result

	cur          atomic.Pointer[run]
	lastArtifact atomic.Pointer[mux.Artifact]
	lastStats    atomic.Pointer[Stats]
}

// run is one recording from Start to Stop.
type run struct {
	id         string
	state      *state.Value
	base       string
	chunk      int
	microphone string
	videoPath  string
	audioPath  string
	finalPath  string
	logger     *slog.Logger

	lock      *flock.Flock
	source    capture.Source
	sink      *sink.Guarded
	device    audio.Device
	acc       *audio.Accumulator
	scheduler *capture.Scheduler

	done    chan struct{}
	loopErr error

	tmu       sync.Mutex
	startedAt time.Time
	pausedAt  time.Time
	paused    time.Duration
}

var closedDone = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// New constructs an idle session.
func New(deps Deps, opts Options) (*Session, error) {
	if deps.OpenSource == nil || deps.OpenSink == nil {
		return nil, errors.New("session requires a frame source and a video sink")
	}
	if strings.TrimSpace(opts.OutputDir) == "" {
		return nil, errors.New("session requires an output directory")
	}
	if opts.FPS <= 0 {
		opts.FPS = 30
	}
	if opts.JoinTimeout <= 0 {
		opts.JoinTimeout = defaultJoinTimeout
	}
	if opts.MeterGain <= 0 {
		opts.MeterGain = audio.DefaultMeterGain
	}
	clock := opts.Clock
	if clock == nil {
		clock = capture.SystemClock{}
	}
	if err := validateBaseName(opts.BaseName); err != nil {
		return nil, err
	}
	return &Session{
		deps:       deps,
		opts:       opts,
		clock:      clock,
		logger:     logging.NewComponentLogger(opts.Logger, "session"),
		baseName:   strings.TrimSpace(opts.BaseName),
		microphone: strings.TrimSpace(opts.Microphone),
	}, nil
}

// SetBaseName sets the explicit base name used by the next recording. An
// empty name restores timestamp naming.
func (s *Session) SetBaseName(name string) error {
	name = strings.TrimSpace(name)
	if err := validateBaseName(name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.baseName = name
	return nil
}

// SetMicrophone selects the input for the next recording. Empty disables audio.
func (s *Session) SetMicrophone(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.microphone = strings.TrimSpace(id)
}

// State returns the current recording state.
func (s *Session) State() state.State {
	if r := s.cur.Load(); r != nil {
		return r.state.Load()
	}
	return state.Idle
}

// Done is closed when the current capture goroutine exits. When idle it
// returns a closed channel.
func (s *Session) Done() <-chan struct{} {
	if r := s.cur.Load(); r != nil {
		return r.done
	}
	return closedDone
}

// Stats returns the live counters, or those of the last recording when idle.
func (s *Session) Stats() Stats {
	if r := s.cur.Load(); r != nil {
		return r.stats()
	}
	if st := s.lastStats.Load(); st != nil {
		return *st
	}
	return Stats{}
}

// Elapsed returns the active recording time, excluding pauses.
func (s *Session) Elapsed() time.Duration {
	if r := s.cur.Load(); r != nil {
		return r.elapsed(s.clock.Now())
	}
	return 0
}

// LastArtifact returns the artifact of the most recent finished recording.
func (s *Session) LastArtifact() (mux.Artifact, bool) {
	if a := s.lastArtifact.Load(); a != nil {
		return *a, true
	}
	return mux.Artifact{}, false
}

// Start begins a recording. It fails with ErrAlreadyRecording unless idle,
// and with ErrDeviceUnavailable when any input or output cannot be opened,
// in which case everything opened so far is released.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r := s.cur.Load(); r != nil {
		return fmt.Errorf("%w: session is %s", ErrAlreadyRecording, r.state.Load())
	}
	if err := os.MkdirAll(s.opts.OutputDir, 0o755); err != nil {
		return Wrap(ErrDeviceUnavailable, StageOpenSink, "create output directory", err)
	}

	lock := flock.New(filepath.Join(s.opts.OutputDir, LockFile))
	ok, err := lock.TryLock()
	if err != nil {
		return Wrap(ErrDeviceUnavailable, StageOpenSink, "acquire output lock", err)
	}
	if !ok {
		return fmt.Errorf("%w: another recording holds %s", ErrAlreadyRecording, lock.Path())
	}

	now := s.clock.Now()
	r := &run{
		id:         uuid.NewString(),
		state:      &state.Value{},
		microphone: s.microphone,
		lock:       lock,
		done:       make(chan struct{}),
	}
	r.base = s.baseName
	if r.base == "" {
		r.base = now.Format(BaseNameLayout)
	}
	r.chunk = s.nextChunk(ctx, r.base)
	r.videoPath = filepath.Join(s.opts.OutputDir, fmt.Sprintf("%s_chunk%d.mp4", r.base, r.chunk))
	r.audioPath = filepath.Join(s.opts.OutputDir, fmt.Sprintf("%s_chunk%d.wav", r.base, r.chunk))
	r.finalPath = filepath.Join(s.opts.OutputDir, r.base+"_final.mp4")
	r.logger = logging.WithSessionID(s.logger, r.id)

	if err := s.open(ctx, r); err != nil {
		r.closeOpened(s.logger)
		logging.ErrorWithContext(r.logger, "recording failed to start", "start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the display, microphone and encoder"),
		)
		return err
	}

	r.startedAt = now
	r.state.Store(state.Recording)
	s.lastBase, s.lastChunk = r.base, r.chunk
	s.cur.Store(r)
	go func() {
		defer close(r.done)
		r.loopErr = r.scheduler.Run()
	}()

	r.logger.Info("recording started",
		logging.String(logging.FieldEventType, "recording_started"),
		logging.String(logging.FieldPath, r.videoPath),
		logging.String("base_name", r.base),
		logging.Int("chunk", r.chunk),
		logging.String("microphone", r.microphone),
	)
	return nil
}

// nextChunk numbers recordings from 0 per base name. The index follows both
// this session's previous recording and the highest index in history.
func (s *Session) nextChunk(ctx context.Context, base string) int {
	chunk := -1
	if base == s.lastBase {
		chunk = s.lastChunk
	}
	if s.deps.History != nil {
		stored, err := s.deps.History.MaxChunkIndex(ctx, base)
		if err != nil {
			s.logger.Debug("chunk index lookup failed", logging.Error(err))
		} else if stored > chunk {
			chunk = stored
		}
	}
	return chunk + 1
}

func (s *Session) open(ctx context.Context, r *run) error {
	source, err := s.deps.OpenSource(ctx)
	if err != nil {
		return Wrap(ErrDeviceUnavailable, StageOpenSource, "open frame source", err)
	}
	r.source = source

	width, height := source.Bounds()
	vs, err := s.deps.OpenSink(r.videoPath, width, height, s.opts.FPS)
	if err != nil {
		return Wrap(ErrDeviceUnavailable, StageOpenSink, "open video sink", err)
	}
	r.sink = sink.NewGuarded(vs)

	if r.microphone != "" {
		if s.deps.OpenAudio == nil {
			return Wrap(ErrDeviceUnavailable, StageOpenAudio, "no audio backend for "+r.microphone, nil)
		}
		r.acc = audio.NewAccumulator(r.state, s.opts.MeterGain, s.opts.OnLevel)
		dev, err := s.deps.OpenAudio(ctx, audio.DeviceConfig{
			ID:          r.microphone,
			Channels:    audio.Channels,
			SampleRate:  audio.SampleRate,
			ChunkFrames: s.opts.ChunkFrames,
			OnChunk:     r.acc.Handle,
		})
		if err != nil {
			return Wrap(ErrDeviceUnavailable, StageOpenAudio, "open microphone "+r.microphone, err)
		}
		r.device = dev
		if err := dev.Start(); err != nil {
			return Wrap(ErrDeviceUnavailable, StageOpenAudio, "start microphone "+r.microphone, err)
		}
	}

	r.scheduler = capture.NewScheduler(r.state, r.source, s.deps.Pointer, s.deps.Compositor, r.sink, capture.Options{
		FPS:        s.opts.FPS,
		PausePoll:  s.opts.PausePoll,
		MaxCatchUp: s.opts.MaxCatchUp,
		Clock:      s.clock,
		Logger:     r.logger,
		Preview:    s.opts.Preview,
	})
	return nil
}

// Pause suspends capture. Only valid while recording.
func (s *Session) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.cur.Load()
	if r == nil || !r.state.CompareAndSwap(state.Recording, state.Paused) {
		return fmt.Errorf("%w: pause from %s", ErrInvalidTransition, s.State())
	}
	r.tmu.Lock()
	r.pausedAt = s.clock.Now()
	r.tmu.Unlock()
	r.logger.Info("recording paused", logging.String(logging.FieldEventType, "recording_paused"))
	return nil
}

// Resume continues a paused recording.
func (s *Session) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.cur.Load()
	if r == nil || !r.state.CompareAndSwap(state.Paused, state.Recording) {
		return fmt.Errorf("%w: resume from %s", ErrInvalidTransition, s.State())
	}
	r.endPause(s.clock.Now())
	r.logger.Info("recording resumed", logging.String(logging.FieldEventType, "recording_resumed"))
	return nil
}

// Stop ends the recording and finalizes its artifact. Every stage runs even
// when an earlier one failed; failures are collected in the Result. Calling
// Stop while idle returns the previous Result.
func (s *Session) Stop(ctx context.Context) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.cur.Load()
	if r == nil {
		if s.last != nil {
			return *s.last
		}
		return Result{}
	}

	stoppedAt := s.clock.Now()
	r.endPause(stoppedAt)
	r.state.Store(state.Stopping)

	res := Result{
		SessionID:  r.id,
		BaseName:   r.base,
		ChunkIndex: r.chunk,
		VideoPath:  r.videoPath,
		StartedAt:  r.startedAt,
		StoppedAt:  stoppedAt,
		Elapsed:    r.elapsed(stoppedAt),
	}

	s.join(r, &res)
	r.release(&res)
	s.flushAudio(r, &res)
	s.combine(ctx, r, &res)
	res.Stats = r.stats()
	s.record(ctx, r, &res)

	if err := r.lock.Unlock(); err != nil {
		res.fail(StageUnlock, Wrap(ErrCleanup, StageUnlock, "release output lock", err))
	}
	r.state.Store(state.Idle)
	s.cur.Store(nil)

	s.last = &res
	if res.Artifact.Path != "" {
		artifact := res.Artifact
		s.lastArtifact.Store(&artifact)
	}
	stats := res.Stats
	s.lastStats.Store(&stats)
	s.logResult(r, res)
	return res
}

func (s *Session) join(r *run, res *Result) {
	timer := time.NewTimer(s.opts.JoinTimeout)
	defer timer.Stop()
	select {
	case <-r.done:
		if r.loopErr != nil {
			res.fail(StageRunLoop, Wrap(ErrCaptureFailure, StageRunLoop, "", r.loopErr))
		}
	case <-timer.C:
		res.Abandoned = true
		res.fail(StageJoin, Wrap(ErrThreadJoinTimeout, StageJoin, fmt.Sprintf("capture did not exit within %s", s.opts.JoinTimeout), nil))
		logging.WarnWithContext(r.logger, "capture goroutine abandoned", "capture_abandoned",
			logging.Duration("join_timeout", s.opts.JoinTimeout),
			logging.String(logging.FieldImpact, "late frames are discarded"),
		)
	}
}

// release closes the sink, source and microphone. Each is released once.
func (r *run) release(res *Result) {
	if r.sink != nil {
		if err := r.sink.Release(); err != nil {
			res.fail(StageReleaseSink, Wrap(ErrCaptureFailure, StageReleaseSink, "finalize video", err))
		}
	}
	if r.source != nil {
		if err := r.source.Close(); err != nil {
			res.fail(StageCloseSource, Wrap(ErrCleanup, StageCloseSource, "", err))
		}
	}
	if r.device != nil {
		if err := r.device.Stop(); err != nil {
			res.fail(StageStopAudio, Wrap(ErrDeviceUnavailable, StageStopAudio, "stop microphone", err))
		}
		if err := r.device.Close(); err != nil {
			res.fail(StageStopAudio, Wrap(ErrCleanup, StageStopAudio, "close microphone", err))
		}
	}
}

// closeOpened releases whatever a failed Start managed to open.
func (r *run) closeOpened(logger *slog.Logger) {
	if r.device != nil {
		_ = r.device.Stop()
		_ = r.device.Close()
	}
	if r.sink != nil {
		_ = r.sink.Release()
		_ = fileutil.RemoveIfExists(r.videoPath)
	}
	if r.source != nil {
		_ = r.source.Close()
	}
	if err := r.lock.Unlock(); err != nil {
		logger.Warn("failed to release output lock", logging.Error(err))
	}
}

func (s *Session) flushAudio(r *run, res *Result) {
	if r.acc == nil {
		return
	}
	buf := r.acc.Flush()
	if buf.Empty() {
		r.logger.Debug("no audio captured", logging.String("microphone", r.microphone))
		return
	}
	if err := audio.WriteWAV(r.audioPath, buf); err != nil {
		res.fail(StageFlushAudio, Wrap(ErrDeviceUnavailable, StageFlushAudio, "write audio", err))
		return
	}
	res.AudioPath = r.audioPath
}

func (s *Session) combine(ctx context.Context, r *run, res *Result) {
	if !fileutil.Exists(r.videoPath) {
		res.fail(StageMux, Wrap(mux.ErrEncoderFailure, StageMux, "video intermediate missing", nil))
		return
	}
	fallback := mux.Artifact{Path: r.videoPath}
	if s.deps.Muxer == nil {
		res.Artifact = fallback
		return
	}
	art, err := s.deps.Muxer.Combine(ctx, mux.Request{
		VideoPath:  r.videoPath,
		AudioPath:  res.AudioPath,
		OutputPath: r.finalPath,
	})
	if art.Path == "" {
		art = fallback
	}
	res.Artifact = art
	if err != nil {
		marker := mux.ErrEncoderFailure
		if errors.Is(err, mux.ErrEncoderUnavailable) {
			marker = mux.ErrEncoderUnavailable
		}
		res.fail(StageMux, Wrap(marker, StageMux, "", err))
	}
}

func (s *Session) record(ctx context.Context, r *run, res *Result) {
	if s.deps.History == nil {
		return
	}
	entry := history.Entry{
		ID:            r.id,
		BaseName:      r.base,
		ChunkIndex:    r.chunk,
		StartedAt:     res.StartedAt,
		StoppedAt:     res.StoppedAt,
		Active:        res.Elapsed,
		Microphone:    r.microphone,
		ArtifactPath:  res.Artifact.Path,
		Muxed:         res.Artifact.Muxed,
		FramesWritten: res.Stats.FramesWritten,
		FramesDropped: res.Stats.FramesDropped,
		Abandoned:     res.Abandoned,
	}
	if worst := res.Worst(); worst != nil {
		entry.Failure = worst.Error()
	}
	if _, err := s.deps.History.Record(ctx, entry); err != nil {
		res.fail(StageHistory, Wrap(ErrCleanup, StageHistory, "record history", err))
	}
}

func (s *Session) logResult(r *run, res Result) {
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "recording_stopped"),
		logging.String(logging.FieldPath, res.Artifact.Path),
		logging.Bool("muxed", res.Artifact.Muxed),
		logging.Duration("elapsed", res.Elapsed),
		logging.Int64("frames_written", int64(res.Stats.FramesWritten)),
		logging.Int64("frames_dropped", int64(res.Stats.FramesDropped)),
		logging.Int64("ticks_skipped", int64(res.Stats.TicksSkipped)),
		logging.Bool("abandoned", res.Abandoned),
	}
	if res.OK() {
		r.logger.Info("recording stopped", logging.Args(attrs...)...)
		return
	}
	for _, f := range res.Failures {
		r.logger.Debug("stop stage failed", logging.String("stage", f.Stage), logging.Error(f.Err))
	}
	attrs = append(attrs,
		logging.Error(res.Worst()),
		logging.Int("failures", len(res.Failures)),
		logging.String(logging.FieldImpact, "artifact may be incomplete or unmuxed"),
	)
	logging.WarnWithContext(r.logger, "recording stopped with failures", "recording_stopped_degraded", attrs...)
}

func (r *run) endPause(now time.Time) {
	r.tmu.Lock()
	defer r.tmu.Unlock()
	if !r.pausedAt.IsZero() {
		r.paused += now.Sub(r.pausedAt)
		r.pausedAt = time.Time{}
	}
}

func (r *run) elapsed(now time.Time) time.Duration {
	r.tmu.Lock()
	defer r.tmu.Unlock()
	if r.startedAt.IsZero() {
		return 0
	}
	d := now.Sub(r.startedAt) - r.paused
	if !r.pausedAt.IsZero() {
		d -= now.Sub(r.pausedAt)
	}
	if d < 0 {
		return 0
	}
	return d
}

func (r *run) stats() Stats {
	var st Stats
	if r.scheduler != nil {
		st.Stats = r.scheduler.Stats()
	}
	if r.acc != nil {
		st.AudioChunksDropped = r.acc.Dropped()
	}
	if r.sink != nil {
		st.LateFramesDiscarded = r.sink.Discarded()
	}
	return st
}

func validateBaseName(name string) error {
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("invalid base name %q", name)
	}
	return nil
}
