package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"screenrec/internal/logging"
)

const (
	defaultChunkFrames = 1024
	startupTimeout     = 3 * time.Second
)

// DeviceConfig selects an input and how samples are delivered.
type DeviceConfig struct {
	ID          string
	Channels    int
	SampleRate  int
	ChunkFrames int
	// OnChunk runs on the device goroutine. The chunk may be reused after it returns.
	OnChunk func(Chunk)
}

// Device is an opened audio input. After Stop returns no further chunks are
// delivered.
type Device interface {
	Start() error
	Stop() error
	Close() error
}

// Opener opens a device for one recording.
type Opener func(ctx context.Context, cfg DeviceConfig) (Device, error)

// FFmpegOptions configures the ffmpeg-backed input.
type FFmpegOptions struct {
	Binary string
	// InputFormat is the ffmpeg demuxer, "pulse" or "alsa".
	InputFormat string
	Logger      *slog.Logger
}

// NewFFmpegOpener returns an Opener that reads f32le samples from ffmpeg.
func NewFFmpegOpener(opts FFmpegOptions) Opener {
	if strings.TrimSpace(opts.Binary) == "" {
		opts.Binary = "ffmpeg"
	}
	if strings.TrimSpace(opts.InputFormat) == "" {
		opts.InputFormat = "pulse"
	}
	return func(ctx context.Context, cfg DeviceConfig) (Device, error) {
		if strings.TrimSpace(cfg.ID) == "" {
			return nil, errors.New("audio device id is empty")
		}
		if cfg.OnChunk == nil {
			return nil, errors.New("audio device needs a chunk callback")
		}
		if cfg.Channels <= 0 {
			cfg.Channels = Channels
		}
		if cfg.SampleRate <= 0 {
			cfg.SampleRate = SampleRate
		}
		if cfg.ChunkFrames <= 0 {
			cfg.ChunkFrames = defaultChunkFrames
		}
		return &ffmpegDevice{
			opts:   opts,
			cfg:    cfg,
			ctx:    context.WithoutCancel(ctx),
			logger: logging.NewComponentLogger(opts.Logger, "audio"),
		}, nil
	}
}

type ffmpegDevice struct {
	opts   FFmpegOptions
	cfg    DeviceConfig
	ctx    context.Context
	logger *slog.Logger

	mu       sync.Mutex
	cmd      *exec.Cmd
	cancel   context.CancelFunc
	done     chan struct{}
	stderr   syncBuffer
	started  bool
	stopped  bool
	closeErr error
	closed   sync.Once
}

func ffmpegInputArgs(format, id string, channels, rate int) []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-f", format,
		"-i", id,
		"-ac", strconv.Itoa(channels),
		"-ar", strconv.Itoa(rate),
		"-f", "f32le",
		"-",
	}
}

func (d *ffmpegDevice) Start() error {
	first, err := d.launch()
	if err != nil {
		return err
	}
	select {
	case <-first:
		return nil
	case <-d.done:
		return fmt.Errorf("audio input %q exited: %s", d.cfg.ID, d.stderrText())
	case <-time.After(startupTimeout):
		d.logger.Debug("no audio within startup window; continuing", logging.String("device", d.cfg.ID))
		return nil
	}
}

func (d *ffmpegDevice) launch() (<-chan struct{}, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return nil, errors.New("audio device already started")
	}

	procCtx, cancel := context.WithCancel(d.ctx)
	cmd := exec.CommandContext(procCtx, d.opts.Binary,
		ffmpegInputArgs(d.opts.InputFormat, d.cfg.ID, d.cfg.Channels, d.cfg.SampleRate)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("audio stdout pipe: %w", err)
	}
	cmd.Stderr = &d.stderr
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start %s: %w", d.opts.Binary, err)
	}
	d.cmd = cmd
	d.cancel = cancel
	d.done = make(chan struct{})
	d.started = true

	first := make(chan struct{})
	go d.readLoop(stdout, first)
	return first, nil
}

func (d *ffmpegDevice) readLoop(r io.Reader, first chan struct{}) {
	defer close(d.done)
	raw := make([]byte, d.cfg.ChunkFrames*d.cfg.Channels*4)
	chunk := make(Chunk, d.cfg.ChunkFrames*d.cfg.Channels)
	signalled := false
	for {
		n, err := io.ReadFull(r, raw)
		// Deliver whole sample frames only; a trailing partial frame is dropped.
		if samples := (n / (4 * d.cfg.Channels)) * d.cfg.Channels; samples > 0 {
			for i := 0; i < samples; i++ {
				chunk[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
			}
			d.cfg.OnChunk(chunk[:samples])
			if !signalled {
				close(first)
				signalled = true
			}
		}
		if err != nil {
			return
		}
	}
}

func (d *ffmpegDevice) stderrText() string {
	if msg := strings.TrimSpace(d.stderr.String()); msg != "" {
		return msg
	}
	return "no output"
}

// Stop ends the ffmpeg process and waits for the reader so no chunk arrives
// after it returns.
func (d *ffmpegDevice) Stop() error {
	d.mu.Lock()
	if !d.started || d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	cancel, done, cmd := d.cancel, d.done, d.cmd
	d.mu.Unlock()

	cancel()
	<-done
	_ = cmd.Wait()
	return nil
}

func (d *ffmpegDevice) Close() error {
	d.closed.Do(func() {
		d.closeErr = d.Stop()
	})
	return d.closeErr
}

// syncBuffer is a bytes.Buffer safe for one writer and concurrent readers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
