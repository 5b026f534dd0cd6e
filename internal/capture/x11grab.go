package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"screenrec/internal/logging"
)

const firstFrameTimeout = 5 * time.Second

// X11Options configures the ffmpeg x11grab source.
type X11Options struct {
	FFmpegBinary string
	Display      string
	FPS          int
	// Width and Height of the grabbed area; zero asks Geometry.
	Width    int
	Height   int
	Geometry func(ctx context.Context) (int, int, error)
	Logger   *slog.Logger
}

// X11Source reads rgb24 frames from a persistent ffmpeg x11grab process and
// keeps only the newest one.
type X11Source struct {
	width  int
	height int
	cmd    *exec.Cmd
	cancel context.CancelFunc
	logger *slog.Logger

	mu      sync.Mutex
	latest  []byte
	ready   chan struct{}
	done    chan struct{}
	readErr error
	stderr  *limitedBuffer

	closeOnce sync.Once
}

// NewX11Opener returns an Opener that starts an x11grab process per recording.
func NewX11Opener(opts X11Options) Opener {
	return func(ctx context.Context) (Source, error) {
		return OpenX11(ctx, opts)
	}
}

// OpenX11 starts ffmpeg and waits for the first frame.
func OpenX11(ctx context.Context, opts X11Options) (*X11Source, error) {
	width, height := opts.Width, opts.Height
	if width <= 0 || height <= 0 {
		if opts.Geometry == nil {
			return nil, errors.New("x11grab: screen size unknown")
		}
		var err error
		if width, height, err = opts.Geometry(ctx); err != nil {
			return nil, fmt.Errorf("x11grab: %w", err)
		}
	}
	// x264 with yuv420p needs even dimensions.
	width &^= 1
	height &^= 1
	fps := opts.FPS
	if fps <= 0 {
		fps = defaultFPS
	}
	binary := opts.FFmpegBinary
	if strings.TrimSpace(binary) == "" {
		binary = "ffmpeg"
	}

	// The grabber outlives the caller's context; Close ends it.
	procCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	cmd := exec.CommandContext(procCtx, binary, x11grabArgs(opts.Display, fps, width, height)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("x11grab: stdout pipe: %w", err)
	}
	stderr := &limitedBuffer{max: 4096}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("x11grab: start %s: %w", binary, err)
	}

	src := &X11Source{
		width:  width,
		height: height,
		cmd:    cmd,
		cancel: cancel,
		logger: logging.NewComponentLogger(opts.Logger, "x11grab"),
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
		stderr: stderr,
	}
	go src.readLoop(stdout)

	select {
	case <-src.ready:
	case <-src.done:
		_ = src.Close()
		return nil, fmt.Errorf("x11grab: %w", src.failure())
	case <-time.After(firstFrameTimeout):
		_ = src.Close()
		return nil, fmt.Errorf("x11grab: no frame within %s", firstFrameTimeout)
	}

	src.logger.Debug("x11grab started",
		logging.String("display", opts.Display),
		logging.Int("width", width),
		logging.Int("height", height),
		logging.Int("fps", fps),
	)
	return src, nil
}

func x11grabArgs(display string, fps, width, height int) []string {
	if strings.TrimSpace(display) == "" {
		display = ":0.0"
	}
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "x11grab",
		"-draw_mouse", "0",
		"-framerate", strconv.Itoa(fps),
		"-video_size", fmt.Sprintf("%dx%d", width, height),
		"-i", display,
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"-",
	}
}

func (s *X11Source) readLoop(r io.Reader) {
	defer close(s.done)
	size := FrameSize(s.width, s.height)
	buf := make([]byte, size)
	first := true
	for {
		if _, err := io.ReadFull(r, buf); err != nil {
			s.mu.Lock()
			s.readErr = err
			s.mu.Unlock()
			return
		}
		s.mu.Lock()
		// Swap so the next read reuses the stale buffer.
		s.latest, buf = buf, s.latest
		s.mu.Unlock()
		if buf == nil {
			buf = make([]byte, size)
		}
		if first {
			close(s.ready)
			first = false
		}
	}
}

func (s *X11Source) failure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := strings.TrimSpace(s.stderr.String())
	switch {
	case s.readErr != nil && msg != "":
		return fmt.Errorf("%w: %s", s.readErr, msg)
	case s.readErr != nil:
		return s.readErr
	case msg != "":
		return errors.New(msg)
	default:
		return errors.New("grabber exited")
	}
}

// Bounds implements Source.
func (s *X11Source) Bounds() (int, int) {
	return s.width, s.height
}

// Grab returns a copy of the newest frame. If the grabber has not produced a
// new frame since the last call the previous one is repeated.
func (s *X11Source) Grab() (*Frame, error) {
	select {
	case <-s.done:
		return nil, s.failure()
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		return nil, errors.New("no frame available")
	}
	frame := &Frame{Width: s.width, Height: s.height, Pix: make([]byte, len(s.latest))}
	copy(frame.Pix, s.latest)
	return frame, nil
}

// Close stops the grabber process. Safe to call more than once.
func (s *X11Source) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
		_ = s.cmd.Wait()
	})
	return nil
}

// limitedBuffer keeps the first max bytes written to it.
type limitedBuffer struct {
	mu  sync.Mutex
	max int
	buf bytes.Buffer
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := b.max - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
