package sink

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"screenrec/internal/capture"
	"screenrec/internal/logging"
)

const defaultReleaseTimeout = 30 * time.Second

// FFmpegOptions configures the rawvideo encoder.
type FFmpegOptions struct {
	Binary         string
	VideoCodec     string
	Preset         string
	ReleaseTimeout time.Duration
	Logger         *slog.Logger
}

// NewFFmpegOpener returns an Opener that pipes rgb24 frames into ffmpeg.
func NewFFmpegOpener(opts FFmpegOptions) Opener {
	if strings.TrimSpace(opts.Binary) == "" {
		opts.Binary = "ffmpeg"
	}
	if strings.TrimSpace(opts.VideoCodec) == "" {
		opts.VideoCodec = "libx264"
	}
	if opts.ReleaseTimeout <= 0 {
		opts.ReleaseTimeout = defaultReleaseTimeout
	}
	return func(path string, width, height, fps int) (Sink, error) {
		return openFFmpeg(opts, path, width, height, fps)
	}
}

type ffmpegSink struct {
	width   int
	height  int
	path    string
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stderr  *tailBuffer
	timeout time.Duration
	logger  *slog.Logger

	once       sync.Once
	releaseErr error
}

func encoderArgs(opts FFmpegOptions, path string, width, height, fps int) []string {
	args := []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"-video_size", fmt.Sprintf("%dx%d", width, height),
		"-framerate", strconv.Itoa(fps),
		"-i", "-",
		"-c:v", opts.VideoCodec,
	}
	if opts.Preset != "" {
		args = append(args, "-preset", opts.Preset)
	}
	return append(args, "-pix_fmt", "yuv420p", path)
}

func openFFmpeg(opts FFmpegOptions, path string, width, height, fps int) (*ffmpegSink, error) {
	if width <= 0 || height <= 0 || fps <= 0 {
		return nil, fmt.Errorf("invalid sink geometry %dx%d@%d", width, height, fps)
	}
	// The encoder must outlive any caller context so Release can finalize the file.
	cmd := exec.Command(opts.Binary, encoderArgs(opts, path, width, height, fps)...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("encoder stdin: %w", err)
	}
	stderr := &tailBuffer{max: 4096}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", opts.Binary, err)
	}

	logger := logging.NewComponentLogger(opts.Logger, "encoder")
	logger.Debug("encoder started",
		logging.String(logging.FieldPath, path),
		logging.Int("width", width),
		logging.Int("height", height),
		logging.Int("fps", fps),
		logging.String("codec", opts.VideoCodec),
	)
	return &ffmpegSink{
		width:   width,
		height:  height,
		path:    path,
		cmd:     cmd,
		stdin:   stdin,
		stderr:  stderr,
		timeout: opts.ReleaseTimeout,
		logger:  logger,
	}, nil
}

func (s *ffmpegSink) WriteFrame(frame *capture.Frame) error {
	if frame == nil {
		return errors.New("nil frame")
	}
	if frame.Width != s.width || frame.Height != s.height {
		return fmt.Errorf("frame %dx%d does not match sink %dx%d", frame.Width, frame.Height, s.width, s.height)
	}
	if err := frame.Validate(); err != nil {
		return err
	}
	if _, err := s.stdin.Write(frame.Pix); err != nil {
		return fmt.Errorf("write to encoder: %w", err)
	}
	return nil
}

// Release closes the pipe and waits for ffmpeg to finalize the container.
func (s *ffmpegSink) Release() error {
	s.once.Do(func() {
		_ = s.stdin.Close()
		done := make(chan error, 1)
		go func() { done <- s.cmd.Wait() }()

		timer := time.NewTimer(s.timeout)
		defer timer.Stop()
		select {
		case err := <-done:
			if err != nil {
				s.releaseErr = fmt.Errorf("encoder exited: %w: %s", err, strings.TrimSpace(s.stderr.String()))
			}
		case <-timer.C:
			_ = s.cmd.Process.Kill()
			<-done
			s.releaseErr = fmt.Errorf("encoder did not finish within %s", s.timeout)
		}
		if s.releaseErr == nil {
			s.logger.Debug("encoder finished", logging.String(logging.FieldPath, s.path))
		}
	})
	return s.releaseErr
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
