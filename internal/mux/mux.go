// Package mux combines a recording's video and audio intermediates into the
// final artifact with an external encoder.
//
// Combine never loses a recording: when the encoder is missing or fails, the
// returned Artifact points at the video intermediate and the intermediates
// stay on disk. The error explains why the result is not muxed.
package mux

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"screenrec/internal/fileutil"
	"screenrec/internal/logging"
)

var (
	// ErrEncoderUnavailable means the encoder binary could not be found.
	ErrEncoderUnavailable = errors.New("encoder unavailable")
	// ErrEncoderFailure means the encoder ran but produced no usable output.
	ErrEncoderFailure = errors.New("encoder failure")
)

type commandRunner func(ctx context.Context, name string, args ...string) error

// Options configures the muxer.
type Options struct {
	Binary     string
	AudioCodec string
	// NormalizeVideoOnly re-containers video-only recordings into the final
	// name instead of handing back the intermediate.
	NormalizeVideoOnly bool
}

// Request names the inputs and output of one combine. AudioPath is empty
// when the recording had no microphone.
type Request struct {
	VideoPath  string
	AudioPath  string
	OutputPath string
}

// Artifact is the usable result of a recording.
type Artifact struct {
	Path  string
	Muxed bool
}

// Muxer runs ffmpeg to produce the final artifact.
type Muxer struct {
	opts     Options
	logger   *slog.Logger
	run      commandRunner
	lookPath func(string) (string, error)
}

// NewMuxer constructs a muxer.
func NewMuxer(logger *slog.Logger, opts Options) *Muxer {
	if strings.TrimSpace(opts.Binary) == "" {
		opts.Binary = "ffmpeg"
	}
	if strings.TrimSpace(opts.AudioCodec) == "" {
		opts.AudioCodec = "aac"
	}
	return &Muxer{
		opts:     opts,
		logger:   logging.NewComponentLogger(logger, "muxer"),
		run:      defaultCommandRunner,
		lookPath: exec.LookPath,
	}
}

// WithCommandRunner allows injecting a custom command runner for tests.
func (m *Muxer) WithCommandRunner(r commandRunner) {
	if m != nil && r != nil {
		m.run = r
	}
}

// WithLookPath replaces binary resolution for tests.
func (m *Muxer) WithLookPath(fn func(string) (string, error)) {
	if m != nil && fn != nil {
		m.lookPath = fn
	}
}

// Combine produces the final artifact for req. The returned Artifact is
// usable whenever the video intermediate exists, even when err is non-nil.
func (m *Muxer) Combine(ctx context.Context, req Request) (Artifact, error) {
	if m == nil {
		return Artifact{}, errors.New("muxer not initialized")
	}
	if strings.TrimSpace(req.VideoPath) == "" {
		return Artifact{}, errors.New("video path is required")
	}
	if !fileutil.Exists(req.VideoPath) {
		return Artifact{}, fmt.Errorf("video intermediate not found: %s", req.VideoPath)
	}
	fallback := Artifact{Path: req.VideoPath}

	hasAudio := req.AudioPath != "" && fileutil.Exists(req.AudioPath)
	if !hasAudio && !m.opts.NormalizeVideoOnly {
		m.logger.Info("video-only recording kept as-is",
			logging.String(logging.FieldEventType, "mux_skipped"),
			logging.String(logging.FieldPath, req.VideoPath),
		)
		return fallback, nil
	}
	if strings.TrimSpace(req.OutputPath) == "" {
		return fallback, fmt.Errorf("%w: output path is required", ErrEncoderFailure)
	}

	binary, err := m.lookPath(m.opts.Binary)
	if err != nil {
		logging.WarnWithContext(m.logger, "encoder not found; keeping video intermediate", "encoder_unavailable",
			logging.String("binary", m.opts.Binary),
			logging.String(logging.FieldPath, req.VideoPath),
			logging.String(logging.FieldErrorHint, "install ffmpeg or set encoder.ffmpeg_binary"),
			logging.String(logging.FieldImpact, "recording saved without audio"),
		)
		return fallback, fmt.Errorf("%w: %s: %w", ErrEncoderUnavailable, m.opts.Binary, err)
	}

	// The encoder writes beside the output and the result is renamed into
	// place, so a failed run never touches an existing file at OutputPath.
	partial := partialPath(req.OutputPath)
	args := m.buildArgs(req, partial, hasAudio)
	m.logger.Debug("executing encoder",
		logging.String("binary", binary),
		logging.String("video", req.VideoPath),
		logging.String("audio", req.AudioPath),
		logging.String("output", req.OutputPath),
	)
	if err := m.run(ctx, binary, args...); err != nil {
		m.discardPartial(partial)
		logging.WarnWithContext(m.logger, "encoder failed; keeping intermediates", "mux_failed",
			logging.Error(err),
			logging.String(logging.FieldPath, req.VideoPath),
			logging.String(logging.FieldImpact, "recording saved as separate video and audio files"),
		)
		return fallback, fmt.Errorf("%w: %w", ErrEncoderFailure, err)
	}
	if !fileutil.Exists(partial) {
		return fallback, fmt.Errorf("%w: encoder did not produce %s", ErrEncoderFailure, req.OutputPath)
	}
	if err := os.Rename(partial, req.OutputPath); err != nil {
		m.discardPartial(partial)
		return fallback, fmt.Errorf("%w: move output into place: %w", ErrEncoderFailure, err)
	}

	m.removeIntermediates(req, hasAudio)
	m.logger.Info("recording finalized",
		logging.String(logging.FieldEventType, "mux_complete"),
		logging.String(logging.FieldPath, req.OutputPath),
		logging.Bool("audio", hasAudio),
	)
	return Artifact{Path: req.OutputPath, Muxed: true}, nil
}

// partialPath keeps the extension so the encoder still infers the container.
func partialPath(output string) string {
	ext := filepath.Ext(output)
	return strings.TrimSuffix(output, ext) + ".partial" + ext
}

func (m *Muxer) buildArgs(req Request, output string, hasAudio bool) []string {
	args := []string{"-y", "-hide_banner", "-loglevel", "error", "-i", req.VideoPath}
	if hasAudio {
		args = append(args, "-i", req.AudioPath, "-c:v", "copy", "-c:a", m.opts.AudioCodec)
	} else {
		args = append(args, "-c:v", "copy")
	}
	return append(args, output)
}

func (m *Muxer) discardPartial(path string) {
	if err := fileutil.RemoveIfExists(path); err != nil {
		m.logger.Warn("failed to remove partial output",
			logging.Error(err),
			logging.String(logging.FieldPath, path),
			logging.String(logging.FieldEventType, "partial_removal_failed"),
		)
	}
}

func (m *Muxer) removeIntermediates(req Request, hasAudio bool) {
	paths := []string{req.VideoPath}
	if hasAudio {
		paths = append(paths, req.AudioPath)
	}
	for _, p := range paths {
		if p == req.OutputPath {
			continue
		}
		if err := os.Remove(p); err != nil {
			m.logger.Warn("failed to remove intermediate after muxing",
				logging.Error(err),
				logging.String(logging.FieldPath, p),
				logging.String(logging.FieldEventType, "intermediate_removal_failed"),
			)
		}
	}
}

// defaultCommandRunner executes the encoder, folding its output into the error.
func defaultCommandRunner(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}
