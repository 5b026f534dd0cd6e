package main

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"

	"screenrec/internal/audio"
	"screenrec/internal/capture"
	"screenrec/internal/config"
	"screenrec/internal/cursor"
	"screenrec/internal/devices"
	"screenrec/internal/history"
	"screenrec/internal/logging"
	"screenrec/internal/mux"
	"screenrec/internal/session"
	"screenrec/internal/sink"
)

// recorder bundles a session with the background helpers a recording from
// the command line uses: the cursor file watcher, the hotplug monitor and
// the history store.
type recorder struct {
	session *session.Session
	history *history.Store
	watcher *cursor.Watcher
	monitor *devices.Monitor
	logger  *slog.Logger
	notices chan string

	level     atomic.Uint64
	micLost   atomic.Bool
	closeOnce sync.Once
}

// noticeBuffer bounds the one-line messages queued for the status display.
const noticeBuffer = 8

type recordOptions struct {
	Name       string
	Microphone string
}

func newRecorder(cfg *config.Config, logger *slog.Logger, opts recordOptions) (*recorder, error) {
	r := &recorder{logger: logger, notices: make(chan string, noticeBuffer)}

	xdo := capture.NewXDoTool(cfg.Capture.PointerBinary, cfg.Capture.Display)
	var pointer capture.PointerSource
	if _, err := exec.LookPath(cfg.Capture.PointerBinary); err == nil {
		pointer = xdo
	} else {
		logging.WarnWithContext(logger, "pointer tool not found; recording without cursor overlay", "pointer_unavailable",
			logging.String("binary", cfg.Capture.PointerBinary),
			logging.String(logging.FieldErrorHint, "install xdotool or set capture.pointer_binary"),
			logging.String(logging.FieldImpact, "the cursor is not drawn into the video"),
		)
	}

	library := cursor.NewLibrary(cfg.Paths.CursorDir, logger)
	sprite, err := library.Load(cfg.Cursor.Name)
	if err != nil {
		return nil, err
	}
	compositor := cursor.NewCompositor(sprite)
	if cfg.Cursor.Watch {
		r.watcher = cursor.NewWatcher(library, compositor, cfg.Cursor.Name, logger)
		r.watcher.OnReload(r.onCursorReload)
	}

	deps := session.Deps{
		OpenSource: capture.NewX11Opener(capture.X11Options{
			FFmpegBinary: cfg.Encoder.FFmpegBinary,
			Display:      cfg.Capture.Display,
			FPS:          cfg.Capture.FPS,
			Geometry:     xdo.Geometry,
			Logger:       logger,
		}),
		OpenSink: sink.NewFFmpegOpener(sink.FFmpegOptions{
			Binary:     cfg.Encoder.FFmpegBinary,
			VideoCodec: cfg.Encoder.VideoCodec,
			Preset:     cfg.Encoder.Preset,
			Logger:     logger,
		}),
		OpenAudio: audio.NewFFmpegOpener(audio.FFmpegOptions{
			Binary:      cfg.Encoder.FFmpegBinary,
			InputFormat: cfg.Audio.InputFormat,
			Logger:      logger,
		}),
		Pointer:    pointer,
		Compositor: compositor,
		Muxer: mux.NewMuxer(logger, mux.Options{
			Binary:             cfg.Encoder.FFmpegBinary,
			AudioCodec:         cfg.Encoder.AudioCodec,
			NormalizeVideoOnly: cfg.Encoder.NormalizeVideoOnly,
		}),
	}

	if strings.TrimSpace(cfg.Paths.HistoryDB) != "" {
		store, err := history.Open(cfg.Paths.HistoryDB)
		if err != nil {
			logging.WarnWithContext(logger, "history unavailable; recording will not be listed", "history_unavailable",
				logging.String(logging.FieldPath, cfg.Paths.HistoryDB),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check paths.history_db permissions"),
			)
		} else {
			r.history = store
			deps.History = store
		}
	}

	microphone := cfg.Audio.Device
	if opts.Microphone != "" {
		microphone = opts.Microphone
	}

	sess, err := session.New(deps, session.Options{
		OutputDir:   cfg.Paths.OutputDir,
		FPS:         cfg.Capture.FPS,
		PausePoll:   cfg.PausePoll(),
		MaxCatchUp:  cfg.Capture.MaxCatchUp,
		JoinTimeout: cfg.JoinTimeout(),
		ChunkFrames: cfg.Audio.ChunkFrames,
		MeterGain:   cfg.Audio.MeterGain,
		Microphone:  microphone,
		Logger:      logger,
		OnLevel:     r.setLevel,
	})
	if err != nil {
		r.Close()
		return nil, err
	}
	if opts.Name != "" {
		if err := sess.SetBaseName(opts.Name); err != nil {
			r.Close()
			return nil, err
		}
	}
	r.session = sess

	if microphone != "" {
		r.monitor = devices.NewMonitor(logger, r.onDeviceEvent)
	}
	return r, nil
}

// startHelpers launches the watcher and the monitor; both stop with ctx.
func (r *recorder) startHelpers(ctx context.Context) {
	if r.watcher != nil {
		go func() {
			if err := r.watcher.Run(ctx); err != nil {
				r.logger.Debug("cursor watcher stopped", logging.Error(err))
			}
		}()
	}
	if r.monitor != nil {
		if err := r.monitor.Start(ctx); err != nil {
			r.logger.Debug("device monitor not started", logging.Error(err))
		}
	}
}

func (r *recorder) onCursorReload(name string) {
	r.notify(fmt.Sprintf("Cursor updated: %s", cursor.DisplayName(name)))
}

// notify queues msg for the status display and drops it when the queue is full.
func (r *recorder) notify(msg string) {
	select {
	case r.notices <- msg:
	default:
		r.logger.Debug("status notice dropped", logging.String("notice", msg))
	}
}

func (r *recorder) onDeviceEvent(ev devices.Event) {
	if !ev.Removed() {
		return
	}
	r.micLost.Store(true)
	r.notify(fmt.Sprintf("Sound device removed: %s", ev.Device))
	logging.WarnWithContext(r.logger, "sound device removed during recording", "microphone_removed",
		logging.String("device", ev.Device),
		logging.String("model", ev.Model),
		logging.String(logging.FieldImpact, "audio may be silent from this point"),
	)
}

func (r *recorder) setLevel(level float64) {
	r.level.Store(math.Float64bits(level))
}

func (r *recorder) currentLevel() float64 {
	return math.Float64frombits(r.level.Load())
}

// Close stops the helpers and closes the history store.
func (r *recorder) Close() {
	r.closeOnce.Do(func() {
		if r.monitor != nil {
			r.monitor.Stop()
		}
		if r.history != nil {
			_ = r.history.Close()
		}
	})
}
