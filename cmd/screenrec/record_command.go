package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"screenrec/internal/preflight"
	"screenrec/internal/session"
	"screenrec/internal/state"
)

const statusRefresh = 250 * time.Millisecond

func newRecordCommand(ctx *commandContext) *cobra.Command {
	var (
		duration   time.Duration
		name       string
		microphone string
		cursorName string
		noAudio    bool
	)

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record the screen until interrupted",
		Long: "Record the screen until Ctrl+C (or SIGTERM), or for --duration of active time.\n" +
			"Send SIGUSR1 to toggle pause.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("cursor") {
				cfg.Cursor.Name = strings.TrimSpace(cursorName)
			}
			if noAudio {
				cfg.Audio.Device = ""
			} else if cmd.Flags().Changed("mic") {
				cfg.Audio.Device = strings.TrimSpace(microphone)
			}

			if failed := preflight.Failed(preflight.RunAll(cmd.Context(), cfg)); len(failed) > 0 {
				return preflightError(failed)
			}

			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}

			rec, err := newRecorder(cfg, logger, recordOptions{Name: strings.TrimSpace(name)})
			if err != nil {
				return err
			}
			defer rec.Close()

			return runRecording(cmd, rec, duration, cfg.Audio.Device != "")
		},
	}

	cmd.Flags().DurationVarP(&duration, "duration", "d", 0, "Stop after this much recorded (unpaused) time")
	cmd.Flags().StringVarP(&name, "name", "n", "", "Base name for the recording files")
	cmd.Flags().StringVarP(&microphone, "mic", "m", "", "Microphone source (see 'screenrec mics list')")
	cmd.Flags().StringVar(&cursorName, "cursor", "", "Cursor sprite name (see 'screenrec cursors list')")
	cmd.Flags().BoolVar(&noAudio, "no-audio", false, "Record video only")
	return cmd
}

func preflightError(failed []preflight.Result) error {
	parts := make([]string, 0, len(failed))
	for _, r := range failed {
		parts = append(parts, fmt.Sprintf("%s: %s", r.Name, r.Detail))
	}
	return fmt.Errorf("preflight failed: %s", strings.Join(parts, "; "))
}

func runRecording(cmd *cobra.Command, rec *recorder, duration time.Duration, withMeter bool) error {
	out := cmd.OutOrStdout()
	live := shouldColorize(out)

	signals := make(chan os.Signal, 2)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)
	defer signal.Stop(signals)

	helperCtx, cancelHelpers := context.WithCancel(context.Background())
	defer cancelHelpers()

	sess := rec.session
	if err := sess.Start(helperCtx); err != nil {
		return err
	}
	rec.startHelpers(helperCtx)
	fmt.Fprintln(out, "Recording. Press Ctrl+C to stop.")

	ticker := time.NewTicker(statusRefresh)
	defer ticker.Stop()

loop:
	for {
		select {
		case sig := <-signals:
			if sig != syscall.SIGUSR1 {
				break loop
			}
			togglePause(out, sess, live)
		case <-sess.Done():
			break loop
		case msg := <-rec.notices:
			printNotice(out, msg, live)
		case <-ticker.C:
			if duration > 0 && sess.Elapsed() >= duration {
				break loop
			}
			if live {
				fmt.Fprintf(out, "\r%s", recordingLine(sess.State(), sess.Elapsed(), rec.currentLevel(), withMeter))
			}
		}
	}
	if live {
		fmt.Fprintln(out)
	}

	res := sess.Stop(context.Background())
	cancelHelpers()
	if rec.micLost.Load() {
		fmt.Fprintln(out, "Warning: a sound device was removed while recording; check the audio track.")
	}
	return reportResult(out, res)
}

// printNotice writes msg on its own line. In live mode the status line is
// cleared first and redrawn on the next tick.
func printNotice(out io.Writer, msg string, live bool) {
	if live {
		fmt.Fprintf(out, "\r\033[K%s\n", msg)
		return
	}
	fmt.Fprintln(out, msg)
}

func togglePause(out io.Writer, sess *session.Session, live bool) {
	var err error
	switch sess.State() {
	case state.Recording:
		err = sess.Pause()
	case state.Paused:
		err = sess.Resume()
	default:
		return
	}
	if err != nil {
		return
	}
	if !live {
		fmt.Fprintf(out, "%s at %s\n", stateVerb(sess.State()), formatElapsed(sess.Elapsed()))
	}
}

func stateVerb(st state.State) string {
	if st == state.Paused {
		return "Paused"
	}
	return "Resumed"
}

func reportResult(out io.Writer, res session.Result) error {
	if res.Artifact.Path != "" {
		fmt.Fprintf(out, "Saved %s (%s, %d frames", res.Artifact.Path, formatElapsed(res.Elapsed), res.Stats.FramesWritten)
		if res.Stats.FramesDropped > 0 {
			fmt.Fprintf(out, ", %d dropped", res.Stats.FramesDropped)
		}
		fmt.Fprintln(out, ")")
	}
	for _, f := range res.Failures {
		fmt.Fprintf(out, "  %s: %v\n", f.Stage, f.Err)
	}
	worst := res.Worst()
	switch {
	case worst == nil:
		return nil
	case res.Artifact.Path != "" && errors.Is(worst, session.ErrCleanup):
		// The recording is usable; cleanup problems were already listed.
		return nil
	default:
		return fmt.Errorf("recording finished with errors: %w", worst)
	}
}
