package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"screenrec/internal/audio"
)

func newMicsCommand(ctx *commandContext) *cobra.Command {
	micsCmd := &cobra.Command{
		Use:   "mics",
		Short: "List and test microphones",
	}
	micsCmd.AddCommand(newMicsListCommand(ctx))
	micsCmd.AddCommand(newMicsTestCommand(ctx))
	return micsCmd
}

func newMicsListCommand(ctx *commandContext) *cobra.Command {
	var includeMonitors bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List capture sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			sources, err := audio.NewLister("").List(cmd.Context())
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(sources))
			for _, src := range sources {
				if src.Monitor && !includeMonitors {
					continue
				}
				selected := ""
				if cfg.Audio.Device != "" && (src.Name == cfg.Audio.Device || src.Index == cfg.Audio.Device) {
					selected = "*"
				}
				rows = append(rows, []string{src.Index, src.Name, strings.ToLower(src.State), selected})
			}
			out := cmd.OutOrStdout()
			if len(rows) == 0 {
				fmt.Fprintln(out, "No microphones found")
				return nil
			}
			fmt.Fprintln(out, renderTable([]string{"Index", "Name", "State", "Selected"}, rows, 0))
			return nil
		},
	}
	cmd.Flags().BoolVar(&includeMonitors, "monitors", false, "Include monitors of output devices")
	return cmd
}

func newMicsTestCommand(ctx *commandContext) *cobra.Command {
	var duration time.Duration

	cmd := &cobra.Command{
		Use:   "test [source]",
		Short: "Meter a microphone for a few seconds without recording",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			device := cfg.Audio.Device
			if len(args) == 1 {
				device = strings.TrimSpace(args[0])
			}
			if device == "" {
				return errors.New("no microphone given and audio.device is empty")
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			live := shouldColorize(out)
			var onLevel func(float64)
			if live {
				onLevel = func(level float64) {
					fmt.Fprintf(out, "\r%s", meterBar(level, meterWidth))
				}
			}
			open := audio.NewFFmpegOpener(audio.FFmpegOptions{
				Binary:      cfg.Encoder.FFmpegBinary,
				InputFormat: cfg.Audio.InputFormat,
				Logger:      logger,
			})
			res, err := audio.Probe(cmd.Context(), open, device, duration, cfg.Audio.MeterGain, onLevel)
			if live {
				fmt.Fprintln(out)
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "Source: %s\n", device)
			fmt.Fprintf(out, "Chunks: %d\n", res.Chunks)
			fmt.Fprintf(out, "Peak:   %s %.0f%%\n", meterBar(res.PeakLevel, meterWidth), res.PeakLevel*100)
			fmt.Fprintf(out, "Mean:   %s %.0f%%\n", meterBar(res.MeanLevel, meterWidth), res.MeanLevel*100)
			if res.Chunks == 0 {
				fmt.Fprintln(out, "No audio arrived; check the source name with `screenrec mics list`.")
			} else if res.PeakLevel == 0 {
				fmt.Fprintln(out, "Only silence was captured; the microphone may be muted.")
			}
			return nil
		},
	}
	cmd.Flags().DurationVarP(&duration, "duration", "d", 3*time.Second, "How long to listen")
	return cmd
}
