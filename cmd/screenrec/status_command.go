package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"screenrec/internal/audio"
	"screenrec/internal/cursor"
	"screenrec/internal/history"
	"screenrec/internal/preflight"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check that everything needed to record is in place",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			var lines []string

			lines = append(lines, renderSectionHeader("Configuration", colorize)...)
			configMsg := ctx.configPath
			if !ctx.configExists {
				configMsg += " (not found, using defaults)"
			}
			lines = append(lines, renderStatusLine("Config", statusInfo, configMsg, colorize))
			lines = append(lines, renderStatusLine("Display", statusInfo, cfg.Capture.Display, colorize))
			lines = append(lines, renderStatusLine("Frame rate", statusInfo, fmt.Sprintf("%d fps", cfg.Capture.FPS), colorize))

			lines = append(lines, "")
			lines = append(lines, renderSectionHeader("Storage", colorize)...)
			for _, r := range []preflight.Result{
				preflight.CheckDirectoryAccess("Output directory", cfg.Paths.OutputDir),
				preflight.CheckFreeSpace("Free space", cfg.Paths.OutputDir, cfg.Preflight.MinFreeGiB),
				preflight.CheckDirectoryAccess("Cursor directory", cfg.Paths.CursorDir),
			} {
				lines = append(lines, renderStatusLine(r.Name, checkKind(r.Passed, false), r.Detail, colorize))
			}

			lines = append(lines, "")
			lines = append(lines, renderSectionHeader("Dependencies", colorize)...)
			for _, s := range preflight.CheckSystemDeps(cfg) {
				msg := s.Command
				if !s.Available {
					msg = s.Detail
				}
				lines = append(lines, renderStatusLine(s.Name, checkKind(s.Available, s.Optional), msg, colorize))
			}

			lines = append(lines, "")
			lines = append(lines, renderSectionHeader("Inputs", colorize)...)
			mic := preflight.CheckMicrophone(cmd.Context(), cfg, audio.NewLister(""))
			micKind := checkKind(mic.Passed, true)
			if mic.Passed && mic.Detail == "Disabled" {
				micKind = statusInfo
			}
			lines = append(lines, renderStatusLine(mic.Name, micKind, mic.Detail, colorize))
			lines = append(lines, cursorStatusLine(cfg.Paths.CursorDir, cfg.Cursor.Name, colorize))

			lines = append(lines, "")
			lines = append(lines, renderSectionHeader("Last Recording", colorize)...)
			lines = append(lines, lastRecordingLine(ctx, cmd, colorize))

			fmt.Fprintln(out, strings.Join(lines, "\n"))
			return nil
		},
	}
}

func cursorStatusLine(dir, name string, colorize bool) string {
	library := cursor.NewLibrary(dir, nil)
	if _, err := os.Stat(library.Path(name)); err == nil {
		return renderStatusLine("Cursor", statusOK, cursor.DisplayName(name), colorize)
	}
	if name == cursor.DefaultName {
		return renderStatusLine("Cursor", statusInfo, "built-in arrow", colorize)
	}
	return renderStatusLine("Cursor", statusWarn, fmt.Sprintf("%s not found; default arrow will be used", name), colorize)
}

func lastRecordingLine(ctx *commandContext, cmd *cobra.Command, colorize bool) string {
	store, err := ctx.openHistory()
	if err != nil {
		return renderStatusLine("Artifact", statusWarn, err.Error(), colorize)
	}
	if store == nil {
		return renderStatusLine("Artifact", statusInfo, "history disabled", colorize)
	}
	defer store.Close()

	entry, err := store.Last(cmd.Context())
	switch {
	case errors.Is(err, history.ErrNotFound):
		return renderStatusLine("Artifact", statusInfo, "none yet", colorize)
	case err != nil:
		return renderStatusLine("Artifact", statusWarn, err.Error(), colorize)
	}
	if _, err := os.Stat(entry.ArtifactPath); err != nil {
		return renderStatusLine("Artifact", statusWarn, entry.ArtifactPath+" (missing)", colorize)
	}
	kind := statusOK
	if entry.Failure != "" {
		kind = statusWarn
	}
	return renderStatusLine("Artifact", kind, entry.ArtifactPath, colorize)
}
