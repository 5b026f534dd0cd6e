package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"screenrec/internal/history"
)

type historyJSON struct {
	ID            string    `json:"id"`
	BaseName      string    `json:"base_name"`
	ChunkIndex    int       `json:"chunk_index"`
	StartedAt     time.Time `json:"started_at"`
	StoppedAt     time.Time `json:"stopped_at"`
	ActiveSeconds float64   `json:"active_seconds"`
	Microphone    string    `json:"microphone,omitempty"`
	ArtifactPath  string    `json:"artifact_path"`
	Muxed         bool      `json:"muxed"`
	FramesWritten uint64    `json:"frames_written"`
	FramesDropped uint64    `json:"frames_dropped"`
	Abandoned     bool      `json:"abandoned,omitempty"`
	Failure       string    `json:"failure,omitempty"`
}

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var (
		limit    int
		asJSON   bool
		lastOnly bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent recordings",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openHistory()
			if err != nil {
				return err
			}
			if store == nil {
				return errors.New("history is disabled (paths.history_db is empty)")
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			if lastOnly {
				entry, err := store.Last(cmd.Context())
				if errors.Is(err, history.ErrNotFound) {
					return errors.New("no recordings yet")
				}
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, toHistoryJSON(entry))
				}
				fmt.Fprintln(out, entry.ArtifactPath)
				return nil
			}

			entries, err := store.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if asJSON {
				payload := make([]historyJSON, 0, len(entries))
				for _, e := range entries {
					payload = append(payload, toHistoryJSON(e))
				}
				return writeJSON(cmd, payload)
			}
			if len(entries) == 0 {
				fmt.Fprintln(out, "No recordings yet")
				return nil
			}
			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, []string{
					e.StartedAt.Local().Format("2006-01-02 15:04"),
					fmt.Sprintf("%s #%d", e.BaseName, e.ChunkIndex),
					formatElapsed(e.Active),
					filepath.Base(e.ArtifactPath),
					yesNo(e.Muxed),
					historyStatus(e),
				})
			}
			fmt.Fprintln(out, renderTable([]string{"Started", "Name", "Length", "File", "Muxed", "Status"}, rows, 2))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "l", 20, "Maximum number of recordings to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	cmd.Flags().BoolVar(&lastOnly, "last", false, "Print only the most recent artifact")
	return cmd
}

func historyStatus(e history.Entry) string {
	switch {
	case e.Failure != "":
		return e.Failure
	case e.Abandoned:
		return "abandoned capture"
	default:
		return "ok"
	}
}

func toHistoryJSON(e history.Entry) historyJSON {
	return historyJSON{
		ID:            e.ID,
		BaseName:      e.BaseName,
		ChunkIndex:    e.ChunkIndex,
		StartedAt:     e.StartedAt,
		StoppedAt:     e.StoppedAt,
		ActiveSeconds: e.Active.Seconds(),
		Microphone:    e.Microphone,
		ArtifactPath:  e.ArtifactPath,
		Muxed:         e.Muxed,
		FramesWritten: e.FramesWritten,
		FramesDropped: e.FramesDropped,
		Abandoned:     e.Abandoned,
		Failure:       e.Failure,
	}
}
