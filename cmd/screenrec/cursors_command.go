package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"screenrec/internal/cursor"
)

func newCursorsCommand(ctx *commandContext) *cobra.Command {
	cursorsCmd := &cobra.Command{
		Use:   "cursors",
		Short: "Manage cursor sprites",
	}
	cursorsCmd.AddCommand(newCursorsListCommand(ctx))
	cursorsCmd.AddCommand(newCursorsImportCommand(ctx))
	return cursorsCmd
}

func newCursorsListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available cursor sprites",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			library := cursor.NewLibrary(cfg.Paths.CursorDir, nil)
			// Loading the active cursor writes default.png on first use.
			if _, err := library.Load(cfg.Cursor.Name); err != nil {
				return err
			}
			names, err := library.List()
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(names))
			for _, name := range names {
				active := ""
				if name == cfg.Cursor.Name {
					active = "*"
				}
				rows = append(rows, []string{name, cursor.DisplayName(name), active})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable([]string{"Name", "Display Name", "Active"}, rows))
			fmt.Fprintf(out, "Directory: %s\n", library.Dir())
			return nil
		},
	}
}

func newCursorsImportCommand(ctx *commandContext) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "import <image>",
		Short: "Import an image as a cursor sprite",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			library := cursor.NewLibrary(cfg.Paths.CursorDir, logger)
			stored, err := library.Import(args[0], name)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %q as %s\n", cursor.DisplayName(stored), library.Path(stored))
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Name to store the cursor under (defaults to the file name)")
	return cmd
}
