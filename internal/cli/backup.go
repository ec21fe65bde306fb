package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/easel/pkg/types"
)

func newBackupCmd(a *app) *cobra.Command {
	var (
		limit int
		kind  string
	)
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create, list, restore and prune canvas backups",
	}

	list := &cobra.Command{
		Use:   "list [canvas-id]",
		Short: "List backups newest first; without a canvas, across all canvases",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			canvasID := ""
			if len(args) == 1 {
				canvasID = args[0]
			}
			return a.run(cmd.Context(), func(s *session, user string) error {
				out, err := s.svc.ListBackups(cmd.Context(), user, canvasID, limit)
				if err != nil {
					return resultError(err)
				}
				return a.print(cmd.OutOrStdout(), out, func(w io.Writer) {
					for _, b := range out {
						fmt.Fprintf(w, "%s\t%s\tv%d\t%d bytes\t%s\n", b.ID, b.CreatedAt, b.Version, b.SizeBytes, b.Kind)
					}
				})
			})
		},
	}
	list.Flags().IntVar(&limit, "limit", 0, "maximum backups to list (default 20)")

	create := &cobra.Command{
		Use:   "create <canvas-id>",
		Short: "Back up the current version of a canvas",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context(), func(s *session, user string) error {
				bk, err := s.svc.CreateBackup(cmd.Context(), user, args[0], kind)
				if err != nil {
					return resultError(err)
				}
				return a.print(cmd.OutOrStdout(), bk.Summary(), func(w io.Writer) {
					fmt.Fprintf(w, "Created backup %s of %s at version %d\n", bk.ID, args[0], bk.Version)
				})
			})
		},
	}
	create.Flags().StringVar(&kind, "type", types.BackupKindManual, "backup type: auto, manual or scheduled")

	cmd.AddCommand(list, create,
		&cobra.Command{
			Use:   "restore <canvas-id> <backup-id>",
			Short: "Save a backup's document as a new version of its canvas",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.run(cmd.Context(), func(s *session, user string) error {
					res, err := s.svc.Restore(cmd.Context(), user, args[0], args[1])
					if err != nil {
						return resultError(err)
					}
					return a.print(cmd.OutOrStdout(), res, func(w io.Writer) {
						fmt.Fprintf(w, "Restored %s to version %d\n", args[0], res.Version)
					})
				})
			},
		},
		&cobra.Command{
			Use:   "prune [canvas-id]",
			Short: "Delete backups beyond the configured maximum, oldest first",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				canvasID := ""
				if len(args) == 1 {
					canvasID = args[0]
				}
				return a.run(cmd.Context(), func(s *session, user string) error {
					res, err := s.svc.PruneBackups(cmd.Context(), user, canvasID)
					if err != nil {
						return resultError(err)
					}
					return a.print(cmd.OutOrStdout(), res, func(w io.Writer) {
						fmt.Fprintf(w, "Pruned %d backups\n", res.Deleted)
					})
				})
			},
		},
	)
	return cmd
}
