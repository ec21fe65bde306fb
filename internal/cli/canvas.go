package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/easel/pkg/types"
)

func newCanvasCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "canvas",
		Short: "Work with canvases",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List canvases, most recently updated first",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.run(cmd.Context(), func(s *session, user string) error {
					list, err := s.svc.ListCanvases(cmd.Context(), user)
					if err != nil {
						return resultError(err)
					}
					return a.print(cmd.OutOrStdout(), list, func(w io.Writer) {
						for _, c := range list {
							fmt.Fprintf(w, "%s\tv%d\t%d nodes\t%s\n", c.ID, c.Version, c.NodeCount, c.Title)
						}
					})
				})
			},
		},
		&cobra.Command{
			Use:   "get <canvas-id>",
			Short: "Print a canvas as JSON",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.run(cmd.Context(), func(s *session, user string) error {
					cv, err := s.svc.GetCanvas(cmd.Context(), user, args[0])
					if err != nil {
						return resultError(err)
					}
					a.flags.jsonMode = true
					return a.print(cmd.OutOrStdout(), cv, nil)
				})
			},
		},
		newCanvasSaveCmd(a),
		&cobra.Command{
			Use:   "delete <canvas-id>",
			Short: "Delete a canvas; its backups are kept",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.run(cmd.Context(), func(s *session, user string) error {
					res, err := s.svc.DeleteCanvas(cmd.Context(), user, args[0])
					if err != nil {
						return resultError(err)
					}
					return a.print(cmd.OutOrStdout(), res, func(w io.Writer) {
						fmt.Fprintln(w, "Deleted canvas:", args[0])
					})
				})
			},
		},
		&cobra.Command{
			Use:   "create-default",
			Short: "Create a canvas holding a single entry node",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.run(cmd.Context(), func(s *session, user string) error {
					cv, err := s.svc.CreateDefaultCanvas(cmd.Context(), user)
					if err != nil {
						return resultError(err)
					}
					return a.print(cmd.OutOrStdout(), cv, func(w io.Writer) {
						fmt.Fprintln(w, "Created canvas:", cv.ID)
					})
				})
			},
		},
		&cobra.Command{
			Use:   "resync <canvas-id>",
			Short: "Rebuild a canvas's node, message and edge rows from its document",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.run(cmd.Context(), func(s *session, user string) error {
					if err := s.svc.Resync(cmd.Context(), user, args[0]); err != nil {
						return resultError(err)
					}
					return a.print(cmd.OutOrStdout(), types.OpResult{Success: true}, func(w io.Writer) {
						fmt.Fprintln(w, "Resynced canvas:", args[0])
					})
				})
			},
		},
		&cobra.Command{
			Use:   "metadata <canvas-id>",
			Short: "Print a canvas's save, conflict and backup counters",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.run(cmd.Context(), func(s *session, user string) error {
					md, err := s.svc.GetMetadata(cmd.Context(), user, args[0])
					if err != nil {
						return resultError(err)
					}
					return a.print(cmd.OutOrStdout(), md, func(w io.Writer) {
						fmt.Fprintf(w, "version %d, %d saves, %d conflicts, %d backups\n",
							md.Versioning.CurrentVersion, md.Analytics.SaveCount,
							md.Analytics.ConflictCount, md.Backup.BackupCount)
					})
				})
			},
		},
		&cobra.Command{
			Use:   "export <file>",
			Short: "Write every canvas to a JSONL file, one document per line",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.run(cmd.Context(), func(s *session, user string) error {
					n, err := s.svc.Export(cmd.Context(), user, args[0])
					if err != nil {
						return resultError(err)
					}
					return a.print(cmd.OutOrStdout(), map[string]int{"exported": n}, func(w io.Writer) {
						fmt.Fprintf(w, "Exported %d canvases to %s\n", n, args[0])
					})
				})
			},
		},
		&cobra.Command{
			Use:   "import <file>",
			Short: "Save every document of a JSONL file",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.run(cmd.Context(), func(s *session, user string) error {
					n, err := s.svc.Import(cmd.Context(), user, args[0])
					if err != nil {
						return resultError(err)
					}
					return a.print(cmd.OutOrStdout(), map[string]int{"imported": n}, func(w io.Writer) {
						fmt.Fprintf(w, "Imported %d canvases from %s\n", n, args[0])
					})
				})
			},
		},
	)
	return cmd
}

func newCanvasSaveCmd(a *app) *cobra.Command {
	var (
		saveType    string
		backup      bool
		retries     int
		baseVersion int64
	)
	cmd := &cobra.Command{
		Use:   "save <canvas-id> <file|->",
		Short: "Save a canvas document read from a file or stdin",
		Long: `Save reads a canvas document ({"title", "nodes", "edges", ...}) and saves it
as a new version. A save that races another writer is merged by node and
edge id and retried.

Example:
  easel canvas save c1 canvas.json --user alice
  cat canvas.json | easel canvas save c1 - --type manual --backup`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var req types.SaveRequest
			if err := readJSON(args[1], &req); err != nil {
				return err
			}
			req.ID = args[0]
			req.Options.SaveType = saveType
			req.Options.CreateBackup = backup
			req.Options.BaseVersion = baseVersion
			if cmd.Flags().Changed("retries") {
				req.Options.RetryCount = &retries
			}
			return a.run(cmd.Context(), func(s *session, user string) error {
				res, err := s.svc.Save(cmd.Context(), user, req)
				if err != nil {
					return resultError(err)
				}
				return a.print(cmd.OutOrStdout(), res, func(w io.Writer) {
					fmt.Fprintf(w, "Saved %s at version %d", req.ID, res.Version)
					if res.ConflictResolved {
						fmt.Fprint(w, " (merged with a concurrent save)")
					}
					if res.BackupID != "" {
						fmt.Fprintf(w, ", backup %s", res.BackupID)
					}
					fmt.Fprintln(w)
				})
			})
		},
	}
	cmd.Flags().StringVar(&saveType, "type", types.SaveTypeManual, "save type: auto, manual or scheduled")
	cmd.Flags().BoolVar(&backup, "backup", false, "back up the saved version")
	cmd.Flags().IntVar(&retries, "retries", types.DefaultRetryCount, "conflict retry budget")
	cmd.Flags().Int64Var(&baseVersion, "base-version", 0, "version the document was edited from")
	return cmd
}
