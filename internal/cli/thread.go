package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/easel/pkg/types"
)

func newThreadCmd(a *app) *cobra.Command {
	var label string
	cmd := &cobra.Command{
		Use:   "thread",
		Short: "Manage conversation threads and their checkpoints",
	}

	checkpoint := &cobra.Command{
		Use:   "checkpoint <thread-id> <file|->",
		Short: "Store a checkpoint of nodes and edges read from a file or stdin",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in types.CheckpointInput
			if err := readJSON(args[1], &in); err != nil {
				return err
			}
			if label != "" {
				in.Label = label
			}
			return a.run(cmd.Context(), func(s *session, user string) error {
				cp, err := s.svc.CreateCheckpoint(cmd.Context(), user, args[0], in)
				if err != nil {
					return resultError(err)
				}
				return a.print(cmd.OutOrStdout(), cp, func(w io.Writer) {
					fmt.Fprintf(w, "Created checkpoint %s (version %d)\n", cp.ID, cp.Version)
				})
			})
		},
	}
	checkpoint.Flags().StringVar(&label, "label", "", "checkpoint label")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list <canvas-id>",
			Short: "List a canvas's threads",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.run(cmd.Context(), func(s *session, user string) error {
					out, err := s.svc.ListThreads(cmd.Context(), user, args[0])
					if err != nil {
						return resultError(err)
					}
					return a.print(cmd.OutOrStdout(), out, func(w io.Writer) {
						for _, th := range out {
							fmt.Fprintf(w, "%s\t%d checkpoints\t%s\n", th.ID, th.CheckpointCount, th.Title)
						}
					})
				})
			},
		},
		&cobra.Command{
			Use:   "create <canvas-id> <title>",
			Short: "Open a thread on a canvas",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.run(cmd.Context(), func(s *session, user string) error {
					th, err := s.svc.CreateThread(cmd.Context(), user, args[0], args[1])
					if err != nil {
						return resultError(err)
					}
					return a.print(cmd.OutOrStdout(), th, func(w io.Writer) {
						fmt.Fprintln(w, "Created thread:", th.ID)
					})
				})
			},
		},
		&cobra.Command{
			Use:   "delete <thread-id>",
			Short: "Delete a thread and its checkpoints",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.run(cmd.Context(), func(s *session, user string) error {
					res, err := s.svc.DeleteThread(cmd.Context(), user, args[0])
					if err != nil {
						return resultError(err)
					}
					return a.print(cmd.OutOrStdout(), res, func(w io.Writer) {
						fmt.Fprintln(w, "Deleted thread:", args[0])
					})
				})
			},
		},
		checkpoint,
		&cobra.Command{
			Use:   "checkpoints <thread-id>",
			Short: "List a thread's checkpoints by version",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.run(cmd.Context(), func(s *session, user string) error {
					out, err := s.svc.ListCheckpoints(cmd.Context(), user, args[0])
					if err != nil {
						return resultError(err)
					}
					return a.print(cmd.OutOrStdout(), out, func(w io.Writer) {
						for _, cp := range out {
							fmt.Fprintf(w, "%s\tv%d\t%d nodes\t%s\n", cp.ID, cp.Version, len(cp.Nodes), cp.Label)
						}
					})
				})
			},
		},
	)
	return cmd
}
