package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/easel/pkg/types"
)

func printSettings(w io.Writer, st types.Settings) {
	fmt.Fprintf(w, "autoSaveIntervalMs: %d\n", st.AutoSaveIntervalMs)
	fmt.Fprintf(w, "maxBackupCount:     %d\n", st.MaxBackupCount)
	fmt.Fprintf(w, "saveOnExit:         %t\n", st.SaveOnExit)
	fmt.Fprintf(w, "compressionEnabled: %t\n", st.CompressionEnabled)
}

func newSettingsCmd(a *app) *cobra.Command {
	var (
		interval    int64
		maxBackups  int
		saveOnExit  bool
		compression bool
	)
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change the user's retention settings",
	}
	get := &cobra.Command{
		Use:   "get",
		Short: "Print the retention settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context(), func(s *session, user string) error {
				st, err := s.svc.GetSettings(cmd.Context(), user)
				if err != nil {
					return resultError(err)
				}
				return a.print(cmd.OutOrStdout(), st, func(w io.Writer) { printSettings(w, st) })
			})
		},
	}
	set := &cobra.Command{
		Use:   "set",
		Short: "Change the retention settings; unset flags keep their value",
		Example: `  easel settings set --max-backups 25
  easel settings set --compression --interval 60000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context(), func(s *session, user string) error {
				st, err := s.svc.GetSettings(cmd.Context(), user)
				if err != nil {
					return resultError(err)
				}
				f := cmd.Flags()
				if f.Changed("interval") {
					st.AutoSaveIntervalMs = interval
				}
				if f.Changed("max-backups") {
					st.MaxBackupCount = maxBackups
				}
				if f.Changed("save-on-exit") {
					st.SaveOnExit = saveOnExit
				}
				if f.Changed("compression") {
					st.CompressionEnabled = compression
				}
				st, err = s.svc.UpdateSettings(cmd.Context(), user, st)
				if err != nil {
					return resultError(err)
				}
				return a.print(cmd.OutOrStdout(), st, func(w io.Writer) { printSettings(w, st) })
			})
		},
	}
	set.Flags().Int64Var(&interval, "interval", types.DefaultAutoSaveIntervalMs, "auto-save interval in milliseconds")
	set.Flags().IntVar(&maxBackups, "max-backups", types.DefaultMaxBackupCount, "backups kept per canvas")
	set.Flags().BoolVar(&saveOnExit, "save-on-exit", true, "save when the client exits")
	set.Flags().BoolVar(&compression, "compression", false, "compress backups at rest")

	cmd.AddCommand(get, set)
	return cmd
}
