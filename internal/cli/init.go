package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/easel/pkg/types"
)

func newInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize easel storage",
		Long:  "Create the configuration and data directories, write a default config.yaml,\nand create or upgrade the database schema.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "easel initialized")
			fmt.Fprintln(out, "  config: ", a.configDir)
			fmt.Fprintln(out, "  backend:", s.store.Dialect())
			if s.cfg.Backend == types.BackendSQLite {
				fmt.Fprintln(out, "  data:   ", s.cfg.DataDir)
			}
			return nil
		},
	}
}
