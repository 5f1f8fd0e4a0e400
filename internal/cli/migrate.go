package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/everyskill/relay/migrations"
)

func newMigrateCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			repo, err := root.openRepo(ctx)
			if err != nil {
				return err
			}
			defer repo.Close()

			res, err := migrations.Up(ctx, repo.Pool(), root.logger)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if root.jsonOutput {
				return writeJSON(out, res)
			}
			if !res.Changed() {
				fmt.Fprintf(out, "schema is up to date (version %d)\n", res.To)
				return nil
			}
			fmt.Fprintf(out, "migrated from version %d to %d\n", res.From, res.To)
			return nil
		},
	}
}
