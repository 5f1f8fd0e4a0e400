package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/everyskill/relay/internal/integrity"
)

func newIntegrityCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "integrity",
		Short: "Check skill data consistency",
	}

	var repair, all bool
	run := &cobra.Command{
		Use:   "run",
		Short: "Run integrity checks for one tenant or all tenants",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			var tenants []string
			if !all {
				tenantID, err := root.requireTenant()
				if err != nil {
					return err
				}
				tenants = []string{tenantID}
			}

			repo, err := root.openRepo(ctx)
			if err != nil {
				return err
			}
			defer repo.Close()

			if all {
				if tenants, err = repo.ListTenantIDs(ctx); err != nil {
					return fmt.Errorf("list tenants: %w", err)
				}
			}

			checker := integrity.NewChecker(repo, root.logger)
			reports := make([]*integrity.Report, 0, len(tenants))
			for _, tenantID := range tenants {
				report, err := checker.Run(ctx, tenantID, repair)
				if err != nil {
					return fmt.Errorf("tenant %s: %w", tenantID, err)
				}
				reports = append(reports, report)
			}

			out := cmd.OutOrStdout()
			if root.jsonOutput {
				return writeJSON(out, reports)
			}
			for _, r := range reports {
				fmt.Fprintf(out, "tenant %s: %d issues, %d repaired\n", r.TenantID, len(r.Issues), r.Repaired)
				for _, issue := range r.Issues {
					mark := " "
					if issue.Repaired {
						mark = "*"
					}
					fmt.Fprintf(out, "  %s %-22s %s %s\n", mark, issue.Check, issue.SkillID, issue.Detail)
				}
			}
			return nil
		},
	}
	run.Flags().BoolVar(&repair, "repair", false, "Repair issues that can be fixed mechanically")
	run.Flags().BoolVar(&all, "all", false, "Check every tenant")

	cmd.AddCommand(run)
	return cmd
}
