package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/platinummonkey/tourdesk/pkg/rbac"
)

func (a *app) newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending RBAC schema migrations",
		Args:  cobra.NoArgs,
		RunE: a.run(func(ctx context.Context, cmd *cobra.Command, s *session, _ []string) error {
			if err := rbac.RunMigrations(ctx, s.db.DB, s.db.Dialect, s.logger); err != nil {
				return err
			}
			version, err := rbac.CurrentVersion(ctx, s.db.DB)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d\n", version)
			return nil
		}),
	}
}
