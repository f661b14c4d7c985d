package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/platinummonkey/tourdesk/pkg/config"
	"github.com/platinummonkey/tourdesk/pkg/rbac"
)

func (a *app) newSeedCommand() *cobra.Command {
	var catalogFile string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Provision the permission catalog and system roles",
		Long: `Seed applies the catalog definition to the database. It is idempotent:
missing permissions and system roles are added, system role grants are
synced, and keys dropped from the definition are marked deprecated.
Migrations are applied first.`,
		Args: cobra.NoArgs,
		RunE: a.run(func(ctx context.Context, cmd *cobra.Command, s *session, _ []string) error {
			def, err := rbac.LoadCatalogDefinition(catalogFile)
			if err != nil {
				return err
			}
			if err := rbac.RunMigrations(ctx, s.db.DB, s.db.Dialect, s.logger); err != nil {
				return err
			}
			result, err := s.manager.GetRoleManager().SeedCatalog(ctx, s.actor, def)
			if err != nil {
				return err
			}
			printSeedResult(cmd.OutOrStdout(), result)
			return nil
		}),
	}

	cmd.Flags().StringVar(&catalogFile, "catalog", config.LoadRBACConfig().CatalogFile,
		"Catalog YAML file (defaults to TOURDESK_CATALOG_FILE, then the built-in catalog)")
	return cmd
}

func printSeedResult(w io.Writer, r *rbac.SeedResult) {
	if !r.Changed() {
		fmt.Fprintln(w, "catalog up to date")
		return
	}
	line := func(label string, items []string) {
		if len(items) > 0 {
			fmt.Fprintf(w, "%-24s %s\n", label+":", strings.Join(items, ", "))
		}
	}
	line("permissions added", r.PermissionsAdded)
	line("permissions updated", r.PermissionsUpdated)
	line("permissions deprecated", r.PermissionsDeprecated)
	line("roles added", r.RolesAdded)
	line("roles synced", r.RolesSynced)
}
