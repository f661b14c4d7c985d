package cli

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func (a *app) newRolesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roles",
		Short: "Inspect roles",
	}
	cmd.AddCommand(a.newRolesListCommand(), a.newRolesShowCommand())
	return cmd
}

func (a *app) newRolesListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every role",
		Args:  cobra.NoArgs,
		RunE: a.run(func(ctx context.Context, cmd *cobra.Command, s *session, _ []string) error {
			roles, err := s.manager.GetRoleManager().ListRoles(ctx)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tSYSTEM\tPERMISSIONS\tDISPLAY NAME")
			for _, r := range roles {
				fmt.Fprintf(tw, "%d\t%s\t%t\t%d\t%s\n", r.ID, r.Name, r.IsSystemRole, len(r.Permissions), r.DisplayName)
			}
			return tw.Flush()
		}),
	}
}

func (a *app) newRolesShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show NAME",
		Short: "Show a role with its grants and assignments",
		Args:  cobra.ExactArgs(1),
		RunE: a.run(func(ctx context.Context, cmd *cobra.Command, s *session, args []string) error {
			roles := s.manager.GetRoleManager()
			role, err := roles.GetRoleByName(ctx, args[0])
			if err != nil {
				return err
			}
			assignments, err := roles.ListRoleAssignments(ctx, role.ID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Name:         %s\n", role.Name)
			fmt.Fprintf(out, "Display name: %s\n", role.DisplayName)
			if role.Description != "" {
				fmt.Fprintf(out, "Description:  %s\n", role.Description)
			}
			fmt.Fprintf(out, "System role:  %t\n", role.IsSystemRole)
			fmt.Fprintf(out, "Permissions (%d):\n", len(role.Permissions))
			for _, key := range role.Permissions {
				fmt.Fprintf(out, "  %s\n", key)
			}

			fmt.Fprintf(out, "Assignments (%d):\n", len(assignments))
			if len(assignments) == 0 {
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			for _, as := range assignments {
				fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", as.PrincipalID, scopeLabel(as.ScopeTourID),
					as.GrantedBy, as.GrantedAt.Format("2006-01-02 15:04:05"))
			}
			return tw.Flush()
		}),
	}
}

func joinOrNone(keys []string) string {
	if len(keys) == 0 {
		return "(none)"
	}
	return strings.Join(keys, ", ")
}
