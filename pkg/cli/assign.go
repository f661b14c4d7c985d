package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/platinummonkey/tourdesk/pkg/rbac"
)

func (a *app) newAssignCommand() *cobra.Command {
	var tour string

	cmd := &cobra.Command{
		Use:   "assign PRINCIPAL ROLE",
		Short: "Assign a role to a principal, globally or within one tour",
		Example: `  tourdesk-admin assign u-42 super_admin
  tourdesk-admin assign u-77 crew_member --tour t-2026-eu`,
		Args: cobra.ExactArgs(2),
		RunE: a.run(func(ctx context.Context, cmd *cobra.Command, s *session, args []string) error {
			req := rbac.AssignmentRequest{PrincipalID: args[0], Role: args[1], ScopeTourID: scopeFlag(tour)}
			_, created, err := s.manager.GetRoleManager().AssignRole(ctx, s.actor, req)
			if err != nil {
				return err
			}
			if created {
				fmt.Fprintf(cmd.OutOrStdout(), "assigned %s to %s (%s)\n", req.Role, req.PrincipalID, scopeLabel(req.ScopeTourID))
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s already holds %s (%s)\n", req.PrincipalID, req.Role, scopeLabel(req.ScopeTourID))
			}
			return nil
		}),
	}

	cmd.Flags().StringVar(&tour, "tour", "", "Scope the assignment to this tour")
	return cmd
}

func (a *app) newRevokeCommand() *cobra.Command {
	var tour string

	cmd := &cobra.Command{
		Use:   "revoke PRINCIPAL ROLE",
		Short: "Revoke a role assignment",
		Args:  cobra.ExactArgs(2),
		RunE: a.run(func(ctx context.Context, cmd *cobra.Command, s *session, args []string) error {
			req := rbac.AssignmentRequest{PrincipalID: args[0], Role: args[1], ScopeTourID: scopeFlag(tour)}
			if err := s.manager.GetRoleManager().RemoveRole(ctx, s.actor, req); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "revoked %s from %s (%s)\n", req.Role, req.PrincipalID, scopeLabel(req.ScopeTourID))
			return nil
		}),
	}

	cmd.Flags().StringVar(&tour, "tour", "", "Revoke the assignment scoped to this tour")
	return cmd
}
