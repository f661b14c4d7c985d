package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/platinummonkey/tourdesk/pkg/rbac"
)

func (a *app) newAuditCommand() *cobra.Command {
	var filter rbac.AuditFilter

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the RBAC audit trail, newest first",
		Args:  cobra.NoArgs,
		RunE: a.run(func(ctx context.Context, cmd *cobra.Command, s *session, _ []string) error {
			entries, err := s.manager.GetRoleManager().ListAuditEntries(ctx, filter)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tACTOR\tACTION\tROLE\tPRINCIPAL\tSCOPE")
			for _, e := range entries {
				scope := "-"
				if e.PrincipalID != "" {
					scope = scopeLabel(e.ScopeTourID)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", e.OccurredAt.Format("2006-01-02 15:04:05"),
					e.ActorID, e.Action, dash(e.RoleName), dash(e.PrincipalID), scope)
			}
			return tw.Flush()
		}),
	}

	cmd.Flags().StringVar(&filter.ActorID, "actor", "", "Only entries by this actor")
	cmd.Flags().StringVar(&filter.PrincipalID, "principal", "", "Only entries about this principal")
	cmd.Flags().StringVar(&filter.Action, "action", "", "Only this action, e.g. role.assign")
	cmd.Flags().IntVar(&filter.Limit, "limit", 50, "Maximum number of entries")
	return cmd
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
