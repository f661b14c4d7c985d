package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// ErrDenied is returned by check when the principal lacks the permissions
var ErrDenied = errors.New("permission denied")

func (a *app) newCheckCommand() *cobra.Command {
	var (
		tour string
		all  bool
	)

	cmd := &cobra.Command{
		Use:   "check PRINCIPAL KEY...",
		Short: "Check whether a principal holds permissions",
		Long: `Check prints, for every key, whether the principal holds it in the given
scope, then the effective set. It exits non-zero when the principal holds
none of the keys, or not all of them with --all.`,
		Args: cobra.MinimumNArgs(2),
		RunE: a.run(func(ctx context.Context, cmd *cobra.Command, s *session, args []string) error {
			principal, keys := args[0], args[1:]
			scope := scopeFlag(tour)

			set, err := s.manager.GetEngine().Prefetch(ctx, principal, scope)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, key := range keys {
				verdict := "denied"
				if set.Has(key) {
					verdict = "allowed"
				}
				fmt.Fprintf(out, "%-40s %s\n", key, verdict)
			}
			fmt.Fprintf(out, "effective (%s): %s\n", scopeLabel(scope), joinOrNone(set.Keys()))

			allowed := set.HasAny(keys...)
			if all {
				allowed = set.HasAll(keys...)
			}
			if !allowed {
				return ErrDenied
			}
			return nil
		}),
	}

	cmd.Flags().StringVar(&tour, "tour", "", "Evaluate within this tour")
	cmd.Flags().BoolVar(&all, "all", false, "Require every key instead of any")
	return cmd
}
