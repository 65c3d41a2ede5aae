package cli

import (
	"errors"
	"fmt"
	"io"

	"studio-sync/internal/domain"
	"studio-sync/internal/service"

	"github.com/spf13/cobra"
)

type SyncOptions struct {
	*RootOptions
	Resolve string
}

func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Push the workspace once",
		Long: `Push the local workspace to storage once and report the new version.

When another writer changed the stored workspace first, the conflicting
sections are listed and nothing is written. Pass --resolve to settle them
with a strategy (lww, local or remote) and push again.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openAgent(cmd.Context(), cmd, opts.RootOptions)
			if err != nil {
				return err
			}
			defer env.Close()

			ctx := cmd.Context()
			out := printer{format: opts.Format, w: cmd.OutOrStdout()}

			err = env.agent.SyncNow(ctx)
			if errors.Is(err, service.ErrConflict) && opts.Resolve != "" {
				conflicts := env.agent.PendingConflicts()
				resolution, resolveErr := env.agent.ResolveConflicts(ctx, domain.ResolutionStrategy(opts.Resolve), nil)
				if resolveErr != nil {
					return WrapExitError(ExitCommandError, "failed to resolve conflicts", resolveErr)
				}
				if resolution.Resolved {
					fmt.Fprintf(cmd.ErrOrStderr(), "resolved %d conflicts with %s\n", len(conflicts), opts.Resolve)
					err = env.agent.SyncNow(ctx)
				}
			}

			if errors.Is(err, service.ErrConflict) {
				conflicts := env.agent.PendingConflicts()
				_ = out.print(conflicts, func(w io.Writer) {
					fmt.Fprintln(w, "conflicts with the stored workspace:")
					for _, c := range conflicts {
						fmt.Fprintf(w, "  %-12s remote saved by %s\n", c.FieldPath, c.RemoteSavedBy)
					}
				})
				return WrapExitError(ExitFailure, "sync conflicted", err)
			}
			if err != nil {
				return WrapExitError(ExitFailure, "sync failed", err)
			}

			status := env.agent.Status()
			return out.print(status, func(w io.Writer) {
				fmt.Fprintf(w, "synced %s at version %d\n", status.UserID, status.Version)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Resolve, "resolve", "", "resolve conflicts with lww|local|remote and retry")

	return cmd
}
