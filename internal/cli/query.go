package cli

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"studio-sync/internal/domain"

	"github.com/spf13/cobra"
)

func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show every user in the shared sync document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openClient(cmd, rootOpts)
			if err != nil {
				return err
			}

			status, err := env.client.Status(cmd.Context())
			if err != nil {
				return WrapExitError(ExitFailure, "failed to fetch status", err)
			}

			out := printer{format: rootOpts.Format, w: cmd.OutOrStdout()}
			return out.print(status, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "USER\tVERSION\tACTION\tLAST MODIFIED")
				for _, id := range sortedKeys(status.Users) {
					p := status.Users[id]
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", id, p.Version, p.Action, formatMillis(p.LastModified))
				}
				tw.Flush()
				fmt.Fprintf(w, "last update %s\n", formatMillis(status.LastUpdate))
			})
		},
	}
}

type UsersOptions struct {
	*RootOptions
	Threshold time.Duration
}

func NewUsersCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &UsersOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "users",
		Short: "Show users active within the presence window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openClient(cmd, opts.RootOptions)
			if err != nil {
				return err
			}

			users, err := env.client.ActiveUsers(cmd.Context(), opts.Threshold)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to fetch active users", err)
			}

			out := printer{format: opts.Format, w: cmd.OutOrStdout()}
			return out.print(users, func(w io.Writer) {
				fmt.Fprintf(w, "%d active\n", users.Count)
				for _, id := range sortedKeys(users.ActiveUsers) {
					v := users.ActiveUsers[id]
					fmt.Fprintf(w, "  %s (%s, %d min ago)\n", id, v.Action, v.MinutesAgo)
				}
			})
		},
	}

	cmd.Flags().DurationVar(&opts.Threshold, "threshold", 0, "presence window (default: server setting)")

	return cmd
}

type ChangesOptions struct {
	*RootOptions
	Since int64
}

func NewChangesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ChangesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "changes",
		Short: "List other users' activity since the last sync",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openClient(cmd, opts.RootOptions)
			if err != nil {
				return err
			}

			since := opts.Since
			if since == 0 {
				if err := openIdentity(env); err != nil {
					return err
				}
				defer env.Close()

				if since, err = env.identity.LastSync(); err != nil {
					return WrapExitError(ExitCommandError, "failed to read last sync time", err)
				}
			}

			changes, err := env.client.DetectChanges(cmd.Context(), env.cfg.UserID, since)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to detect changes", err)
			}

			out := printer{format: opts.Format, w: cmd.OutOrStdout()}
			return out.print(changes, func(w io.Writer) {
				if len(changes) == 0 {
					fmt.Fprintln(w, "no changes")
					return
				}
				for _, c := range changes {
					fmt.Fprintf(w, "%s %s version %s at %s\n", c.UserID, c.Action, c.Version, formatMillis(c.LastModified))
				}
			})
		},
	}

	cmd.Flags().Int64Var(&opts.Since, "since", 0, "epoch milliseconds (default: last sync)")

	return cmd
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func formatMillis(ms int64) string {
	if ms == 0 {
		return "never"
	}
	return domain.FromMillis(ms).Format(time.RFC3339)
}
