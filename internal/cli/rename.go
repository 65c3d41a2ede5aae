package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func NewRenameCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <username>",
		Short: "Switch identity and reload the workspace from storage",
		Long: `Switch to another user id and replace the local workspace with that
user's stored data. Local changes that were not synced are discarded.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openAgent(cmd.Context(), cmd, rootOpts)
			if err != nil {
				return err
			}
			defer env.Close()

			userID, err := env.agent.UpdateUsername(cmd.Context(), args[0])
			if err != nil {
				return WrapExitError(ExitFailure, "failed to switch user", err)
			}

			out := printer{format: rootOpts.Format, w: cmd.OutOrStdout()}
			return out.print(map[string]string{"userId": userID}, func(w io.Writer) {
				fmt.Fprintf(w, "now editing as %s\n", userID)
			})
		},
	}
}
