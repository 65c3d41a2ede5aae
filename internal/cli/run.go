package cli

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Sync periodically and send presence heartbeats until interrupted",
		Long: `Load the user's stored workspace, then push it on every sync interval and
report presence on every heartbeat interval until SIGINT or SIGTERM.

Example:
  studio-agent run --config ~/.studio-sync/agent.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			env, err := openAgent(ctx, cmd, rootOpts)
			if err != nil {
				return err
			}
			defer env.Close()

			env.logger.Info("agent running",
				"user", env.userID(),
				"server", env.cfg.ServerURL,
				"interval", env.cfg.Interval,
				"heartbeat", env.cfg.HeartbeatInterval,
			)

			err = env.agent.Run(ctx, env.cfg.HeartbeatInterval)
			if errors.Is(err, context.Canceled) {
				env.logger.Info("agent stopped")
				return nil
			}
			return err
		},
	}
}
