package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"studio-sync/internal/agent"
	"studio-sync/internal/client"
	"studio-sync/internal/config"
	"studio-sync/internal/repository"

	"github.com/spf13/cobra"
)

// agentEnv is everything a command may need, opened from config.
type agentEnv struct {
	cfg      *config.AgentConfig
	logger   *slog.Logger
	client   *client.SyncClient
	identity *agent.BoltIdentityStore
	agent    *agent.Agent
	closers  []func() error
}

func (e *agentEnv) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		errs = append(errs, e.closers[i]())
	}
	return errors.Join(errs...)
}

// userID is the identity the agent settled on, which may be a remembered
// one rather than the configured one.
func (e *agentEnv) userID() string {
	if e.agent != nil {
		return e.agent.Settings().UserID()
	}
	return e.cfg.UserID
}

func loadConfig(opts *RootOptions) (*config.AgentConfig, error) {
	cfg, err := config.LoadAgent(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Server != "" {
		cfg.ServerURL = opts.Server
	}
	if opts.User != "" {
		cfg.UserID = agent.SanitizeUsername(opts.User)
	}
	return cfg, nil
}

// openClient is enough for commands that only query the server.
func openClient(cmd *cobra.Command, opts *RootOptions) (*agentEnv, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	return &agentEnv{
		cfg:    cfg,
		logger: opts.logger(cmd.ErrOrStderr()),
		client: client.NewSyncClient(cfg.ServerURL, cfg.Token, nil),
	}, nil
}

func openIdentity(env *agentEnv) error {
	if err := os.MkdirAll(env.cfg.DataDir, 0o700); err != nil {
		return WrapExitError(ExitCommandError, "failed to create data dir", err)
	}
	identity, err := agent.OpenBoltIdentityStore(filepath.Join(env.cfg.DataDir, "identity.db"))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open identity store", err)
	}
	env.identity = identity
	env.closers = append(env.closers, identity.Close)
	return nil
}

// openAgent builds and initializes a full agent.
func openAgent(ctx context.Context, cmd *cobra.Command, opts *RootOptions) (*agentEnv, error) {
	env, err := openClient(cmd, opts)
	if err != nil {
		return nil, err
	}

	if err := openIdentity(env); err != nil {
		env.Close()
		return nil, err
	}
	// An explicit --user replaces the remembered identity.
	if opts.User != "" {
		if err := env.identity.SetUsername(env.cfg.UserID); err != nil {
			env.Close()
			return nil, WrapExitError(ExitCommandError, "failed to store user", err)
		}
	}

	store, closeStore, err := repository.OpenBlobStore(ctx, env.cfg.StoreOptions())
	if err != nil {
		env.Close()
		return nil, WrapExitError(ExitCommandError, "failed to open storage", err)
	}
	env.closers = append(env.closers, closeStore)

	workspace, err := agent.NewWorkspace(env.cfg.WorkspaceDir, env.logger)
	if err != nil {
		env.Close()
		return nil, WrapExitError(ExitCommandError, "failed to open workspace", err)
	}

	env.agent = agent.New(
		agent.NewSettings(env.cfg.UserID, env.cfg.Interval),
		repository.NewSnapshotRepository(store),
		env.client,
		workspace,
		env.identity,
		agent.NewLogIndicator(env.logger),
		agent.WithLogger(env.logger),
	)

	if err := env.agent.Init(ctx); err != nil {
		env.Close()
		return nil, fmt.Errorf("failed to initialize agent: %w", err)
	}

	return env, nil
}
