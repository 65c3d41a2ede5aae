package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os/signal"
	"strings"
	"syscall"

	"studio-sync/internal/domain"
	"studio-sync/internal/websocket"

	ws "github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream presence updates from the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}

			wsURL, err := presenceURL(cfg.ServerURL, cfg.UserID, cfg.Token)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid server URL", err)
			}

			conn, _, err := ws.DefaultDialer.DialContext(ctx, wsURL, nil)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to connect", err)
			}
			defer conn.Close()

			go func() {
				<-ctx.Done()
				conn.Close()
			}()

			if err := conn.WriteJSON(websocket.Message{Type: websocket.TypePresenceRequest}); err != nil {
				return WrapExitError(ExitFailure, "failed to request presence", err)
			}

			out := printer{format: rootOpts.Format, w: cmd.OutOrStdout()}
			for {
				var msg websocket.Message
				if err := conn.ReadJSON(&msg); err != nil {
					if ctx.Err() != nil || errors.Is(err, context.Canceled) {
						return nil
					}
					return WrapExitError(ExitFailure, "connection lost", err)
				}
				if err := printPresence(out, &msg); err != nil {
					return err
				}
			}
		},
	}
}

func presenceURL(serverURL, userID, token string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", err
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	u.Path = strings.TrimRight(u.Path, "/") + "/sync/ws"
	q := url.Values{}
	if userID != "" {
		q.Set("user", userID)
	}
	if token != "" {
		q.Set("token", token)
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

func printPresence(out printer, msg *websocket.Message) error {
	return out.print(msg, func(w io.Writer) {
		switch msg.Type {
		case websocket.TypePresenceUpdate:
			var p websocket.PresenceUpdatePayload
			if msg.UnmarshalPayload(&p) == nil {
				fmt.Fprintf(w, "%s %s (version %s)\n", p.UserID, p.Action, p.Version)
			}
		case websocket.TypePresenceState:
			var state domain.ActiveUsersResponse
			if msg.UnmarshalPayload(&state) == nil {
				fmt.Fprintf(w, "%d active:", state.Count)
				for _, id := range sortedKeys(state.ActiveUsers) {
					fmt.Fprintf(w, " %s", id)
				}
				fmt.Fprintln(w)
			}
		default:
			fmt.Fprintf(w, "%s %s\n", msg.Type, msg.Payload)
		}
	})
}
