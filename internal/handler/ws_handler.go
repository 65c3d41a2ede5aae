package handler

import (
	"context"
	"log"
	"net/http"
	"strings"

	"studio-sync/internal/websocket"
	"studio-sync/pkg/jwt"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
)

type WebSocketHandler struct {
	manager   *websocket.Manager
	jwtSecret string
	upgrader  ws.Upgrader
}

// NewWebSocketHandler accepts presence watchers on /sync/ws. With an empty
// jwtSecret connections are anonymous unless they name a user.
func NewWebSocketHandler(manager *websocket.Manager, jwtSecret string, readBuffer, writeBuffer int) *WebSocketHandler {
	return &WebSocketHandler{
		manager:   manager,
		jwtSecret: jwtSecret,
		upgrader: ws.Upgrader{
			ReadBufferSize:  readBuffer,
			WriteBufferSize: writeBuffer,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user")

	if h.jwtSecret != "" {
		token := r.URL.Query().Get("token")
		if token == "" {
			token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if token == "" {
			log.Printf("[WebSocket] Missing authorization token")
			http.Error(w, "missing authorization token", http.StatusUnauthorized)
			return
		}

		claims, err := jwt.ValidateToken(token, h.jwtSecret)
		if err != nil {
			log.Printf("[WebSocket] Token validation failed: %v", err)
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		userID = claims.UserID
	}

	if userID == "" {
		userID = "anonymous"
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WebSocket] Failed to upgrade connection: %v", err)
		return
	}

	client := websocket.NewClient(uuid.NewString(), userID, conn, h.manager)
	h.manager.Register <- client

	go client.WritePump()
	go client.ReadPump()
}

// PresenceMessageHandler answers the requests a watcher may send.
type PresenceMessageHandler struct {
	coordinator SyncCoordinator
	manager     *websocket.Manager
}

func NewPresenceMessageHandler(coordinator SyncCoordinator, manager *websocket.Manager) *PresenceMessageHandler {
	return &PresenceMessageHandler{
		coordinator: coordinator,
		manager:     manager,
	}
}

func (h *PresenceMessageHandler) HandleWebSocketMessage(ctx context.Context, client *websocket.Client, msg *websocket.Message) error {
	switch msg.Type {
	case websocket.TypePing:
		return h.reply(client, websocket.TypePong, nil)

	case websocket.TypePresenceRequest:
		users, err := h.coordinator.GetActiveUsers(ctx, 0)
		if err != nil {
			if replyErr := h.reply(client, websocket.TypeError, &websocket.ErrorPayload{Error: err.Error()}); replyErr != nil {
				return replyErr
			}
			return err
		}
		return h.reply(client, websocket.TypePresenceState, users)

	default:
		log.Printf("unknown message type from %s: %s", client.ID, msg.Type)
		return h.reply(client, websocket.TypeError, &websocket.ErrorPayload{Error: "unknown message type: " + string(msg.Type)})
	}
}

func (h *PresenceMessageHandler) reply(client *websocket.Client, msgType websocket.MessageType, payload interface{}) error {
	msg, err := websocket.NewMessage(msgType, payload)
	if err != nil {
		return err
	}
	return h.manager.SendToClient(client, msg)
}
