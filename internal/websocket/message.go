package websocket

import (
	"encoding/json"
	"time"

	"studio-sync/internal/domain"
)

type MessageType string

const (
	TypePresenceUpdate  MessageType = "presence_update"
	TypePresenceState   MessageType = "presence_state"
	TypePresenceRequest MessageType = "presence_request"
	TypePing            MessageType = "ping"
	TypePong            MessageType = "pong"
	TypeError           MessageType = "error"
)

// Message is the envelope for every frame in either direction. Timestamp is
// in milliseconds, like every other time on the sync wire.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type PresenceUpdatePayload struct {
	UserID       string         `json:"userId"`
	Version      domain.Version `json:"version"`
	Action       string         `json:"action"`
	LastModified int64          `json:"lastModified"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}

func NewMessage(msgType MessageType, payload interface{}) (*Message, error) {
	var payloadBytes json.RawMessage
	if payload != nil {
		bytes, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		payloadBytes = bytes
	}

	return &Message{
		Type:      msgType,
		Timestamp: domain.Millis(time.Now()),
		Payload:   payloadBytes,
	}, nil
}

func (m *Message) UnmarshalPayload(v interface{}) error {
	if m.Payload == nil {
		return nil
	}
	return json.Unmarshal(m.Payload, v)
}
