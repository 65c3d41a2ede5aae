// Package statecodec converts the shared sync document and user snapshots
// to and from their stored JSON form.
package statecodec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"studio-sync/internal/domain"
)

var ErrMalformed = errors.New("malformed state document")

// Empty returns the canonical state of a document that was never written.
func Empty(now int64) *domain.GlobalSyncState {
	return &domain.GlobalSyncState{
		Users:      make(map[string]domain.UserPresence),
		LastUpdate: now,
	}
}

func Decode(data []byte) (*domain.GlobalSyncState, error) {
	if err := requireObject(data); err != nil {
		return nil, err
	}

	var state domain.GlobalSyncState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if state.Users == nil {
		state.Users = make(map[string]domain.UserPresence)
	}

	return &state, nil
}

func Encode(state *domain.GlobalSyncState) ([]byte, error) {
	if state == nil {
		return nil, errors.New("encode: nil state")
	}
	if state.Users == nil {
		state.Users = make(map[string]domain.UserPresence)
	}
	return json.MarshalIndent(state, "", "  ")
}

func DecodeSnapshot(data []byte) (*domain.ClientSnapshot, error) {
	if err := requireObject(data); err != nil {
		return nil, err
	}

	var snapshot domain.ClientSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	return &snapshot, nil
}

func EncodeSnapshot(snapshot *domain.ClientSnapshot) ([]byte, error) {
	if snapshot == nil {
		return nil, errors.New("encode: nil snapshot")
	}
	return json.MarshalIndent(snapshot, "", "  ")
}

// requireObject rejects anything but a JSON object, including null, which
// json.Unmarshal would otherwise accept as a zero value.
func requireObject(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return fmt.Errorf("%w: empty document", ErrMalformed)
	}
	if trimmed[0] != '{' {
		return fmt.Errorf("%w: expected a JSON object", ErrMalformed)
	}
	return nil
}
