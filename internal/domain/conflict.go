package domain

import "encoding/json"

type ResolutionStrategy string

const (
	ResolutionLWW    ResolutionStrategy = "lww"
	ResolutionLocal  ResolutionStrategy = "local"
	ResolutionRemote ResolutionStrategy = "remote"
	ResolutionManual ResolutionStrategy = "manual"
)

// Conflict is one snapshot section that differs between the local working
// set and the copy currently in storage.
type Conflict struct {
	FieldPath      string          `json:"fieldPath"`
	LocalValue     json.RawMessage `json:"localValue"`
	RemoteValue    json.RawMessage `json:"remoteValue"`
	LocalModified  int64           `json:"localModified"`
	RemoteModified int64           `json:"remoteModified"`
	RemoteSavedBy  string          `json:"remoteSavedBy,omitempty"`
}

type ConflictResolution struct {
	Resolved   bool                       `json:"resolved"`
	Strategy   ResolutionStrategy         `json:"strategy"`
	Choices    map[string]json.RawMessage `json:"choices"`
	Unresolved []Conflict                 `json:"unresolved,omitempty"`
}
