package domain

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultAction = "update"
	StatusActive  = "active"
)

// GlobalSyncState is the single document shared by every editor.
// Timestamps are milliseconds since the Unix epoch.
type GlobalSyncState struct {
	Users      map[string]UserPresence `json:"users"`
	LastUpdate int64                   `json:"lastUpdate"`
	// Created is set once, by the write that creates the document.
	Created int64 `json:"created,omitempty"`
}

type UserPresence struct {
	LastModified int64   `json:"lastModified"`
	Version      Version `json:"version"`
	Action       string  `json:"action"`
	Status       string  `json:"status"`
}

// PresenceView is a UserPresence seen through the active-user window.
type PresenceView struct {
	UserPresence
	IsActive   bool  `json:"isActive"`
	MinutesAgo int64 `json:"minutesAgo"`
}

// Version is the client's logical data generation. Clients send either a
// string or a number; numeric literals are written back as numbers.
type Version string

func (v *Version) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		*v = ""
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = Version(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*v = Version(n.String())
	return nil
}

func (v Version) MarshalJSON() ([]byte, error) {
	if v.isNumeric() {
		return []byte(v), nil
	}
	return json.Marshal(string(v))
}

func (v Version) isNumeric() bool {
	if v == "" {
		return false
	}
	_, err := strconv.ParseFloat(string(v), 64)
	if err != nil {
		return false
	}
	// ParseFloat accepts forms JSON does not.
	return json.Valid([]byte(v))
}

func (v Version) String() string {
	return string(v)
}

type NotifyRequest struct {
	UserID  string  `json:"userId" validate:"required"`
	Version Version `json:"version" validate:"required"`
	Action  string  `json:"action,omitempty"`
}

type NotifyResponse struct {
	Success   bool  `json:"success"`
	Timestamp int64 `json:"timestamp"`
}

// StatusResponse is the stored document plus the coordinator's observation time.
type StatusResponse struct {
	Users      map[string]UserPresence `json:"users"`
	LastUpdate int64                   `json:"lastUpdate"`
	ServerTime int64                   `json:"serverTime"`
	Created    int64                   `json:"created,omitempty"`
}

type ActiveUsersResponse struct {
	ActiveUsers map[string]PresenceView `json:"activeUsers"`
	Count       int                     `json:"count"`
	ServerTime  int64                   `json:"serverTime"`
}

// RemoteChange reports another editor's activity since a given instant.
type RemoteChange struct {
	UserID       string  `json:"userId"`
	LastModified int64   `json:"lastModified"`
	Version      Version `json:"version"`
	Action       string  `json:"action,omitempty"`
}

func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}
