package agent

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type State string

const (
	StateIdle        State = "idle"
	StateSyncing     State = "syncing"
	StateSynced      State = "synced"
	StateError       State = "error"
	StateConflict    State = "conflict"
	StateAutoSyncOn  State = "auto_sync_on"
	StateAutoSyncOff State = "auto_sync_off"
)

// Indicator shows the agent's sync status to the editor.
type Indicator interface {
	SetState(state State, detail string)
}

// LogIndicator reports status changes through slog and remembers the last
// one.
type LogIndicator struct {
	logger *slog.Logger

	mu      sync.Mutex
	state   State
	detail  string
	changed time.Time
}

func NewLogIndicator(logger *slog.Logger) *LogIndicator {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogIndicator{logger: logger, state: StateIdle}
}

func (l *LogIndicator) SetState(state State, detail string) {
	l.mu.Lock()
	l.state = state
	l.detail = detail
	l.changed = time.Now()
	l.mu.Unlock()

	level := slog.LevelInfo
	switch state {
	case StateError, StateConflict:
		level = slog.LevelWarn
	case StateSyncing:
		level = slog.LevelDebug
	}
	l.logger.Log(context.Background(), level, "sync status", "state", state, "detail", detail)
}

func (l *LogIndicator) State() (State, string, time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state, l.detail, l.changed
}
