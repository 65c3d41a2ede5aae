package agent

import (
	"fmt"
	"sync"
	"time"
)

// Settings is the agent's mutable configuration. It is owned by one Agent
// and changed only through its setters.
type Settings struct {
	mu       sync.RWMutex
	userID   string
	interval time.Duration
	autoSync bool
}

func NewSettings(userID string, interval time.Duration) *Settings {
	return &Settings{
		userID:   userID,
		interval: interval,
		autoSync: true,
	}
}

func (s *Settings) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

func (s *Settings) setUserID(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID = userID
}

func (s *Settings) Interval() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.interval
}

func (s *Settings) setInterval(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("sync interval must be positive, got %v", d)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interval = d
	return nil
}

func (s *Settings) AutoSync() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.autoSync
}

func (s *Settings) setAutoSync(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoSync = enabled
}
