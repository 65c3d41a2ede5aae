package service

import (
	"time"

	"studio-sync/internal/domain"
)

const millisPerMinute = int64(time.Minute / time.Millisecond)

// ActiveUsers keeps the users whose last activity falls in [0, threshold)
// before now. Users at or past the threshold are left out entirely.
// Timestamps ahead of now (clock skew between writers) count as age zero.
func ActiveUsers(state *domain.GlobalSyncState, now int64, threshold time.Duration) map[string]domain.PresenceView {
	limit := threshold.Milliseconds()
	views := make(map[string]domain.PresenceView)

	for userID, presence := range state.Users {
		age := now - presence.LastModified
		if age < 0 {
			age = 0
		}
		if age >= limit {
			continue
		}

		views[userID] = domain.PresenceView{
			UserPresence: presence,
			IsActive:     true,
			MinutesAgo:   age / millisPerMinute,
		}
	}

	return views
}
