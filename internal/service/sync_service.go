package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"studio-sync/internal/domain"
	"studio-sync/internal/repository"
	"studio-sync/internal/statecodec"

	"github.com/cenkalti/backoff"
)

const (
	DefaultStateKey        = "sync/global-state.json"
	DefaultActiveThreshold = 5 * time.Minute
	DefaultMaxAttempts     = 5
	DefaultBackoffInitial  = 50 * time.Millisecond
	DefaultBackoffMax      = time.Second
)

// PresenceBroadcaster is told about every committed notify.
type PresenceBroadcaster interface {
	BroadcastPresence(userID string, presence domain.UserPresence)
}

// SyncCoordinator runs the read-modify-write protocol over the shared state
// document. It keeps no state between calls: every operation re-reads the
// document, and writes are conditional on the revision that was read.
type SyncCoordinator struct {
	store          repository.BlobStore
	stateKey       string
	threshold      time.Duration
	maxAttempts    int
	backoffInitial time.Duration
	backoffMax     time.Duration
	now            func() time.Time
	sleep          func(ctx context.Context, d time.Duration) error
	broadcaster    PresenceBroadcaster
}

type CoordinatorOption func(*SyncCoordinator)

func WithClock(now func() time.Time) CoordinatorOption {
	return func(s *SyncCoordinator) { s.now = now }
}

func WithActiveThreshold(threshold time.Duration) CoordinatorOption {
	return func(s *SyncCoordinator) { s.threshold = threshold }
}

func WithRetryBudget(attempts int, initial, max time.Duration) CoordinatorOption {
	return func(s *SyncCoordinator) {
		s.maxAttempts = attempts
		s.backoffInitial = initial
		s.backoffMax = max
	}
}

func WithBroadcaster(b PresenceBroadcaster) CoordinatorOption {
	return func(s *SyncCoordinator) { s.broadcaster = b }
}

func withSleep(sleep func(ctx context.Context, d time.Duration) error) CoordinatorOption {
	return func(s *SyncCoordinator) { s.sleep = sleep }
}

func NewSyncCoordinator(store repository.BlobStore, stateKey string, opts ...CoordinatorOption) *SyncCoordinator {
	if stateKey == "" {
		stateKey = DefaultStateKey
	}

	s := &SyncCoordinator{
		store:          store,
		stateKey:       stateKey,
		threshold:      DefaultActiveThreshold,
		maxAttempts:    DefaultMaxAttempts,
		backoffInitial: DefaultBackoffInitial,
		backoffMax:     DefaultBackoffMax,
		now:            time.Now,
		sleep:          sleepContext,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.maxAttempts < 1 {
		s.maxAttempts = 1
	}

	return s
}

func (s *SyncCoordinator) ActiveThreshold() time.Duration {
	return s.threshold
}

// GetStatus returns the current document, or the canonical empty state when
// nothing was ever written. It never writes.
func (s *SyncCoordinator) GetStatus(ctx context.Context) (*domain.StatusResponse, error) {
	state, _, err := s.fetch(ctx)
	if err != nil {
		return nil, err
	}

	return &domain.StatusResponse{
		Users:      state.Users,
		LastUpdate: state.LastUpdate,
		ServerTime: domain.Millis(s.now()),
		Created:    state.Created,
	}, nil
}

// GetActiveUsers applies the presence window to the current document. A
// non-positive threshold selects the configured default.
func (s *SyncCoordinator) GetActiveUsers(ctx context.Context, threshold time.Duration) (*domain.ActiveUsersResponse, error) {
	if threshold <= 0 {
		threshold = s.threshold
	}

	state, _, err := s.fetch(ctx)
	if err != nil {
		return nil, err
	}

	now := domain.Millis(s.now())
	active := ActiveUsers(state, now, threshold)

	return &domain.ActiveUsersResponse{
		ActiveUsers: active,
		Count:       len(active),
		ServerTime:  now,
	}, nil
}

// Notify records userID's activity. Each attempt re-reads the document and
// writes it back only if its revision is unchanged; a lost race backs off
// and retries until the attempt budget runs out.
func (s *SyncCoordinator) Notify(ctx context.Context, userID string, version domain.Version, action string) (*domain.NotifyResponse, error) {
	if userID == "" || version == "" {
		return nil, fmt.Errorf("%w: userId and version required", ErrInvalidArgument)
	}
	if action == "" {
		action = domain.DefaultAction
	}

	b := s.newBackOff()

	for attempt := 1; ; attempt++ {
		state, rev, err := s.fetch(ctx)
		if err != nil {
			return nil, err
		}

		now := domain.Millis(s.now())
		presence := domain.UserPresence{
			LastModified: now,
			Version:      version,
			Action:       action,
			Status:       domain.StatusActive,
		}
		state.Users[userID] = presence
		if rev == repository.NoRevision && state.Created == 0 {
			state.Created = now
		}
		if now > state.LastUpdate {
			state.LastUpdate = now
		}

		data, err := statecodec.Encode(state)
		if err != nil {
			return nil, fmt.Errorf("failed to encode sync state: %w", err)
		}

		_, err = s.store.Put(ctx, s.stateKey, data, rev)
		if err == nil {
			if s.broadcaster != nil {
				s.broadcaster.BroadcastPresence(userID, presence)
			}
			return &domain.NotifyResponse{Success: true, Timestamp: now}, nil
		}

		if !errors.Is(err, repository.ErrConditionFailed) {
			return nil, fmt.Errorf("%w: %w", ErrTransport, err)
		}

		if attempt >= s.maxAttempts {
			return nil, &ConflictError{Key: s.stateKey, Attempts: attempt}
		}

		wait := b.NextBackOff()
		log.Printf("notify %s: revision %q superseded, retrying in %v (attempt %d/%d)",
			userID, rev, wait, attempt, s.maxAttempts)

		if err := s.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

func (s *SyncCoordinator) fetch(ctx context.Context) (*domain.GlobalSyncState, repository.Revision, error) {
	data, rev, err := s.store.Get(ctx, s.stateKey)
	if errors.Is(err, repository.ErrNotFound) {
		return statecodec.Empty(domain.Millis(s.now())), repository.NoRevision, nil
	}
	if err != nil {
		return nil, repository.NoRevision, fmt.Errorf("%w: %w", ErrTransport, err)
	}

	state, err := statecodec.Decode(data)
	if err != nil {
		return nil, repository.NoRevision, fmt.Errorf("failed to read %s: %w", s.stateKey, err)
	}

	return state, rev, nil
}

func (s *SyncCoordinator) newBackOff() backoff.BackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     s.backoffInitial,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         s.backoffMax,
		MaxElapsedTime:      0,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
