package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"studio-sync/internal/domain"
	"studio-sync/internal/repository"
	"studio-sync/internal/statecodec"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

// countingStore wraps a BlobStore and records how it was used.
type countingStore struct {
	repository.BlobStore
	gets     atomic.Int32
	puts     atomic.Int32
	rejected atomic.Int32
}

func (c *countingStore) Get(ctx context.Context, key string) ([]byte, repository.Revision, error) {
	c.gets.Add(1)
	return c.BlobStore.Get(ctx, key)
}

func (c *countingStore) Put(ctx context.Context, key string, data []byte, expected repository.Revision) (repository.Revision, error) {
	c.puts.Add(1)
	rev, err := c.BlobStore.Put(ctx, key, data, expected)
	if errors.Is(err, repository.ErrConditionFailed) {
		c.rejected.Add(1)
	}
	return rev, err
}

// barrierStore holds the first n reads until all n have happened, so every
// writer starts from the same revision.
type barrierStore struct {
	repository.BlobStore
	mu      sync.Mutex
	pending int
	release chan struct{}
}

func newBarrierStore(inner repository.BlobStore, n int) *barrierStore {
	return &barrierStore{BlobStore: inner, pending: n, release: make(chan struct{})}
}

func (b *barrierStore) Get(ctx context.Context, key string) ([]byte, repository.Revision, error) {
	data, rev, err := b.BlobStore.Get(ctx, key)

	b.mu.Lock()
	wait := b.pending > 0
	if wait {
		b.pending--
		if b.pending == 0 {
			close(b.release)
		}
	}
	b.mu.Unlock()

	if wait {
		<-b.release
	}
	return data, rev, err
}

type alwaysConflictStore struct {
	repository.BlobStore
}

func (alwaysConflictStore) Put(ctx context.Context, key string, data []byte, expected repository.Revision) (repository.Revision, error) {
	return repository.NoRevision, repository.ErrConditionFailed
}

type brokenStore struct{}

func (brokenStore) Get(ctx context.Context, key string) ([]byte, repository.Revision, error) {
	return nil, repository.NoRevision, errors.New("dial tcp: connection refused")
}

func (brokenStore) Put(ctx context.Context, key string, data []byte, expected repository.Revision) (repository.Revision, error) {
	return repository.NoRevision, errors.New("dial tcp: connection refused")
}

type recordingBroadcaster struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingBroadcaster) BroadcastPresence(userID string, presence domain.UserPresence) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, userID)
}

func fixedClock(ms int64) func() time.Time {
	return func() time.Time { return time.UnixMilli(ms) }
}

func TestNotifyThenStatus(t *testing.T) {
	coordinator := NewSyncCoordinator(repository.NewMemoryBlobStore(), "", withSleep(noSleep))
	ctx := context.Background()

	before := time.Now().UnixMilli()
	res, err := coordinator.Notify(ctx, "alice", "v1", "")
	require.NoError(t, err)
	after := time.Now().UnixMilli()

	assert.True(t, res.Success)

	status, err := coordinator.GetStatus(ctx)
	require.NoError(t, err)

	alice, ok := status.Users["alice"]
	require.True(t, ok, "alice should be in the document")
	assert.GreaterOrEqual(t, alice.LastModified, before)
	assert.LessOrEqual(t, alice.LastModified, after)
	assert.Equal(t, domain.Version("v1"), alice.Version)
	assert.Equal(t, domain.DefaultAction, alice.Action)
	assert.Equal(t, domain.StatusActive, alice.Status)
	assert.GreaterOrEqual(t, status.ServerTime, alice.LastModified)
}

func TestGetStatus_AbsentDocument(t *testing.T) {
	store := &countingStore{BlobStore: repository.NewMemoryBlobStore()}
	coordinator := NewSyncCoordinator(store, "")

	before := time.Now().UnixMilli()
	status, err := coordinator.GetStatus(context.Background())
	require.NoError(t, err)

	assert.NotNil(t, status.Users)
	assert.Empty(t, status.Users)
	assert.GreaterOrEqual(t, status.LastUpdate, before)
	assert.Equal(t, int32(0), store.puts.Load(), "status must never write")
}

func TestNotify_CreatesAbsentDocument(t *testing.T) {
	store := repository.NewMemoryBlobStore()
	coordinator := NewSyncCoordinator(store, "sync/global-state.json")

	_, err := coordinator.Notify(context.Background(), "alice", "v1", "update")
	require.NoError(t, err)

	data, rev, err := store.Get(context.Background(), "sync/global-state.json")
	require.NoError(t, err)
	assert.NotEqual(t, repository.NoRevision, rev)

	state, err := statecodec.Decode(data)
	require.NoError(t, err)
	assert.Contains(t, state.Users, "alice")
	assert.Equal(t, state.LastUpdate, state.Created)
}

func TestNotify_CreatedIsSetOnce(t *testing.T) {
	store := repository.NewMemoryBlobStore()
	ctx := context.Background()

	first := NewSyncCoordinator(store, "", WithClock(fixedClock(1_000)))
	_, err := first.Notify(ctx, "alice", "v1", "")
	require.NoError(t, err)

	later := NewSyncCoordinator(store, "", WithClock(fixedClock(9_000)))
	_, err = later.Notify(ctx, "bob", "v1", "")
	require.NoError(t, err)

	status, err := later.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000), status.Created)
	assert.Equal(t, int64(9_000), status.LastUpdate)
}

func TestGetActiveUsers_ThresholdBoundary(t *testing.T) {
	const now = int64(1_700_000_000_000)
	threshold := 5 * time.Minute

	store := repository.NewMemoryBlobStore()
	state := statecodec.Empty(now)
	state.Users["exact"] = domain.UserPresence{LastModified: now - threshold.Milliseconds(), Version: "v1", Action: "update", Status: "active"}
	state.Users["inside"] = domain.UserPresence{LastModified: now - threshold.Milliseconds() + 1, Version: "v2", Action: "update", Status: "active"}
	data, err := statecodec.Encode(state)
	require.NoError(t, err)
	_, err = store.Put(context.Background(), DefaultStateKey, data, repository.NoRevision)
	require.NoError(t, err)

	coordinator := NewSyncCoordinator(store, "", WithClock(fixedClock(now)))
	res, err := coordinator.GetActiveUsers(context.Background(), threshold)
	require.NoError(t, err)

	assert.NotContains(t, res.ActiveUsers, "exact", "a user exactly at the threshold is excluded")
	require.Contains(t, res.ActiveUsers, "inside")
	assert.Equal(t, int64(4), res.ActiveUsers["inside"].MinutesAgo)
	assert.Equal(t, 1, res.Count)
	assert.Equal(t, now, res.ServerTime)
}

func TestScenario_AliceBecomesActive(t *testing.T) {
	coordinator := NewSyncCoordinator(repository.NewMemoryBlobStore(), "")
	ctx := context.Background()

	_, err := coordinator.Notify(ctx, "alice", "v1", "")
	require.NoError(t, err)

	res, err := coordinator.GetActiveUsers(ctx, 300000*time.Millisecond)
	require.NoError(t, err)

	require.Equal(t, 1, res.Count)
	alice := res.ActiveUsers["alice"]
	assert.True(t, alice.IsActive)
	assert.Equal(t, int64(0), alice.MinutesAgo)
	assert.Equal(t, domain.Version("v1"), alice.Version)
	assert.Equal(t, "update", alice.Action)
}

func TestNotify_ConcurrentDifferentUsers(t *testing.T) {
	counting := &countingStore{BlobStore: repository.NewMemoryBlobStore()}
	store := newBarrierStore(counting, 2)
	coordinator := NewSyncCoordinator(store, "", withSleep(noSleep))
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, user := range []string{"alice", "bob"} {
		wg.Add(1)
		go func(i int, user string) {
			defer wg.Done()
			_, errs[i] = coordinator.Notify(ctx, user, "v1", "update")
		}(i, user)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.GreaterOrEqual(t, counting.rejected.Load(), int32(1), "one writer must have lost the first race")

	status, err := coordinator.GetStatus(ctx)
	require.NoError(t, err)
	assert.Contains(t, status.Users, "alice")
	assert.Contains(t, status.Users, "bob")
}

func TestNotify_ConcurrentSameUser(t *testing.T) {
	counting := &countingStore{BlobStore: repository.NewMemoryBlobStore()}
	store := newBarrierStore(counting, 2)
	coordinator := NewSyncCoordinator(store, "", withSleep(noSleep))
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, version := range []domain.Version{"v1", "v2"} {
		wg.Add(1)
		go func(version domain.Version) {
			defer wg.Done()
			_, err := coordinator.Notify(ctx, "alice", version, "update")
			assert.NoError(t, err)
		}(version)
	}
	wg.Wait()

	status, err := coordinator.GetStatus(ctx)
	require.NoError(t, err)
	require.Len(t, status.Users, 1)
	assert.Contains(t, []domain.Version{"v1", "v2"}, status.Users["alice"].Version)
	assert.GreaterOrEqual(t, counting.rejected.Load(), int32(1))
}

func TestNotify_InvalidArguments(t *testing.T) {
	tests := []struct {
		name    string
		userID  string
		version domain.Version
	}{
		{name: "missing version", userID: "alice", version: ""},
		{name: "missing user", userID: "", version: "v1"},
		{name: "missing both", userID: "", version: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &countingStore{BlobStore: repository.NewMemoryBlobStore()}
			coordinator := NewSyncCoordinator(store, "")

			_, err := coordinator.Notify(context.Background(), tt.userID, tt.version, "")
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidArgument)
			assert.False(t, errors.Is(err, ErrConflict))
			assert.Equal(t, int32(0), store.gets.Load(), "no storage access on invalid input")
			assert.Equal(t, int32(0), store.puts.Load())
		})
	}
}

func TestNotify_ZeroVersionIsAGeneration(t *testing.T) {
	coordinator := NewSyncCoordinator(repository.NewMemoryBlobStore(), "")
	ctx := context.Background()

	var req domain.NotifyRequest
	require.NoError(t, json.Unmarshal([]byte(`{"userId":"alice","version":0}`), &req))

	_, err := coordinator.Notify(ctx, req.UserID, req.Version, "online")
	require.NoError(t, err)

	status, err := coordinator.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.Version("0"), status.Users["alice"].Version)
}

func TestNotify_RetryBudgetExhausted(t *testing.T) {
	var sleeps []time.Duration
	sleep := func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}

	store := alwaysConflictStore{BlobStore: repository.NewMemoryBlobStore()}
	coordinator := NewSyncCoordinator(store, "", withSleep(sleep),
		WithRetryBudget(5, 10*time.Millisecond, 40*time.Millisecond))

	_, err := coordinator.Notify(context.Background(), "alice", "v1", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConflict)
	assert.False(t, errors.Is(err, ErrInvalidArgument))

	var conflictErr *ConflictError
	require.True(t, errors.As(err, &conflictErr))
	assert.Equal(t, 5, conflictErr.Attempts)
	assert.Len(t, sleeps, 4, "backoff runs between attempts only")
	for _, d := range sleeps {
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 60*time.Millisecond)
	}
}

func TestNotify_StopsWhenContextCanceled(t *testing.T) {
	store := alwaysConflictStore{BlobStore: repository.NewMemoryBlobStore()}
	coordinator := NewSyncCoordinator(store, "", WithRetryBudget(5, time.Hour, time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := coordinator.Notify(ctx, "alice", "v1", "")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNotify_MalformedDocumentIsNotOverwritten(t *testing.T) {
	store := &countingStore{BlobStore: repository.NewMemoryBlobStore()}
	_, err := store.BlobStore.Put(context.Background(), DefaultStateKey, []byte(`not json`), repository.NoRevision)
	require.NoError(t, err)

	coordinator := NewSyncCoordinator(store, "")

	_, err = coordinator.GetStatus(context.Background())
	assert.ErrorIs(t, err, ErrDecode)

	_, err = coordinator.Notify(context.Background(), "alice", "v1", "")
	assert.ErrorIs(t, err, ErrDecode)
	assert.Equal(t, int32(0), store.puts.Load())

	data, _, err := store.BlobStore.Get(context.Background(), DefaultStateKey)
	require.NoError(t, err)
	assert.Equal(t, "not json", string(data))
}

func TestCoordinator_TransportErrors(t *testing.T) {
	coordinator := NewSyncCoordinator(brokenStore{}, "")

	_, err := coordinator.GetStatus(context.Background())
	assert.ErrorIs(t, err, ErrTransport)

	_, err = coordinator.GetActiveUsers(context.Background(), 0)
	assert.ErrorIs(t, err, ErrTransport)

	_, err = coordinator.Notify(context.Background(), "alice", "v1", "")
	assert.ErrorIs(t, err, ErrTransport)
}

func TestNotify_LastUpdateNeverDecreases(t *testing.T) {
	const future = int64(2_000_000_000_000)
	store := repository.NewMemoryBlobStore()
	state := statecodec.Empty(future)
	data, err := statecodec.Encode(state)
	require.NoError(t, err)
	_, err = store.Put(context.Background(), DefaultStateKey, data, repository.NoRevision)
	require.NoError(t, err)

	coordinator := NewSyncCoordinator(store, "", WithClock(fixedClock(future-1000)))
	_, err = coordinator.Notify(context.Background(), "alice", "v1", "")
	require.NoError(t, err)

	status, err := coordinator.GetStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, future, status.LastUpdate)
	assert.Equal(t, future-1000, status.Users["alice"].LastModified)
}

func TestNotify_ReplacesPresenceWholesale(t *testing.T) {
	coordinator := NewSyncCoordinator(repository.NewMemoryBlobStore(), "")
	ctx := context.Background()

	_, err := coordinator.Notify(ctx, "alice", "v1", "editing")
	require.NoError(t, err)
	_, err = coordinator.Notify(ctx, "alice", "v2", "")
	require.NoError(t, err)

	status, err := coordinator.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.Version("v2"), status.Users["alice"].Version)
	assert.Equal(t, "update", status.Users["alice"].Action)
}

func TestNotify_Broadcasts(t *testing.T) {
	broadcaster := &recordingBroadcaster{}
	coordinator := NewSyncCoordinator(repository.NewMemoryBlobStore(), "", WithBroadcaster(broadcaster))

	_, err := coordinator.Notify(context.Background(), "alice", "v1", "")
	require.NoError(t, err)

	_, err = coordinator.Notify(context.Background(), "", "v1", "")
	require.Error(t, err)

	assert.Equal(t, []string{"alice"}, broadcaster.calls)
}
