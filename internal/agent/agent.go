// Package agent runs inside an editor's process and keeps its local working
// set in step with shared storage.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"studio-sync/internal/domain"
	"studio-sync/internal/repository"
	"studio-sync/internal/service"
)

const (
	ActionUpdate  = "update"
	ActionOnline  = "online"
	ActionEditing = "editing"
)

// Coordinator is the presence side of the sync server.
type Coordinator interface {
	Notify(ctx context.Context, userID string, version domain.Version, action string) (*domain.NotifyResponse, error)
	DetectChanges(ctx context.Context, selfID string, since int64) ([]domain.RemoteChange, error)
}

type Agent struct {
	settings    *Settings
	snapshots   repository.SnapshotRepository
	coordinator Coordinator
	app         Application
	identity    IdentityStore
	indicator   Indicator
	logger      *slog.Logger
	now         func() time.Time

	mu            sync.Mutex
	revision      repository.Revision
	version       int64
	createdAt     int64
	pending       []domain.Conflict
	pendingRemote *domain.ClientSnapshot
	pendingRev    repository.Revision

	intervalChanged chan struct{}
}

type Option func(*Agent)

func WithLogger(logger *slog.Logger) Option {
	return func(a *Agent) { a.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(a *Agent) { a.now = now }
}

func New(settings *Settings, snapshots repository.SnapshotRepository, coordinator Coordinator,
	app Application, identity IdentityStore, indicator Indicator, opts ...Option) *Agent {
	a := &Agent{
		settings:        settings,
		snapshots:       snapshots,
		coordinator:     coordinator,
		app:             app,
		identity:        identity,
		indicator:       indicator,
		logger:          slog.Default(),
		now:             time.Now,
		intervalChanged: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Agent) Settings() *Settings {
	return a.settings
}

// Init adopts a previously persisted username and the stored snapshot. An
// empty workspace, or one last synced by another user, is replaced with the
// stored data. Otherwise local files are kept and the next sync is
// conditional on the revision they were last synced with, so edits made
// while the agent was not running are pushed, or surface as conflicts.
func (a *Agent) Init(ctx context.Context) error {
	stored, err := a.identity.Username()
	if err != nil {
		return fmt.Errorf("failed to read stored username: %w", err)
	}
	if stored != "" {
		a.settings.setUserID(stored)
	}
	userID := a.settings.UserID()
	if userID == "" {
		return fmt.Errorf("%w: no user id configured", service.ErrInvalidArgument)
	}

	base, err := a.identity.SyncBase()
	if err != nil {
		return fmt.Errorf("failed to read sync base: %w", err)
	}
	local, err := a.app.CollectSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to collect local data: %w", err)
	}

	if local.IsEmpty() || (base != nil && base.UserID != userID) {
		return a.reload(ctx)
	}

	a.mu.Lock()
	if base != nil {
		a.revision = base.Revision
		a.version = base.Version
		a.createdAt = base.CreatedAt
	} else {
		// Files of unknown origin: only a create can succeed without review.
		a.revision = repository.NoRevision
		a.version = 0
		a.createdAt = 0
	}
	a.clearPendingLocked()
	revision := a.revision
	a.mu.Unlock()

	a.logger.Info("kept local workspace", "user", userID, "revision", revision)
	return nil
}

// Pull discards local state and reloads the user's snapshot from storage.
func (a *Agent) Pull(ctx context.Context) error {
	return a.reload(ctx)
}

func (a *Agent) reload(ctx context.Context) error {
	userID := a.settings.UserID()

	snapshot, rev, err := a.snapshots.Load(ctx, userID)
	if err != nil {
		a.indicator.SetState(StateError, err.Error())
		return fmt.Errorf("failed to load data for %s: %w", userID, err)
	}

	if err := a.app.LoadFromData(ctx, snapshot); err != nil {
		return fmt.Errorf("failed to apply data for %s: %w", userID, err)
	}
	if err := a.app.RenderAll(ctx); err != nil {
		return fmt.Errorf("failed to render: %w", err)
	}

	a.mu.Lock()
	a.revision = rev
	a.version = snapshot.Version
	a.createdAt = snapshot.CreatedAt
	a.clearPendingLocked()
	a.mu.Unlock()

	a.saveBase(userID, rev, snapshot.Version, snapshot.CreatedAt)

	a.logger.Info("loaded user data", "user", userID, "version", snapshot.Version, "revision", rev)
	return nil
}

func (a *Agent) clearPendingLocked() {
	a.pending = nil
	a.pendingRemote = nil
	a.pendingRev = repository.NoRevision
}

// saveBase records what the workspace now derives from. Failure only costs
// a conflict review after the next restart.
func (a *Agent) saveBase(userID string, rev repository.Revision, version, createdAt int64) {
	base := SyncBase{UserID: userID, Revision: rev, Version: version, CreatedAt: createdAt}
	if err := a.identity.SetSyncBase(base); err != nil {
		a.logger.Warn("failed to persist sync base", "error", err)
	}
}

// SyncNow writes the full local snapshot, conditional on the revision last
// seen, and then reports the new version to the coordinator. Failures are
// reported through the indicator and returned; they are not retried here.
func (a *Agent) SyncNow(ctx context.Context) error {
	a.indicator.SetState(StateSyncing, "")

	err := a.syncNow(ctx)
	switch {
	case err == nil:
		a.indicator.SetState(StateSynced, "")
	case errors.Is(err, service.ErrConflict):
		a.indicator.SetState(StateConflict, err.Error())
		a.logger.Warn("sync conflict", "error", err)
	default:
		a.indicator.SetState(StateError, err.Error())
		a.logger.Error("sync failed", "error", err)
	}
	return err
}

func (a *Agent) syncNow(ctx context.Context) error {
	userID := a.settings.UserID()

	a.mu.Lock()
	if len(a.pending) > 0 {
		n := len(a.pending)
		a.mu.Unlock()
		return fmt.Errorf("%w: %d unresolved conflicts", service.ErrConflict, n)
	}
	expected := a.revision
	version := a.version + 1
	createdAt := a.createdAt
	a.mu.Unlock()

	snapshot, err := a.app.CollectSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to collect local data: %w", err)
	}

	// The rejected-save path compares edit times, not save times.
	edited := snapshot.LastModified

	now := domain.Millis(a.now())
	if createdAt == 0 {
		createdAt = now
	}
	snapshot.UserID = userID
	snapshot.Version = version
	snapshot.CreatedAt = createdAt
	snapshot.LastModified = now
	snapshot.LastSavedBy = userID

	rev, err := a.snapshots.Save(ctx, snapshot, expected)
	if errors.Is(err, repository.ErrConditionFailed) {
		return a.recordConflicts(ctx, snapshot, edited)
	}
	if err != nil {
		return fmt.Errorf("%w: failed to save snapshot: %w", service.ErrTransport, err)
	}

	a.mu.Lock()
	a.revision = rev
	a.version = version
	a.createdAt = createdAt
	a.mu.Unlock()

	a.saveBase(userID, rev, version, createdAt)
	if err := a.identity.SetLastSync(now); err != nil {
		a.logger.Warn("failed to persist last sync time", "error", err)
	}

	if _, err := a.coordinator.Notify(ctx, userID, domain.Version(strconv.FormatInt(version, 10)), ActionUpdate); err != nil {
		return fmt.Errorf("snapshot saved but notify failed: %w", err)
	}

	a.logger.Info("synced", "user", userID, "version", version)
	return nil
}

// recordConflicts runs after another writer replaced the stored snapshot.
// edited is the time of the newest local edit.
func (a *Agent) recordConflicts(ctx context.Context, local *domain.ClientSnapshot, edited int64) error {
	remote, rev, err := a.snapshots.Load(ctx, local.UserID)
	if err != nil {
		return fmt.Errorf("%w: failed to load remote snapshot: %w", service.ErrTransport, err)
	}

	compared := local.Clone()
	compared.LastModified = edited
	conflicts := service.DetectSnapshotConflicts(compared, remote)

	if len(conflicts) == 0 {
		// Same content; only the revision moved.
		a.mu.Lock()
		a.revision = rev
		a.version = remote.Version
		a.createdAt = remote.CreatedAt
		a.mu.Unlock()
		a.saveBase(local.UserID, rev, remote.Version, remote.CreatedAt)
		return fmt.Errorf("%w: stored snapshot changed, retry to sync", service.ErrConflict)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending = conflicts
	a.pendingRemote = remote
	a.pendingRev = rev
	return fmt.Errorf("%w: %d sections changed remotely", service.ErrConflict, len(conflicts))
}

// PendingConflicts lists the conflicts left by the last rejected sync.
func (a *Agent) PendingConflicts() []domain.Conflict {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domain.Conflict(nil), a.pending...)
}

// ResolveConflicts settles the pending conflicts with strategy. When every
// conflict is resolved the merged working set is applied to the
// application and the next sync builds on the remote revision.
func (a *Agent) ResolveConflicts(ctx context.Context, strategy domain.ResolutionStrategy, manual map[string]json.RawMessage) (*domain.ConflictResolution, error) {
	if strategy == "" {
		return nil, fmt.Errorf("%w: a resolution strategy is required", service.ErrInvalidArgument)
	}

	a.mu.Lock()
	conflicts := append([]domain.Conflict(nil), a.pending...)
	remote := a.pendingRemote
	rev := a.pendingRev
	a.mu.Unlock()

	resolution, err := service.ResolveConflicts(conflicts, strategy, manual)
	if err != nil {
		return nil, err
	}
	if !resolution.Resolved || len(conflicts) == 0 {
		return resolution, nil
	}

	merged, err := a.app.CollectSnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to collect local data: %w", err)
	}
	if err := service.ApplyResolution(merged, resolution); err != nil {
		return nil, err
	}
	// The merge is a new local edit.
	merged.LastModified = domain.Millis(a.now())
	if err := a.app.LoadFromData(ctx, merged); err != nil {
		return nil, fmt.Errorf("failed to apply merged data: %w", err)
	}
	if err := a.app.RenderAll(ctx); err != nil {
		return nil, fmt.Errorf("failed to render: %w", err)
	}

	a.mu.Lock()
	a.revision = rev
	a.version = remote.Version
	a.createdAt = remote.CreatedAt
	a.clearPendingLocked()
	a.mu.Unlock()

	a.saveBase(a.settings.UserID(), rev, remote.Version, remote.CreatedAt)
	a.indicator.SetState(StateIdle, "conflicts resolved")
	return resolution, nil
}

func (a *Agent) EnableAutoSync() {
	a.settings.setAutoSync(true)
	a.indicator.SetState(StateAutoSyncOn, "")
}

func (a *Agent) DisableAutoSync() {
	a.settings.setAutoSync(false)
	a.indicator.SetState(StateAutoSyncOff, "")
}

func (a *Agent) UpdateInterval(d time.Duration) error {
	if err := a.settings.setInterval(d); err != nil {
		return fmt.Errorf("%w: %v", service.ErrInvalidArgument, err)
	}

	select {
	case a.intervalChanged <- struct{}{}:
	default:
	}
	a.logger.Info("sync interval updated", "interval", d)
	return nil
}

var usernameStrip = regexp.MustCompile(`[^a-z0-9]`)

// SanitizeUsername lowercases name and drops everything but ASCII letters
// and digits.
func SanitizeUsername(name string) string {
	return usernameStrip.ReplaceAllString(strings.ToLower(name), "")
}

// UpdateUsername switches identity and replaces all local state with the
// new user's stored data. Nothing is merged.
func (a *Agent) UpdateUsername(ctx context.Context, name string) (string, error) {
	userID := SanitizeUsername(name)
	if userID == "" {
		return "", fmt.Errorf("%w: username %q has no usable characters", service.ErrInvalidArgument, name)
	}

	// Forget the previous user's revision first so a failed reload cannot
	// leave it attached to the new identity.
	a.mu.Lock()
	a.revision = repository.NoRevision
	a.version = 0
	a.createdAt = 0
	a.clearPendingLocked()
	a.mu.Unlock()
	if err := a.identity.SetSyncBase(SyncBase{}); err != nil {
		return "", fmt.Errorf("failed to reset sync base: %w", err)
	}

	if err := a.identity.SetUsername(userID); err != nil {
		return "", fmt.Errorf("failed to persist username: %w", err)
	}
	a.settings.setUserID(userID)
	a.logger.Info("username updated", "user", userID)

	if err := a.reload(ctx); err != nil {
		return userID, err
	}
	return userID, nil
}

// CheckForUpdates lists other editors' activity since the last sync.
func (a *Agent) CheckForUpdates(ctx context.Context) ([]domain.RemoteChange, error) {
	since, err := a.identity.LastSync()
	if err != nil {
		return nil, fmt.Errorf("failed to read last sync time: %w", err)
	}
	return a.coordinator.DetectChanges(ctx, a.settings.UserID(), since)
}

func (a *Agent) SignalOnline(ctx context.Context) error {
	return a.signal(ctx, ActionOnline)
}

func (a *Agent) SignalEditing(ctx context.Context, itemType, itemID string) error {
	a.logger.Debug("editing", "type", itemType, "id", itemID)
	return a.signal(ctx, ActionEditing)
}

func (a *Agent) signal(ctx context.Context, action string) error {
	a.mu.Lock()
	version := a.version
	a.mu.Unlock()

	_, err := a.coordinator.Notify(ctx, a.settings.UserID(), domain.Version(strconv.FormatInt(version, 10)), action)
	if err != nil {
		return fmt.Errorf("failed to signal %s: %w", action, err)
	}
	return nil
}

// LastSyncTime returns the time of the last successful sync, or the zero
// time if there has been none.
func (a *Agent) LastSyncTime() (time.Time, error) {
	ms, err := a.identity.LastSync()
	if err != nil || ms == 0 {
		return time.Time{}, err
	}
	return domain.FromMillis(ms), nil
}

type Status struct {
	UserID           string              `json:"userId"`
	AutoSync         bool                `json:"autoSync"`
	Interval         string              `json:"interval"`
	Version          int64               `json:"version"`
	Revision         repository.Revision `json:"revision"`
	PendingConflicts int                 `json:"pendingConflicts"`
	LastSync         int64               `json:"lastSync,omitempty"`
}

func (a *Agent) Status() Status {
	a.mu.Lock()
	s := Status{
		Version:          a.version,
		Revision:         a.revision,
		PendingConflicts: len(a.pending),
	}
	a.mu.Unlock()

	s.UserID = a.settings.UserID()
	s.AutoSync = a.settings.AutoSync()
	s.Interval = a.settings.Interval().String()
	if ms, err := a.identity.LastSync(); err == nil {
		s.LastSync = ms
	}
	return s
}

// Run drives periodic syncs and the presence heartbeat until ctx is done.
// Ticks that arrive while auto-sync is disabled are skipped.
func (a *Agent) Run(ctx context.Context, heartbeat time.Duration) error {
	if err := a.SignalOnline(ctx); err != nil {
		a.logger.Warn("heartbeat failed", "error", err)
	}

	syncTicker := time.NewTicker(a.settings.Interval())
	defer syncTicker.Stop()
	heartbeatTicker := time.NewTicker(heartbeat)
	defer heartbeatTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-a.intervalChanged:
			syncTicker.Reset(a.settings.Interval())

		case <-syncTicker.C:
			if !a.settings.AutoSync() {
				continue
			}
			// Errors are already on the indicator.
			_ = a.SyncNow(ctx)

		case <-heartbeatTicker.C:
			if err := a.SignalOnline(ctx); err != nil {
				a.logger.Warn("heartbeat failed", "error", err)
			}
		}
	}
}
