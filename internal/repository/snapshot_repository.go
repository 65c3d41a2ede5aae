package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"studio-sync/internal/domain"
	"studio-sync/internal/statecodec"
)

type SnapshotRepository interface {
	Load(ctx context.Context, userID string) (*domain.ClientSnapshot, Revision, error)
	Save(ctx context.Context, snapshot *domain.ClientSnapshot, expected Revision) (Revision, error)
}

type snapshotRepo struct {
	store BlobStore
	now   func() time.Time
}

func NewSnapshotRepository(store BlobStore) SnapshotRepository {
	return &snapshotRepo{
		store: store,
		now:   time.Now,
	}
}

// SnapshotKey is where a user's working set lives in the blob store.
func SnapshotKey(userID string) string {
	return fmt.Sprintf("users/%s/data.json", userID)
}

func (r *snapshotRepo) Load(ctx context.Context, userID string) (*domain.ClientSnapshot, Revision, error) {
	data, rev, err := r.store.Get(ctx, SnapshotKey(userID))
	if errors.Is(err, ErrNotFound) {
		return r.emptySnapshot(userID), NoRevision, nil
	}
	if err != nil {
		return nil, NoRevision, err
	}

	snapshot, err := statecodec.DecodeSnapshot(data)
	if err != nil {
		return nil, NoRevision, fmt.Errorf("failed to load snapshot for %s: %w", userID, err)
	}

	return snapshot, rev, nil
}

func (r *snapshotRepo) Save(ctx context.Context, snapshot *domain.ClientSnapshot, expected Revision) (Revision, error) {
	if snapshot.UserID == "" {
		return NoRevision, errors.New("snapshot has no user id")
	}

	data, err := statecodec.EncodeSnapshot(snapshot)
	if err != nil {
		return NoRevision, fmt.Errorf("failed to encode snapshot: %w", err)
	}

	return r.store.Put(ctx, SnapshotKey(snapshot.UserID), data, expected)
}

func (r *snapshotRepo) emptySnapshot(userID string) *domain.ClientSnapshot {
	now := domain.Millis(r.now())
	return &domain.ClientSnapshot{
		UserID:       userID,
		News:         json.RawMessage(`[]`),
		Animations:   json.RawMessage(`[]`),
		Blocks:       json.RawMessage(`[]`),
		Conductor:    json.RawMessage(`[]`),
		Settings:     json.RawMessage(`{"theme":"dark","autoSave":true,"syncInterval":10000}`),
		Templates:    json.RawMessage(`{}`),
		Journals:     json.RawMessage(`[]`),
		Version:      1,
		CreatedAt:    now,
		LastModified: now,
	}
}
