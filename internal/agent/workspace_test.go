package agent

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"studio-sync/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkspace_CollectAndLoad(t *testing.T) {
	ws, err := NewWorkspace(t.TempDir(), quietLogger())
	require.NoError(t, err)
	ctx := context.Background()

	empty, err := ws.CollectSnapshot(ctx)
	require.NoError(t, err)
	for _, section := range domain.SnapshotSections {
		assert.Nil(t, empty.Section(section), section)
	}

	require.NoError(t, ws.LoadFromData(ctx, &domain.ClientSnapshot{
		News:     json.RawMessage(`[{"id":"n1"}]`),
		Settings: json.RawMessage(`{"theme":"light"}`),
	}))

	snap, err := ws.CollectSnapshot(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"n1"}]`, string(snap.News))
	assert.JSONEq(t, `{"theme":"light"}`, string(snap.Settings))

	require.NoError(t, ws.LoadFromData(ctx, &domain.ClientSnapshot{
		Blocks: json.RawMessage(`[]`),
	}))

	snap, err = ws.CollectSnapshot(ctx)
	require.NoError(t, err)
	assert.Nil(t, snap.News, "loading is a replace, not a merge")
	assert.Nil(t, snap.Settings)
	assert.JSONEq(t, `[]`, string(snap.Blocks))

	require.NoError(t, ws.RenderAll(ctx))
}

func TestWorkspace_LastModifiedIsNewestEdit(t *testing.T) {
	dir := t.TempDir()
	ws, err := NewWorkspace(dir, quietLogger())
	require.NoError(t, err)
	ctx := context.Background()

	stored := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, ws.LoadFromData(ctx, &domain.ClientSnapshot{
		News:         json.RawMessage(`[]`),
		Blocks:       json.RawMessage(`[]`),
		LastModified: domain.Millis(stored),
	}))

	snap, err := ws.CollectSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.Millis(stored), snap.LastModified, "loaded files carry the stored time")

	edited := stored.Add(90 * time.Minute)
	path := filepath.Join(dir, "blocks.json")
	require.NoError(t, os.WriteFile(path, []byte(`["b1"]`), 0o644))
	require.NoError(t, os.Chtimes(path, edited, edited))

	snap, err = ws.CollectSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.Millis(edited), snap.LastModified)
}

func TestWorkspace_RejectsInvalidSection(t *testing.T) {
	dir := t.TempDir()
	ws, err := NewWorkspace(dir, quietLogger())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "news.json"), []byte(`{not json`), 0o644))

	_, err = ws.CollectSnapshot(context.Background())
	assert.Error(t, err)
}

func TestItemCount(t *testing.T) {
	assert.Equal(t, 0, itemCount(nil))
	assert.Equal(t, 2, itemCount(json.RawMessage(`[1,2]`)))
	assert.Equal(t, 3, itemCount(json.RawMessage(`{"a":1,"b":2,"c":3}`)))
	assert.Equal(t, 1, itemCount(json.RawMessage(`"scalar"`)))
}
