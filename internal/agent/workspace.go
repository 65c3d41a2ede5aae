package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"studio-sync/internal/domain"
)

// Application is the editing application the agent synchronizes. It owns
// the content collections; the agent only moves them around whole.
type Application interface {
	// CollectSnapshot returns the working set with LastModified set to the
	// time of the newest local edit.
	CollectSnapshot(ctx context.Context) (*domain.ClientSnapshot, error)
	// LoadFromData replaces the application's state with snapshot. It is
	// destructive: sections absent from snapshot are cleared.
	LoadFromData(ctx context.Context, snapshot *domain.ClientSnapshot) error
	RenderAll(ctx context.Context) error
}

// Workspace is an Application backed by a directory holding one JSON file
// per snapshot section.
type Workspace struct {
	dir    string
	logger *slog.Logger
}

func NewWorkspace(dir string, logger *slog.Logger) (*Workspace, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create workspace %s: %w", dir, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Workspace{dir: dir, logger: logger}, nil
}

func (w *Workspace) Dir() string {
	return w.dir
}

func (w *Workspace) sectionPath(section string) string {
	return filepath.Join(w.dir, section+".json")
}

func (w *Workspace) CollectSnapshot(ctx context.Context) (*domain.ClientSnapshot, error) {
	snapshot := &domain.ClientSnapshot{}

	for _, section := range domain.SnapshotSections {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		path := w.sectionPath(section)
		info, err := os.Stat(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", section, err)
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", section, err)
		}
		if !json.Valid(data) {
			return nil, fmt.Errorf("%s.json is not valid JSON", section)
		}
		snapshot.SetSection(section, json.RawMessage(data))

		if modified := domain.Millis(info.ModTime()); modified > snapshot.LastModified {
			snapshot.LastModified = modified
		}
	}

	return snapshot, nil
}

// LoadFromData stamps every written file with the snapshot's LastModified
// so loaded data does not look like a fresh local edit.
func (w *Workspace) LoadFromData(ctx context.Context, snapshot *domain.ClientSnapshot) error {
	var stamp time.Time
	if snapshot.LastModified > 0 {
		stamp = domain.FromMillis(snapshot.LastModified)
	}

	for _, section := range domain.SnapshotSections {
		if err := ctx.Err(); err != nil {
			return err
		}

		path := w.sectionPath(section)
		value := snapshot.Section(section)
		if len(value) == 0 {
			if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("failed to clear %s: %w", section, err)
			}
			continue
		}

		if err := writeFileAtomic(path, value); err != nil {
			return fmt.Errorf("failed to write %s: %w", section, err)
		}
		if !stamp.IsZero() {
			if err := os.Chtimes(path, stamp, stamp); err != nil {
				return fmt.Errorf("failed to stamp %s: %w", section, err)
			}
		}
	}

	return nil
}

// RenderAll logs a summary of every section, the closest a headless
// workspace gets to redrawing.
func (w *Workspace) RenderAll(ctx context.Context) error {
	snapshot, err := w.CollectSnapshot(ctx)
	if err != nil {
		return err
	}

	attrs := make([]any, 0, 2*len(domain.SnapshotSections))
	for _, section := range domain.SnapshotSections {
		attrs = append(attrs, section, itemCount(snapshot.Section(section)))
	}
	w.logger.Info("workspace loaded", attrs...)
	return nil
}

func itemCount(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}
	var items []json.RawMessage
	if json.Unmarshal(raw, &items) == nil {
		return len(items)
	}
	var fields map[string]json.RawMessage
	if json.Unmarshal(raw, &fields) == nil {
		return len(fields)
	}
	return 1
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
