package service

import (
	"bytes"
	"encoding/json"
	"fmt"

	"studio-sync/internal/domain"
)

// DetectSnapshotConflicts lists the snapshot sections whose content differs
// between the local working set and the stored copy.
func DetectSnapshotConflicts(local, remote *domain.ClientSnapshot) []domain.Conflict {
	var conflicts []domain.Conflict

	for _, section := range domain.SnapshotSections {
		localValue := local.Section(section)
		remoteValue := remote.Section(section)

		if sameJSON(localValue, remoteValue) {
			continue
		}

		conflicts = append(conflicts, domain.Conflict{
			FieldPath:      section,
			LocalValue:     localValue,
			RemoteValue:    remoteValue,
			LocalModified:  local.LastModified,
			RemoteModified: remote.LastModified,
			RemoteSavedBy:  remote.LastSavedBy,
		})
	}

	return conflicts
}

// ResolveConflicts picks a value for each conflict under strategy.
// Manual resolution takes values from manual keyed by field path; fields
// without one are reported as unresolved.
func ResolveConflicts(conflicts []domain.Conflict, strategy domain.ResolutionStrategy, manual map[string]json.RawMessage) (*domain.ConflictResolution, error) {
	resolution := &domain.ConflictResolution{
		Strategy: strategy,
		Choices:  make(map[string]json.RawMessage, len(conflicts)),
	}

	for _, c := range conflicts {
		switch strategy {
		case domain.ResolutionLWW:
			// Ties go to the stored copy: it is the one already committed.
			if c.LocalModified > c.RemoteModified {
				resolution.Choices[c.FieldPath] = c.LocalValue
			} else {
				resolution.Choices[c.FieldPath] = c.RemoteValue
			}

		case domain.ResolutionLocal:
			resolution.Choices[c.FieldPath] = c.LocalValue

		case domain.ResolutionRemote:
			resolution.Choices[c.FieldPath] = c.RemoteValue

		case domain.ResolutionManual:
			value, ok := manual[c.FieldPath]
			if !ok {
				resolution.Unresolved = append(resolution.Unresolved, c)
				continue
			}
			if !json.Valid(value) {
				return nil, fmt.Errorf("%w: manual value for %s is not JSON", ErrInvalidArgument, c.FieldPath)
			}
			resolution.Choices[c.FieldPath] = value

		default:
			return nil, fmt.Errorf("%w: unknown resolution strategy %q", ErrInvalidArgument, strategy)
		}
	}

	resolution.Resolved = len(resolution.Unresolved) == 0
	return resolution, nil
}

// ApplyResolution writes the chosen values into snapshot.
func ApplyResolution(snapshot *domain.ClientSnapshot, resolution *domain.ConflictResolution) error {
	if !resolution.Resolved {
		return fmt.Errorf("%w: %d conflicts unresolved", ErrInvalidArgument, len(resolution.Unresolved))
	}

	for field, value := range resolution.Choices {
		if !snapshot.SetSection(field, value) {
			return fmt.Errorf("%w: unknown snapshot field %q", ErrInvalidArgument, field)
		}
	}

	return nil
}

func sameJSON(a, b json.RawMessage) bool {
	if len(a) == 0 || len(b) == 0 {
		return len(a) == len(b)
	}

	var ca, cb bytes.Buffer
	if json.Compact(&ca, a) != nil || json.Compact(&cb, b) != nil {
		return bytes.Equal(a, b)
	}
	return bytes.Equal(ca.Bytes(), cb.Bytes())
}
