package repository

import (
	"context"
	"strconv"
	"sync"
)

type memoryObject struct {
	data     []byte
	revision Revision
}

type memoryBlobStore struct {
	mu      sync.Mutex
	objects map[string]memoryObject
	seq     uint64
}

// NewMemoryBlobStore returns a process-local BlobStore, used for development
// and tests. Revisions are a per-store counter.
func NewMemoryBlobStore() BlobStore {
	return &memoryBlobStore{
		objects: make(map[string]memoryObject),
	}
}

func (s *memoryBlobStore) Get(ctx context.Context, key string) ([]byte, Revision, error) {
	if err := ctx.Err(); err != nil {
		return nil, NoRevision, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.objects[key]
	if !ok {
		return nil, NoRevision, ErrNotFound
	}

	return append([]byte(nil), obj.data...), obj.revision, nil
}

func (s *memoryBlobStore) Put(ctx context.Context, key string, data []byte, expected Revision) (Revision, error) {
	if err := ctx.Err(); err != nil {
		return NoRevision, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.objects[key].revision
	if current != expected {
		return NoRevision, ErrConditionFailed
	}

	s.seq++
	rev := Revision(strconv.FormatUint(s.seq, 10))
	s.objects[key] = memoryObject{
		data:     append([]byte(nil), data...),
		revision: rev,
	}

	return rev, nil
}
