package repository

import (
	"context"
	"errors"
)

var (
	ErrNotFound        = errors.New("object not found")
	ErrConditionFailed = errors.New("revision precondition failed")
)

// Revision identifies one stored version of an object. The empty revision
// stands for "absent": a Put that expects it only succeeds when creating.
type Revision string

const NoRevision Revision = ""

// BlobStore holds opaque objects with compare-and-swap writes.
//
// Get returns ErrNotFound when the object is absent.
// Put returns ErrConditionFailed when the stored revision differs from expected.
type BlobStore interface {
	Get(ctx context.Context, key string) ([]byte, Revision, error)
	Put(ctx context.Context, key string, data []byte, expected Revision) (Revision, error)
}
