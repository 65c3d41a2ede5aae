package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-kivik/kivik/v4"
)

// couchBlob wraps a stored object. CouchDB's _rev doubles as the revision.
type couchBlob struct {
	ID        string          `json:"_id"`
	Rev       string          `json:"_rev,omitempty"`
	Data      json.RawMessage `json:"data"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type couchBlobStore struct {
	client *kivik.Client
	dbName string
}

func NewCouchBlobStore(client *kivik.Client, dbName string) BlobStore {
	return &couchBlobStore{
		client: client,
		dbName: dbName,
	}
}

func (r *couchBlobStore) Get(ctx context.Context, key string) ([]byte, Revision, error) {
	db := r.client.DB(r.dbName)

	row := db.Get(ctx, blobDocID(key))

	var blob couchBlob
	if err := row.ScanDoc(&blob); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return nil, NoRevision, ErrNotFound
		}
		return nil, NoRevision, fmt.Errorf("failed to get blob %s: %w", key, err)
	}

	return blob.Data, Revision(blob.Rev), nil
}

func (r *couchBlobStore) Put(ctx context.Context, key string, data []byte, expected Revision) (Revision, error) {
	if !json.Valid(data) {
		return NoRevision, fmt.Errorf("failed to put blob %s: payload is not JSON", key)
	}

	db := r.client.DB(r.dbName)

	docID := blobDocID(key)
	blob := couchBlob{
		ID:        docID,
		Rev:       string(expected),
		Data:      data,
		UpdatedAt: time.Now(),
	}

	rev, err := db.Put(ctx, docID, blob)
	if err != nil {
		if kivik.HTTPStatus(err) == http.StatusConflict {
			return NoRevision, ErrConditionFailed
		}
		return NoRevision, fmt.Errorf("failed to put blob %s: %w", key, err)
	}

	return Revision(rev), nil
}

func blobDocID(key string) string {
	return fmt.Sprintf("blob:%s", key)
}
