package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"studio-sync/internal/repository"

	bolt "go.etcd.io/bbolt"
)

// IdentityStore persists the agent's local identity between runs.
type IdentityStore interface {
	Username() (string, error)
	SetUsername(username string) error
	LastSync() (int64, error)
	SetLastSync(ms int64) error
	// SyncBase is the stored state the workspace was last synced with, or
	// nil if it has none.
	SyncBase() (*SyncBase, error)
	SetSyncBase(base SyncBase) error
	Close() error
}

// SyncBase ties the local workspace to the stored snapshot it derives from.
// A zero UserID means the workspace belongs to nobody.
type SyncBase struct {
	UserID    string              `json:"userId"`
	Revision  repository.Revision `json:"revision"`
	Version   int64               `json:"version"`
	CreatedAt int64               `json:"createdAt"`
}

var identityBucket = []byte("identity")

var (
	keyUsername = []byte("username")
	keyLastSync = []byte("last_sync")
	keySyncBase = []byte("sync_base")
)

type BoltIdentityStore struct {
	db *bolt.DB
}

func OpenBoltIdentityStore(path string) (*BoltIdentityStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open identity store %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(identityBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare identity store: %w", err)
	}

	return &BoltIdentityStore{db: db}, nil
}

func (s *BoltIdentityStore) Username() (string, error) {
	value, err := s.get(keyUsername)
	return string(value), err
}

func (s *BoltIdentityStore) SetUsername(username string) error {
	return s.put(keyUsername, []byte(username))
}

// LastSync returns zero when no sync has completed yet.
func (s *BoltIdentityStore) LastSync() (int64, error) {
	value, err := s.get(keyLastSync)
	if err != nil || value == nil {
		return 0, err
	}
	ms, err := strconv.ParseInt(string(value), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt last sync value %q: %w", value, err)
	}
	return ms, nil
}

func (s *BoltIdentityStore) SetLastSync(ms int64) error {
	return s.put(keyLastSync, []byte(strconv.FormatInt(ms, 10)))
}

func (s *BoltIdentityStore) SyncBase() (*SyncBase, error) {
	value, err := s.get(keySyncBase)
	if err != nil || value == nil {
		return nil, err
	}
	var base SyncBase
	if err := json.Unmarshal(value, &base); err != nil {
		return nil, fmt.Errorf("corrupt sync base: %w", err)
	}
	return &base, nil
}

func (s *BoltIdentityStore) SetSyncBase(base SyncBase) error {
	value, err := json.Marshal(base)
	if err != nil {
		return err
	}
	return s.put(keySyncBase, value)
}

func (s *BoltIdentityStore) Close() error {
	return s.db.Close()
}

func (s *BoltIdentityStore) get(key []byte) ([]byte, error) {
	var value []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(identityBucket)
		if b == nil {
			return errors.New("identity bucket missing")
		}
		if v := b.Get(key); v != nil {
			value = append([]byte(nil), v...)
		}
		return nil
	})
	return value, err
}

func (s *BoltIdentityStore) put(key, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(identityBucket).Put(key, value)
	})
}
