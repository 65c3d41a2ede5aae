package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const (
	redisDataField = "data"
	redisRevField  = "rev"
)

// redisBlobStore keeps each object in a hash holding the payload and a
// counter revision. Writes run inside WATCH/MULTI so a concurrent writer
// aborts the transaction.
type redisBlobStore struct {
	client *redis.Client
	prefix string
}

func NewRedisBlobStore(client *redis.Client, prefix string) BlobStore {
	return &redisBlobStore{
		client: client,
		prefix: prefix,
	}
}

func (r *redisBlobStore) Get(ctx context.Context, key string) ([]byte, Revision, error) {
	fields, err := r.client.HGetAll(ctx, r.prefix+key).Result()
	if err != nil {
		return nil, NoRevision, fmt.Errorf("failed to get blob %s: %w", key, err)
	}

	data, ok := fields[redisDataField]
	if !ok {
		return nil, NoRevision, ErrNotFound
	}

	return []byte(data), Revision(fields[redisRevField]), nil
}

func (r *redisBlobStore) Put(ctx context.Context, key string, data []byte, expected Revision) (Revision, error) {
	redisKey := r.prefix + key
	var next Revision

	txf := func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, redisKey, redisRevField).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if Revision(current) != expected {
			return ErrConditionFailed
		}

		n, _ := strconv.ParseUint(current, 10, 64)
		next = Revision(strconv.FormatUint(n+1, 10))

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, redisKey, redisDataField, data, redisRevField, string(next))
			return nil
		})
		return err
	}

	err := r.client.Watch(ctx, txf, redisKey)
	switch {
	case err == nil:
		return next, nil
	case errors.Is(err, ErrConditionFailed), errors.Is(err, redis.TxFailedErr):
		return NoRevision, ErrConditionFailed
	default:
		return NoRevision, fmt.Errorf("failed to put blob %s: %w", key, err)
	}
}
