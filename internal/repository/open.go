package repository

import (
	"context"
	"fmt"
	"log"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-kivik/kivik/v4"
	_ "github.com/go-kivik/kivik/v4/couchdb"
	"github.com/redis/go-redis/v9"
)

const (
	BackendCouchDB = "couchdb"
	BackendRedis   = "redis"
	BackendS3      = "s3"
	BackendMemory  = "memory"
)

// StoreOptions selects and addresses a BlobStore backend.
type StoreOptions struct {
	Backend string

	CouchURL string
	CouchDB  string

	RedisURL    string
	RedisDB     int
	RedisPrefix string

	S3Bucket   string
	S3Region   string
	S3Endpoint string
}

// OpenBlobStore connects to the configured backend. The returned close
// function releases its client.
func OpenBlobStore(ctx context.Context, opts StoreOptions) (BlobStore, func() error, error) {
	noop := func() error { return nil }

	switch opts.Backend {
	case BackendMemory:
		return NewMemoryBlobStore(), noop, nil

	case BackendCouchDB:
		client, err := kivik.New("couch", opts.CouchURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to CouchDB: %w", err)
		}

		exists, err := client.DBExists(ctx, opts.CouchDB)
		if err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("failed to check database existence: %w", err)
		}
		if !exists {
			if err := client.CreateDB(ctx, opts.CouchDB); err != nil {
				client.Close()
				return nil, nil, fmt.Errorf("failed to create database: %w", err)
			}
			log.Printf("Created database: %s", opts.CouchDB)
		}

		return NewCouchBlobStore(client, opts.CouchDB), client.Close, nil

	case BackendRedis:
		redisOpts, err := redis.ParseURL(opts.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid redis URL: %w", err)
		}
		if opts.RedisDB != 0 {
			redisOpts.DB = opts.RedisDB
		}

		client := redis.NewClient(redisOpts)
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("failed to reach redis: %w", err)
		}

		return NewRedisBlobStore(client, opts.RedisPrefix), client.Close, nil

	case BackendS3:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(opts.S3Region))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load AWS config: %w", err)
		}

		client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if opts.S3Endpoint != "" {
				o.BaseEndpoint = aws.String(opts.S3Endpoint)
				o.UsePathStyle = true
			}
		})

		return NewS3BlobStore(client, opts.S3Bucket), noop, nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
}
