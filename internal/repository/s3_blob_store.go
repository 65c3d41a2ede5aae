package repository

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3API is the part of the S3 client the store needs.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// s3BlobStore uses object ETags as revisions and conditional PutObject
// (If-Match, or If-None-Match: * for creation).
type s3BlobStore struct {
	api    S3API
	bucket string
}

func NewS3BlobStore(api S3API, bucket string) BlobStore {
	return &s3BlobStore{
		api:    api,
		bucket: bucket,
	}
}

func (r *s3BlobStore) Get(ctx context.Context, key string) ([]byte, Revision, error) {
	out, err := r.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) || s3ErrorCode(err) == "NoSuchKey" {
			return nil, NoRevision, ErrNotFound
		}
		return nil, NoRevision, fmt.Errorf("failed to get object %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, NoRevision, fmt.Errorf("failed to read object %s: %w", key, err)
	}

	return data, Revision(aws.ToString(out.ETag)), nil
}

func (r *s3BlobStore) Put(ctx context.Context, key string, data []byte, expected Revision) (Revision, error) {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(r.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	}
	if expected == NoRevision {
		input.IfNoneMatch = aws.String("*")
	} else {
		input.IfMatch = aws.String(string(expected))
	}

	out, err := r.api.PutObject(ctx, input)
	if err != nil {
		switch s3ErrorCode(err) {
		case "PreconditionFailed", "ConditionalRequestConflict":
			return NoRevision, ErrConditionFailed
		}
		return NoRevision, fmt.Errorf("failed to put object %s: %w", key, err)
	}

	return Revision(aws.ToString(out.ETag)), nil
}

func s3ErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}
