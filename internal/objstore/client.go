// Package objstore defines the narrow cloud object-storage contract the
// service depends on: bucket listing, object listing, object deletion, and
// bucket deletion. Everything else about the provider stays outside.
package objstore

import (
	"context"
	"errors"
)

// ErrBucketNotFound reports a bucket that does not exist or is already gone.
// Reconciliation treats it as success.
var ErrBucketNotFound = errors.New("bucket not found")

// Client is the provider contract.
type Client interface {
	// ListBuckets returns the names of all buckets visible to the
	// configured credentials.
	ListBuckets(ctx context.Context) ([]string, error)

	// ListObjects returns all object keys in bucket. An empty or absent
	// bucket yields an empty slice.
	ListObjects(ctx context.Context, bucket string) ([]string, error)

	// DeleteObject removes one object.
	DeleteObject(ctx context.Context, bucket, key string) error

	// DeleteBucket removes an empty bucket.
	DeleteBucket(ctx context.Context, bucket string) error
}
