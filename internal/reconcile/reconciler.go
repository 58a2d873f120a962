// Package reconcile discovers and removes temporary cloud storage buckets by
// naming convention, so orphaned resources do not accumulate across template
// lifecycles.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mattjoyce/terraflow/internal/log"
	"github.com/mattjoyce/terraflow/internal/objstore"
)

// SweepFailure records one bucket a sweep could not delete.
type SweepFailure struct {
	Bucket string `json:"bucket"`
	Error  string `json:"error"`
}

// SweepReport is the explicit outcome of a sweep: which buckets were
// deleted and which failed. Partial failure is a normal result, not an
// error.
type SweepReport struct {
	Succeeded []string       `json:"succeeded"`
	Failed    []SweepFailure `json:"failed"`
}

// Reconciler deletes temporary buckets through the object-storage client.
// Only buckets carrying the configured temporary-resource prefix are ever
// touched.
type Reconciler struct {
	client objstore.Client
	prefix string
	logger *slog.Logger
}

// New creates a Reconciler guarding on prefix.
func New(client objstore.Client, prefix string) *Reconciler {
	return &Reconciler{
		client: client,
		prefix: prefix,
		logger: log.WithComponent("reconcile"),
	}
}

// DeleteBucket deletes every object in bucketID sequentially and then the
// bucket itself. It refuses identifiers outside the temporary-resource
// prefix without issuing a single storage call. An absent bucket is
// success.
func (r *Reconciler) DeleteBucket(ctx context.Context, bucketID string) error {
	if !r.isTemporary(bucketID) {
		return fmt.Errorf("bucket %q does not match temporary prefix %q, refusing to delete", bucketID, r.prefix)
	}

	keys, err := r.client.ListObjects(ctx, bucketID)
	if errors.Is(err, objstore.ErrBucketNotFound) {
		r.logger.Info("bucket already absent", "bucket", bucketID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("list objects in %q: %w", bucketID, err)
	}

	for _, key := range keys {
		if err := r.client.DeleteObject(ctx, bucketID, key); err != nil {
			return fmt.Errorf("delete object %s/%s: %w", bucketID, key, err)
		}
		r.logger.Info("deleted object", "bucket", bucketID, "key", key)
	}

	if err := r.client.DeleteBucket(ctx, bucketID); err != nil {
		if errors.Is(err, objstore.ErrBucketNotFound) {
			return nil
		}
		return fmt.Errorf("delete bucket %q: %w", bucketID, err)
	}

	r.logger.Info("deleted bucket", "bucket", bucketID, "objects", len(keys))
	return nil
}

// SweepTemporaryBuckets lists every visible bucket, filters to the
// temporary prefix, and deletes each sequentially. One bucket's failure is
// recorded and the sweep moves on; only the top-level listing failure
// aborts.
func (r *Reconciler) SweepTemporaryBuckets(ctx context.Context) (SweepReport, error) {
	report := SweepReport{
		Succeeded: []string{},
		Failed:    []SweepFailure{},
	}

	buckets, err := r.client.ListBuckets(ctx)
	if err != nil {
		return report, fmt.Errorf("list buckets: %w", err)
	}

	for _, bucket := range buckets {
		if !r.isTemporary(bucket) {
			continue
		}
		if err := r.DeleteBucket(ctx, bucket); err != nil {
			r.logger.Warn("sweep: failed to delete bucket, continuing", "bucket", bucket, "error", err)
			report.Failed = append(report.Failed, SweepFailure{Bucket: bucket, Error: err.Error()})
			continue
		}
		report.Succeeded = append(report.Succeeded, bucket)
	}

	r.logger.Info("sweep complete", "succeeded", len(report.Succeeded), "failed", len(report.Failed))
	return report, nil
}

func (r *Reconciler) isTemporary(bucket string) bool {
	return r.prefix != "" && strings.HasPrefix(bucket, r.prefix+"-")
}
