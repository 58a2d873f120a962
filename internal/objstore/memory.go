package objstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Memory is an in-memory Client used by tests and local development. It
// counts calls per method so tests can assert that guarded paths issue zero
// delete calls.
type Memory struct {
	mu      sync.Mutex
	buckets map[string]map[string][]byte

	// Calls counts invocations by method name.
	Calls map[string]int

	// FailDeleteBucket lists bucket names whose deletion should fail.
	FailDeleteBucket map[string]bool

	// ListBucketsErr, when set, is returned by ListBuckets.
	ListBucketsErr error
}

var _ Client = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		buckets:          make(map[string]map[string][]byte),
		Calls:            make(map[string]int),
		FailDeleteBucket: make(map[string]bool),
	}
}

// CreateBucket seeds a bucket. Test setup helper, not part of Client.
func (m *Memory) CreateBucket(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.buckets[name]; !ok {
		m.buckets[name] = make(map[string][]byte)
	}
}

// PutObject seeds an object. Test setup helper, not part of Client.
func (m *Memory) PutObject(bucket, key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.buckets[bucket]; !ok {
		m.buckets[bucket] = make(map[string][]byte)
	}
	m.buckets[bucket][key] = data
}

// HasBucket reports whether bucket exists.
func (m *Memory) HasBucket(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.buckets[name]
	return ok
}

func (m *Memory) ListBuckets(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["ListBuckets"]++

	if m.ListBucketsErr != nil {
		return nil, m.ListBucketsErr
	}

	names := make([]string, 0, len(m.buckets))
	for name := range m.buckets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *Memory) ListObjects(ctx context.Context, bucket string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["ListObjects"]++

	objects, ok := m.buckets[bucket]
	if !ok {
		return nil, ErrBucketNotFound
	}

	keys := make([]string, 0, len(objects))
	for key := range objects {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *Memory) DeleteObject(ctx context.Context, bucket, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["DeleteObject"]++

	objects, ok := m.buckets[bucket]
	if !ok {
		return ErrBucketNotFound
	}
	delete(objects, key)
	return nil
}

func (m *Memory) DeleteBucket(ctx context.Context, bucket string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["DeleteBucket"]++

	if m.FailDeleteBucket[bucket] {
		return fmt.Errorf("delete bucket %q: access denied", bucket)
	}

	objects, ok := m.buckets[bucket]
	if !ok {
		return ErrBucketNotFound
	}
	if len(objects) > 0 {
		return fmt.Errorf("delete bucket %q: bucket not empty", bucket)
	}
	delete(m.buckets, bucket)
	return nil
}
