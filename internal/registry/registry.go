// Package registry holds the in-memory template lifecycle records.
//
// The registry is the single source of truth for which templates are
// currently active. It is volatile on purpose: its lifetime equals the
// process lifetime and nothing is rebuilt across restarts. Cross-step
// atomicity (read-modify-write around subprocess runs) is the lifecycle
// coordinator's job; the registry only guards its own map.
package registry

import (
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Status is a template record lifecycle status.
type Status string

const (
	StatusInitialized   Status = "initialized"
	StatusApplied       Status = "applied"
	StatusApplyFailed   Status = "apply_failed"
	StatusDestroyFailed Status = "destroy_failed"
)

// Record tracks one active template. BucketID and WorkspacePath are fixed at
// creation; only Status and LastError change over the record's lifetime. A
// re-init replaces the whole record and regenerates both identity fields.
type Record struct {
	Name          string    `json:"name"`
	BucketID      string    `json:"bucket_id"`
	WorkspacePath string    `json:"workspace_path"`
	Status        Status    `json:"status"`
	LastError     string    `json:"last_error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// NewRecord builds a fresh initialized record for name. The creation epoch
// (millisecond precision) is embedded in both the bucket identifier and the
// workspace path so repeated inits of the same name never collide.
func NewRecord(name, bucketPrefix, workspaceRoot string, createdAt time.Time) Record {
	epochMillis := createdAt.UnixMilli()
	return Record{
		Name:          name,
		BucketID:      fmt.Sprintf("%s-%s-%d", bucketPrefix, name, epochMillis),
		WorkspacePath: filepath.Join(workspaceRoot, fmt.Sprintf("%s-%d", name, epochMillis)),
		Status:        StatusInitialized,
		CreatedAt:     createdAt,
	}
}

// Store is the narrow record-store contract the coordinator depends on.
type Store interface {
	Get(name string) (Record, bool)
	Set(name string, rec Record)
	Delete(name string)
	List() []Record
	Clear()
}

// Registry is the in-memory Store implementation.
//
// The RWMutex exists for Go memory safety only (status listing races
// mutations otherwise); it is not a substitute for the coordinator's
// per-name serialization.
type Registry struct {
	mu      sync.RWMutex
	records map[string]Record
}

var _ Store = (*Registry)(nil)

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		records: make(map[string]Record),
	}
}

// Get returns the record for name, if present.
func (r *Registry) Get(name string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[name]
	return rec, ok
}

// Set stores rec under name, replacing any prior record.
func (r *Registry) Set(name string, rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[name] = rec
}

// Delete removes the record for name. Missing names are a no-op.
func (r *Registry) Delete(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, name)
}

// List returns all records sorted by name.
func (r *Registry) List() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Clear removes every record unconditionally.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = make(map[string]Record)
}

// Len reports the number of active records.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}
