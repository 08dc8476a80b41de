// Package memory is an in-process blob.Backend for DEV_MODE and tests.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/jun/gophvault/internal/blob"
)

// Store holds every bucket. It is shared by all Backends from one Provider.
type Store struct {
	mu      sync.RWMutex
	buckets map[string]map[string][]byte
}

func NewStore() *Store {
	return &Store{buckets: make(map[string]map[string][]byte)}
}

// Backend implements blob.Backend over one bucket of a Store.
type Backend struct {
	store    *Store
	bucketID string
}

// NewBackend returns a Backend for bucketID. An empty id is assigned by
// Initialize.
func NewBackend(store *Store, bucketID string) *Backend {
	return &Backend{store: store, bucketID: bucketID}
}

func (b *Backend) Initialize(_ context.Context) (string, error) {
	b.store.mu.Lock()
	defer b.store.mu.Unlock()

	if b.bucketID == "" {
		b.bucketID = uuid.NewString()
	}
	if _, ok := b.store.buckets[b.bucketID]; !ok {
		b.store.buckets[b.bucketID] = make(map[string][]byte)
	}
	return b.bucketID, nil
}

func (b *Backend) PutBlob(ctx context.Context, data []byte, onProgress blob.ProgressFunc) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := uuid.NewString()
	stored := make([]byte, len(data))
	copy(stored, data)

	b.store.mu.Lock()
	bucket, ok := b.store.buckets[b.bucketID]
	if !ok {
		bucket = make(map[string][]byte)
		b.store.buckets[b.bucketID] = bucket
	}
	bucket[id] = stored
	b.store.mu.Unlock()

	reportHalves(onProgress, int64(len(data)))
	return id, nil
}

func (b *Backend) GetBlob(ctx context.Context, id string, onProgress blob.ProgressFunc) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.store.mu.RLock()
	data, ok := b.store.buckets[b.bucketID][id]
	b.store.mu.RUnlock()
	if !ok {
		return nil, blob.ErrNotFound
	}

	out := make([]byte, len(data))
	copy(out, data)
	reportHalves(onProgress, int64(len(out)))
	return out, nil
}

func (b *Backend) DeleteBlob(_ context.Context, id string) error {
	b.store.mu.Lock()
	defer b.store.mu.Unlock()

	bucket := b.store.buckets[b.bucketID]
	if _, ok := bucket[id]; !ok {
		return blob.ErrNotFound
	}
	delete(bucket, id)
	return nil
}

// Count reports the number of blobs in the bucket.
func (b *Backend) Count() int {
	b.store.mu.RLock()
	defer b.store.mu.RUnlock()
	return len(b.store.buckets[b.bucketID])
}

func reportHalves(fn blob.ProgressFunc, size int64) {
	if size > 1 {
		fn.Report(size / 2)
	}
	fn.Report(size)
}

// Provider implements blob.Provider.
type Provider struct {
	store *Store
}

func NewProvider(store *Store) *Provider {
	return &Provider{store: store}
}

func (p *Provider) Backend(_ context.Context, _ string, bucketID string) (blob.Backend, error) {
	return NewBackend(p.store, bucketID), nil
}
