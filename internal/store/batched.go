package store

import (
	"sync"
	"time"
)

// Batch buffers cache writes made during a resolution run so they can be
// committed in a single transaction when the run finishes. Lookup workers
// write to it concurrently; the mutex protects the buffers.
type Batch struct {
	mu           sync.Mutex
	lookups      map[string]Entry
	dependencies map[string]Entry
	now          func() time.Time
}

// NewBatch returns an empty batch.
func NewBatch() *Batch {
	return &Batch{
		lookups:      make(map[string]Entry),
		dependencies: make(map[string]Entry),
		now:          time.Now,
	}
}

// PutLookup buffers a FindBest entry. A later write for the same signature
// replaces the earlier one.
func (b *Batch) PutLookup(signature, name string, payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lookups[signature] = Entry{Key: signature, Name: name, Payload: payload, CreatedAt: b.now().UTC()}
}

// PutDependencies buffers a dependency entry for a candidate key.
func (b *Batch) PutDependencies(candidateKey, name string, payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dependencies[candidateKey] = Entry{Key: candidateKey, Name: name, Payload: payload, CreatedAt: b.now().UTC()}
}

// Len returns the number of buffered entries.
func (b *Batch) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lookups) + len(b.dependencies)
}

// drain returns the buffered entries and empties the batch.
func (b *Batch) drain() (lookups, dependencies []Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.lookups {
		lookups = append(lookups, e)
	}
	for _, e := range b.dependencies {
		dependencies = append(dependencies, e)
	}
	b.lookups = make(map[string]Entry)
	b.dependencies = make(map[string]Entry)
	return lookups, dependencies
}
