package notify

import "sync"

const dedupCapacity = 1000

// Deduplicator drops repeated webhook deliveries cheaply. It is a
// process-local fast path only; the unique constraint on stored messages
// is what actually makes redelivery safe.
type Deduplicator interface {
	// Seen records the key as a side effect and reports whether it was
	// already recorded.
	Seen(userEmail, historyCursor string) bool
}

type memoryDeduplicator struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func NewMemoryDeduplicator() Deduplicator {
	return &memoryDeduplicator{
		keys: make(map[string]struct{}, dedupCapacity),
	}
}

func (d *memoryDeduplicator) Seen(userEmail, historyCursor string) bool {
	key := userEmail + "|" + historyCursor

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.keys[key]; ok {
		return true
	}
	// Bulk clear when full. Not LRU: a burst can evict a recently seen key,
	// which only costs a redundant (idempotent) pipeline run.
	if len(d.keys) >= dedupCapacity {
		d.keys = make(map[string]struct{}, dedupCapacity)
	}
	d.keys[key] = struct{}{}
	return false
}
