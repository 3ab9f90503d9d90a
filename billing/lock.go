package billing

import "sync"

// =============================================================================
// KEYED MUTEX - Per-entity serialization
// =============================================================================

// KeyedMutex serializes mutations per entity key ("service:42", "entry:7").
// Two concurrent regenerations of the same service, or two concurrent payment
// registrations on the same entry, take turns; operations on different
// entities do not contend. Reads never lock.
//
// Entries are reference-counted and removed when the last holder releases,
// so the map does not grow with the number of entities ever touched.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedLock)}
}

// Lock acquires the mutex for key and returns the matching unlock func.
//
//	unlock := locks.Lock("service:" + id)
//	defer unlock()
func (k *KeyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
