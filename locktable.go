package zarr

import "sync"

// lockTable hands out one RWMutex per chunk key. Entries are reference
// counted: an entry exists only while at least one goroutine holds or waits
// on it, so the table stays as small as the set of chunks in flight.
type lockTable struct {
	lk      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.RWMutex
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{entries: map[string]*lockEntry{}}
}

func (t *lockTable) acquire(key string) *lockEntry {
	t.lk.Lock()
	defer t.lk.Unlock()
	e, ok := t.entries[key]
	if !ok {
		e = &lockEntry{}
		t.entries[key] = e
	}
	e.refs++
	return e
}

func (t *lockTable) release(key string, e *lockEntry) {
	t.lk.Lock()
	defer t.lk.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(t.entries, key)
	}
}

// Lock takes the exclusive lock on key and returns its release func
func (t *lockTable) Lock(key string) (unlock func()) {
	e := t.acquire(key)
	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		t.release(key, e)
	}
}

// RLock takes the shared lock on key and returns its release func
func (t *lockTable) RLock(key string) (unlock func()) {
	e := t.acquire(key)
	e.mu.RLock()
	return func() {
		e.mu.RUnlock()
		t.release(key, e)
	}
}

// Len is the number of keys currently locked or waited on
func (t *lockTable) Len() int {
	t.lk.Lock()
	defer t.lk.Unlock()
	return len(t.entries)
}
