package ordering

import "sync"

// keyLock serializes work per order id. Entries are dropped when unused.
type keyLock struct {
	mu    sync.Mutex
	locks map[string]*keyEntry
}

type keyEntry struct {
	mu   sync.RWMutex
	refs int
}

func newKeyLock() *keyLock {
	return &keyLock{locks: map[string]*keyEntry{}}
}

func (k *keyLock) ref(key string) *keyEntry {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()
	return e
}

func (k *keyLock) unref(key string, e *keyEntry) {
	k.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()
}

func (k *keyLock) Lock(key string) (unlock func()) {
	e := k.ref(key)
	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.unref(key, e)
	}
}

func (k *keyLock) RLock(key string) (unlock func()) {
	e := k.ref(key)
	e.mu.RLock()
	return func() {
		e.mu.RUnlock()
		k.unref(key, e)
	}
}
