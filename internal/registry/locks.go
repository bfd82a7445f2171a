package registry

import "sync"

// KeyedMutex provides mutual exclusion per key, unrelated keys never contend.
//
// Entries are reference counted and removed once no holder or waiter remains.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: map[string]*keyLock{}}
}

// Lock blocks until the key is held by the caller, the returned func releases it.
func (k *KeyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()

	l, exists := k.locks[key]
	if !exists {
		l = &keyLock{}
		k.locks[key] = l
	}

	l.refs++
	k.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		k.mu.Lock()
		defer k.mu.Unlock()

		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
	}
}

// Len returns the count of keys currently held or waited on.
func (k *KeyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()

	return len(k.locks)
}
