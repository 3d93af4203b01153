package common

import "sync"

// KeyedMutex hands out one mutex per key, released when no holder remains.
type KeyedMutex struct {
	locks map[string]*keyedEntry
	mu    sync.Mutex
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

// NewKeyedMutex creates an empty KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedEntry)}
}

// Lock blocks until key is held and returns the unlock func.
func (k *KeyedMutex) Lock(key string) func() {
	e := k.acquire(key)
	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.release(key)
	}
}

// TryLock takes key if it is free. ok is false when another holder has it.
func (k *KeyedMutex) TryLock(key string) (unlock func(), ok bool) {
	e := k.acquire(key)
	if !e.mu.TryLock() {
		k.release(key)
		return nil, false
	}
	return func() {
		e.mu.Unlock()
		k.release(key)
	}, true
}

func (k *KeyedMutex) acquire(key string) *keyedEntry {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	return e
}

func (k *KeyedMutex) release(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e := k.locks[key]
	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
}

// TaxonomyGuard serializes category tree mutations against code that resolves category ids.
type TaxonomyGuard struct {
	mu sync.RWMutex
}

// Read takes the shared side and returns its release func.
func (g *TaxonomyGuard) Read() func() {
	g.mu.RLock()
	return g.mu.RUnlock
}

// Write takes the exclusive side and returns its release func.
func (g *TaxonomyGuard) Write() func() {
	g.mu.Lock()
	return g.mu.Unlock
}
