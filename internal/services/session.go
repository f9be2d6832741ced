package services

import "sync"

// KeyedMutex serializes work per key (a WhatsApp user ID).
//
// Waiters on the same key are let in in the order their Lock calls took the
// table lock, and a key's entry is dropped as soon as nobody holds or waits
// for it, so idle users cost nothing.
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[string]*keyedEntry
}

type keyedEntry struct {
	held bool
	// waiters are woken one at a time, oldest first. Closing a waiter's
	// channel hands it the lock directly.
	waiters []chan struct{}
}

// NewKeyedMutex returns an empty lock table.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{entries: make(map[string]*keyedEntry)}
}

// Lock blocks until the caller holds key.
func (k *KeyedMutex) Lock(key string) {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &keyedEntry{}
		k.entries[key] = e
	}
	if !e.held {
		e.held = true
		k.mu.Unlock()
		return
	}
	ticket := make(chan struct{})
	e.waiters = append(e.waiters, ticket)
	k.mu.Unlock()

	<-ticket
}

// Unlock releases key. Unlocking a key that is not held panics.
func (k *KeyedMutex) Unlock(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	e, ok := k.entries[key]
	if !ok || !e.held {
		panic("services: unlock of unlocked key " + key)
	}
	if len(e.waiters) == 0 {
		delete(k.entries, key)
		return
	}
	next := e.waiters[0]
	e.waiters[0] = nil
	e.waiters = e.waiters[1:]
	close(next)
}

// WithLock runs fn while holding key.
func (k *KeyedMutex) WithLock(key string, fn func() error) error {
	k.Lock(key)
	defer k.Unlock(key)
	return fn()
}

// Len reports how many keys are held or waited on.
func (k *KeyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}
