// Package orchestrator provides session-scoped request serialization for
// the C13 orchestrator.
package orchestrator

import "sync"

// KeyedMutex hands out a *sync.Mutex per key, created lazily on first use.
// Two requests for the same key serialize; different keys never contend.
// Grounded on the teacher's sync.Map-based per-user rate window.
type KeyedMutex struct {
	locks sync.Map // key string -> *sync.Mutex
}

// Lock acquires the mutex for key, creating it if necessary.
func (k *KeyedMutex) Lock(key string) {
	actual, _ := k.locks.LoadOrStore(key, &sync.Mutex{})
	actual.(*sync.Mutex).Lock()
}

// Unlock releases the mutex for key. The mutex must already exist (i.e.
// Lock must have been called first) — Unlock on an unlocked or unknown key
// panics, matching sync.Mutex semantics.
func (k *KeyedMutex) Unlock(key string) {
	actual, ok := k.locks.Load(key)
	if !ok {
		panic("orchestrator: Unlock of unlocked key " + key)
	}
	actual.(*sync.Mutex).Unlock()
}
