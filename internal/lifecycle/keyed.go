package lifecycle

import "sync"

// keyedMutex serializes operations per template name. Locks are created on
// first use and never evicted; the key space is bounded by the number of
// distinct template names the process ever sees. A global exclusion lock
// lets the cleanup path block out every per-name operation at once.
type keyedMutex struct {
	global sync.RWMutex
	mu     sync.Mutex
	locks  map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*sync.Mutex)}
}

// lock acquires the mutex for key and returns its unlock func. Callers
// also hold the global lock shared, so lockAll cannot proceed while any
// per-name operation is in flight.
func (k *keyedMutex) lock(key string) func() {
	k.global.RLock()

	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.global.RUnlock()
	}
}

// lockAll acquires the global lock exclusively, waiting out every in-flight
// per-name operation and holding off new ones until the returned unlock
// func runs.
func (k *keyedMutex) lockAll() func() {
	k.global.Lock()
	return k.global.Unlock
}
