package utils

import "sync"

// KeyedMutex hands out one mutex per key so unrelated entities never contend.
type KeyedMutex struct {
	locks sync.Map
}

// Lock acquires the mutex for key and returns its unlock func.
func (k *KeyedMutex) Lock(key string) func() {
	value, _ := k.locks.LoadOrStore(key, &sync.Mutex{})
	mu := value.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Forget drops the mutex for key. Call only once the entity is gone.
func (k *KeyedMutex) Forget(key string) {
	k.locks.Delete(key)
}
