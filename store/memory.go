package store

import "sync"

// MemoryKV is a map-backed key/value collaborator for running the wizard
// without a database file and for tests.
type MemoryKV struct {
	mu sync.Mutex
	m  map[string]string
}

// NewMemoryKV creates an empty in-memory store.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{m: make(map[string]string)}
}

// Get implements core.KV. Absence is reported through the bool.
func (kv *MemoryKV) Get(key string) (string, bool, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	v, ok := kv.m[key]
	return v, ok, nil
}

// Set implements core.KV.
func (kv *MemoryKV) Set(key, value string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	kv.m[key] = value
	return nil
}
