package objstore

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
)

type memoryObject struct {
	data    []byte
	opts    PutOptions
	version int64
}

// MemoryStore keeps objects in a map. Versions are a store-wide counter,
// so every write produces a fresh version.
type MemoryStore struct {
	name string

	mu      sync.RWMutex
	objects map[string]*memoryObject
	counter int64
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore(name string) *MemoryStore {
	return &MemoryStore{name: name, objects: make(map[string]*memoryObject)}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Name() string { return m.name }

// putLocked stores a copy of data. m.mu must be held for writing.
func (m *MemoryStore) putLocked(key string, data []byte, opts PutOptions) {
	m.counter++
	buf := make([]byte, len(data))
	copy(buf, data)
	m.objects[key] = &memoryObject{data: buf, opts: opts, version: m.counter}
}

func (o *memoryObject) meta() Meta {
	return Meta{
		Version:     strconv.FormatInt(o.version, 10),
		Size:        int64(len(o.data)),
		ContentType: o.opts.ContentType,
	}
}

func (m *MemoryStore) Put(_ context.Context, key string, data []byte, opts PutOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putLocked(key, data, opts)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, Meta, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[key]
	if !ok {
		return nil, Meta{}, ErrNotFound
	}
	buf := make([]byte, len(obj.data))
	copy(buf, obj.data)
	return buf, obj.meta(), nil
}

func (m *MemoryStore) Stat(_ context.Context, key string) (Meta, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[key]
	if !ok {
		return Meta{}, ErrNotFound
	}
	return obj.meta(), nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *MemoryStore) List(_ context.Context, prefix string) ([]ObjectInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ObjectInfo
	for k, obj := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, ObjectInfo{Key: k, Size: int64(len(obj.data)), Version: obj.meta().Version})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *MemoryStore) PutIfAbsent(_ context.Context, key string, data []byte, opts PutOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.objects[key]; exists {
		return ErrPreconditionFailed
	}
	m.putLocked(key, data, opts)
	return nil
}

func (m *MemoryStore) PutIfMatch(_ context.Context, key string, data []byte, version string, opts PutOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	obj, exists := m.objects[key]
	if !exists || obj.meta().Version != version {
		return ErrPreconditionFailed
	}
	m.putLocked(key, data, opts)
	return nil
}

// Attributes returns the options key was last written with.
func (m *MemoryStore) Attributes(key string) (PutOptions, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return PutOptions{}, false
	}
	return obj.opts, true
}

// Keys returns every key in the store, sorted.
func (m *MemoryStore) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
