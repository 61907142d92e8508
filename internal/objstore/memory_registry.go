package objstore

import "sync"

// Memory stores outlive provider re-initialization between Terraform test
// steps by living here, keyed by bucket name.
var (
	memoryRegistryMu sync.Mutex
	memoryRegistry   = make(map[string]*MemoryStore)
)

// SharedMemoryStore returns the MemoryStore registered under name,
// creating it on first use.
func SharedMemoryStore(name string) *MemoryStore {
	memoryRegistryMu.Lock()
	defer memoryRegistryMu.Unlock()

	if s, ok := memoryRegistry[name]; ok {
		return s
	}
	s := NewMemoryStore(name)
	memoryRegistry[name] = s
	return s
}

// ResetSharedMemoryStores drops every registered MemoryStore.
func ResetSharedMemoryStores() {
	memoryRegistryMu.Lock()
	defer memoryRegistryMu.Unlock()
	memoryRegistry = make(map[string]*MemoryStore)
}
