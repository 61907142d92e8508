package hosting

import "sync"

// The Terraform test framework builds a fresh provider for every step, so
// memory hosts are kept here by name to survive across steps.
var (
	memoryRegistryMu sync.Mutex
	memoryRegistry   = make(map[string]*MemoryHost)
)

// SharedMemoryHost returns the MemoryHost registered under name, creating
// it on first use.
func SharedMemoryHost(name string) *MemoryHost {
	memoryRegistryMu.Lock()
	defer memoryRegistryMu.Unlock()

	if h, ok := memoryRegistry[name]; ok {
		return h
	}
	h := NewMemoryHost()
	memoryRegistry[name] = h
	return h
}

// ResetSharedMemoryHosts drops every registered MemoryHost.
func ResetSharedMemoryHosts() {
	memoryRegistryMu.Lock()
	defer memoryRegistryMu.Unlock()
	memoryRegistry = make(map[string]*MemoryHost)
}
