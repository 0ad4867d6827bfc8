package datasource

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// StorageAdapterInfo describes a registered storage engine.
type StorageAdapterInfo struct {
	Type        string `json:"type"`         // "sqlite", "postgres", "mssql"
	DisplayName string `json:"display_name"` // "SQLite", "PostgreSQL"
	Description string `json:"description"`
}

// StorageAdapterRegistration contains info + the factory for one engine.
type StorageAdapterRegistration struct {
	Info    StorageAdapterInfo
	Factory func(config map[string]any, logger *zap.Logger) (StorageAdapter, error)
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]StorageAdapterRegistration)
)

// Register is called by each adapter's init() function.
// Thread-safe for concurrent init() calls.
func Register(reg StorageAdapterRegistration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[reg.Info.Type] = reg
}

// RegisteredAdapters returns info for all registered engines, ordered by type.
func RegisteredAdapters() []StorageAdapterInfo {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]StorageAdapterInfo, 0, len(registry))
	for _, reg := range registry {
		result = append(result, reg.Info)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Type < result[j].Type })
	return result
}

// GetFactory returns the factory for an engine type.
// Returns nil if type is not registered.
func GetFactory(adapterType string) func(config map[string]any, logger *zap.Logger) (StorageAdapter, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	if reg, ok := registry[adapterType]; ok {
		return reg.Factory
	}
	return nil
}

// IsRegistered checks if an engine type is available.
func IsRegistered(adapterType string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[adapterType]
	return ok
}
