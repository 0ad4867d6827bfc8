package datasource

import (
	"fmt"

	"go.uber.org/zap"
)

// StorageAdapterFactory creates adapters from the registry.
type StorageAdapterFactory interface {
	// NewStorageAdapter creates an unconnected adapter for the given engine type.
	NewStorageAdapter(adapterType string, config map[string]any) (StorageAdapter, error)

	// ListTypes returns info for all registered engine types.
	ListTypes() []StorageAdapterInfo
}

type registryFactory struct {
	logger *zap.Logger
}

// NewStorageAdapterFactory returns a factory that uses the global registry.
func NewStorageAdapterFactory(logger *zap.Logger) StorageAdapterFactory {
	return &registryFactory{logger: logger}
}

func (f *registryFactory) NewStorageAdapter(adapterType string, config map[string]any) (StorageAdapter, error) {
	factory := GetFactory(adapterType)
	if factory == nil {
		return nil, fmt.Errorf("unsupported storage type: %s (not compiled in)", adapterType)
	}
	return factory(config, f.logger.Named("storage").With(zap.String("engine", adapterType)))
}

func (f *registryFactory) ListTypes() []StorageAdapterInfo {
	return RegisteredAdapters()
}

// Ensure registryFactory implements StorageAdapterFactory at compile time.
var _ StorageAdapterFactory = (*registryFactory)(nil)
