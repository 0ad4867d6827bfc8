package sqlite

import (
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-tables/pkg/adapters/datasource"
)

func init() {
	datasource.Register(datasource.StorageAdapterRegistration{
		Info: datasource.StorageAdapterInfo{
			Type:        "sqlite",
			DisplayName: "SQLite",
			Description: "Embedded single-file storage (" + driverType + " driver)",
		},
		Factory: func(config map[string]any, logger *zap.Logger) (datasource.StorageAdapter, error) {
			cfg, err := FromMap(config)
			if err != nil {
				return nil, err
			}
			return NewAdapter(cfg, logger), nil
		},
	})
}
