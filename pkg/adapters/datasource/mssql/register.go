//go:build mssql || all_adapters

package mssql

import (
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-tables/pkg/adapters/datasource"
)

func init() {
	datasource.Register(datasource.StorageAdapterRegistration{
		Info: datasource.StorageAdapterInfo{
			Type:        "mssql",
			DisplayName: "SQL Server",
			Description: "Microsoft SQL Server 2016+ and Azure SQL Database",
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
