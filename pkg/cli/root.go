package cli

import (
	"context"

	"github.com/spf13/cobra"

	// Engines register themselves with the adapter registry. postgres and
	// mssql only register when built with their tag (or all_adapters).
	_ "github.com/ekaya-inc/ekaya-tables/pkg/adapters/datasource/mssql"
	_ "github.com/ekaya-inc/ekaya-tables/pkg/adapters/datasource/postgres"
	_ "github.com/ekaya-inc/ekaya-tables/pkg/adapters/datasource/sqlite"
)

type rootOptions struct {
	configPath string
	format     string
}

// NewRootCommand builds the ekaya-tables command tree.
func NewRootCommand(version string) *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "ekaya-tables",
		Short: "Manage runtime-defined relational tables",
		Long: `ekaya-tables manages user-defined tables on SQLite, PostgreSQL or SQL Server.

Table definitions live in a catalog stored next to the tables themselves. Every
schema change updates the physical table and the catalog in one transaction.

Examples:
  ekaya-tables tables
  ekaya-tables apply tables.yaml
  ekaya-tables add-column orders status --type text --default new
  ekaya-tables remove-constraint orders total required
  ekaya-tables serve`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to config file (default config.yaml when present, else environment only)")
	root.PersistentFlags().StringVarP(&opts.format, "format", "o", formatAuto, "output format: auto, table, json")

	root.AddCommand(
		newServeCommand(opts, version),
		newTablesCommand(opts, version),
		newTableCommand(opts, version),
		newApplyCommand(opts, version),
		newDropTableCommand(opts, version),
		newAddColumnCommand(opts, version),
		newDropColumnCommand(opts, version),
		newRenameColumnCommand(opts, version),
		newUpdateColumnCommand(opts, version),
		newRemoveConstraintCommand(opts, version),
	)

	return root
}

// Execute runs the command tree with ctx, which is cancelled on shutdown signals.
func Execute(ctx context.Context, version string) error {
	return NewRootCommand(version).ExecuteContext(ctx)
}
