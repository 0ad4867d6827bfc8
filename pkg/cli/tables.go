package cli

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-tables/pkg/services"
)

func newTablesCommand(opts *rootOptions, version string) *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List table definitions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPrinter(cmd.OutOrStdout(), opts.format)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), opts, version, func(a *app) error {
				tables, err := a.schema.GetTables(cmd.Context())
				if err != nil {
					return err
				}
				return p.tables(tables)
			})
		},
	}
}

func newTableCommand(opts *rootOptions, version string) *cobra.Command {
	return &cobra.Command{
		Use:   "table <name>",
		Short: "Show one table definition and its fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPrinter(cmd.OutOrStdout(), opts.format)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), opts, version, func(a *app) error {
				table, err := a.schema.GetTable(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return p.table(table)
			})
		},
	}
}

func newApplyCommand(opts *rootOptions, version string) *cobra.Command {
	return &cobra.Command{
		Use:   "apply <file>",
		Short: "Create missing tables and fields from a YAML definitions file",
		Long: `Apply a YAML file of table definitions.

Missing tables are created and missing fields are added to existing tables.
Nothing is ever dropped or altered: fields absent from the file are kept and
fields whose definition differs are left as they are.

Example file:
  tables:
    - name: orders
      displayName: Orders
      fields:
        - {name: total, type: number, required: true, default: 0}
        - {name: status, type: text, default: new}`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPrinter(cmd.OutOrStdout(), opts.format)
			if err != nil {
				return err
			}
			inputs, err := services.LoadTableDefinitions(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), opts, version, func(a *app) error {
				result, err := a.schema.ApplyDefinitions(cmd.Context(), inputs)
				if err != nil {
					if result != nil {
						a.logger.Warn("Definitions partially applied",
							zap.Strings("created", result.CreatedTables),
							zap.Strings("added", result.AddedFields))
					}
					return err
				}
				return p.applyResult(result)
			})
		},
	}
}

func newDropTableCommand(opts *rootOptions, version string) *cobra.Command {
	var confirm bool

	cmd := &cobra.Command{
		Use:   "drop-table <name>",
		Short: "Drop a table, its data and its catalog entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireConfirm(confirm, "dropping table "+args[0]); err != nil {
				return err
			}
			p, err := newPrinter(cmd.OutOrStdout(), opts.format)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), opts, version, func(a *app) error {
				if err := a.schema.DeleteTable(cmd.Context(), args[0]); err != nil {
					return err
				}
				return p.message("dropped table %s", args[0])
			})
		},
	}
	cmd.Flags().BoolVar(&confirm, "yes", false, "confirm the irreversible drop")
	return cmd
}
