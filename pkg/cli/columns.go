package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/ekaya-tables/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-tables/pkg/models"
)

type addColumnOptions struct {
	fieldType    string
	displayName  string
	description  string
	defaultValue string
	required     bool
	unique       bool
}

func newAddColumnCommand(opts *rootOptions, version string) *cobra.Command {
	o := &addColumnOptions{}

	cmd := &cobra.Command{
		Use:   "add-column <table> <field>",
		Short: "Add a field to a table",
		Long: `Add a field to an existing table.

Required fields need a default so existing rows can be filled. Defaults are
parsed as YAML for number, boolean and json fields and taken verbatim for text
and timestamp fields.

Examples:
  ekaya-tables add-column orders status --type text --default new
  ekaya-tables add-column orders total --type number --required --default 0
  ekaya-tables add-column orders meta --type json --default '{tags: [a]}'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPrinter(cmd.OutOrStdout(), opts.format)
			if err != nil {
				return err
			}
			field, err := o.fieldInput(args[1], cmd.Flags().Changed("default"), cmd.Flags().Changed("description"))
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), opts, version, func(a *app) error {
				table, err := a.schema.AddColumn(cmd.Context(), args[0], field)
				if err != nil {
					return err
				}
				return p.table(table)
			})
		},
	}

	cmd.Flags().StringVarP(&o.fieldType, "type", "t", "", "field type: text, number, boolean, timestamp, json")
	cmd.Flags().StringVar(&o.displayName, "display-name", "", "display name (defaults to the field name)")
	cmd.Flags().StringVar(&o.description, "description", "", "field description")
	cmd.Flags().StringVar(&o.defaultValue, "default", "", "default value")
	cmd.Flags().BoolVar(&o.required, "required", false, "reject nulls (needs --default)")
	cmd.Flags().BoolVar(&o.unique, "unique", false, "reject duplicate non-null values")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func (o *addColumnOptions) fieldInput(name string, hasDefault, hasDescription bool) (models.FieldInput, error) {
	field := models.FieldInput{
		Name:        name,
		DisplayName: o.displayName,
		Type:        models.FieldType(o.fieldType),
		Required:    o.required,
		Unique:      o.unique,
	}
	if hasDescription {
		desc := o.description
		field.Description = &desc
	}
	if hasDefault {
		raw, err := defaultFromFlag(field.Type, o.defaultValue)
		if err != nil {
			return models.FieldInput{}, err
		}
		field.DefaultValue = raw
	}
	return field, nil
}

// defaultFromFlag converts a --default string into the raw JSON the service
// decodes against the field type.
func defaultFromFlag(fieldType models.FieldType, value string) (json.RawMessage, error) {
	switch fieldType {
	case models.FieldTypeText, models.FieldTypeTimestamp:
		return json.Marshal(value)
	}

	var decoded any
	if err := yaml.Unmarshal([]byte(value), &decoded); err != nil {
		return nil, apperrors.Validationf("invalid default %q: %v", value, err)
	}
	raw, err := json.Marshal(decoded)
	if err != nil {
		return nil, apperrors.Validationf("invalid default %q: %v", value, err)
	}
	return raw, nil
}

func newDropColumnCommand(opts *rootOptions, version string) *cobra.Command {
	var confirm bool

	cmd := &cobra.Command{
		Use:   "drop-column <table> <field>",
		Short: "Drop a field and its data",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireConfirm(confirm, fmt.Sprintf("dropping field %s.%s", args[0], args[1])); err != nil {
				return err
			}
			p, err := newPrinter(cmd.OutOrStdout(), opts.format)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), opts, version, func(a *app) error {
				table, err := a.schema.DeleteColumn(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				return p.table(table)
			})
		},
	}
	cmd.Flags().BoolVar(&confirm, "yes", false, "confirm the irreversible drop")
	return cmd
}

func newRenameColumnCommand(opts *rootOptions, version string) *cobra.Command {
	return &cobra.Command{
		Use:   "rename-column <table> <field> <new-name>",
		Short: "Rename a field, keeping its data and constraints",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPrinter(cmd.OutOrStdout(), opts.format)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), opts, version, func(a *app) error {
				table, err := a.schema.RenameColumn(cmd.Context(), args[0], args[1], args[2])
				if err != nil {
					return err
				}
				return p.table(table)
			})
		},
	}
}

func newUpdateColumnCommand(opts *rootOptions, version string) *cobra.Command {
	var displayName, description string

	cmd := &cobra.Command{
		Use:   "update-column <table> <field>",
		Short: "Change a field's display name or description",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var updates models.ColumnMetadataUpdate
			if cmd.Flags().Changed("display-name") {
				updates.DisplayName = &displayName
			}
			if cmd.Flags().Changed("description") {
				updates.Description = &description
			}
			if updates.DisplayName == nil && updates.Description == nil {
				return apperrors.Validationf("nothing to update: pass --display-name and/or --description")
			}

			p, err := newPrinter(cmd.OutOrStdout(), opts.format)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), opts, version, func(a *app) error {
				table, err := a.schema.UpdateColumnMetadata(cmd.Context(), args[0], args[1], updates)
				if err != nil {
					return err
				}
				return p.table(table)
			})
		},
	}
	cmd.Flags().StringVar(&displayName, "display-name", "", "new display name")
	cmd.Flags().StringVar(&description, "description", "", "new description (empty clears it)")
	return cmd
}

func newRemoveConstraintCommand(opts *rootOptions, version string) *cobra.Command {
	return &cobra.Command{
		Use:       "remove-constraint <table> <field> <required|unique>",
		Short:     "Remove the required or unique constraint from a field",
		Args:      cobra.ExactArgs(3),
		ValidArgs: []string{string(models.ConstraintRequired), string(models.ConstraintUnique)},
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPrinter(cmd.OutOrStdout(), opts.format)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), opts, version, func(a *app) error {
				table, err := a.schema.RemoveConstraint(cmd.Context(), args[0], args[1], models.ConstraintKind(args[2]))
				if err != nil {
					return err
				}
				return p.table(table)
			})
		},
	}
}

func requireConfirm(confirmed bool, action string) error {
	if !confirmed {
		return apperrors.Validationf("%s cannot be undone; re-run with --yes", action)
	}
	return nil
}
