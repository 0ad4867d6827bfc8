package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"golang.org/x/term"

	"github.com/ekaya-inc/ekaya-tables/pkg/models"
	"github.com/ekaya-inc/ekaya-tables/pkg/services"
)

const (
	formatAuto  = "auto"
	formatTable = "table"
	formatJSON  = "json"
)

// resolveFormat turns "auto" into table for terminals and JSON otherwise.
func resolveFormat(format string, out io.Writer) (string, error) {
	switch format {
	case formatTable, formatJSON:
		return format, nil
	case formatAuto, "":
		if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			return formatTable, nil
		}
		return formatJSON, nil
	default:
		return "", fmt.Errorf("unsupported output format %q (expected auto, table or json)", format)
	}
}

type printer struct {
	out    io.Writer
	format string
}

func newPrinter(out io.Writer, format string) (*printer, error) {
	resolved, err := resolveFormat(format, out)
	if err != nil {
		return nil, err
	}
	if resolved == formatTable {
		if f, ok := out.(*os.File); !ok || !term.IsTerminal(int(f.Fd())) {
			pterm.DisableStyling()
		}
	}
	return &printer{out: out, format: resolved}, nil
}

func (p *printer) json(v any) error {
	enc := json.NewEncoder(p.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (p *printer) tables(tables []*models.TableDefinition) error {
	if p.format == formatJSON {
		if tables == nil {
			tables = []*models.TableDefinition{}
		}
		return p.json(tables)
	}
	if len(tables) == 0 {
		_, err := fmt.Fprintln(p.out, "No tables defined.")
		return err
	}

	data := pterm.TableData{{"NAME", "DISPLAY NAME", "RECORD", "FIELDS", "UPDATED"}}
	for _, t := range tables {
		data = append(data, []string{
			t.Name,
			t.DisplayName,
			t.RecordLabel(),
			strconv.Itoa(len(t.Fields)),
			t.UpdatedAt.Local().Format(time.DateTime),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).WithWriter(p.out).Render()
}

func (p *printer) table(t *models.TableDefinition) error {
	if p.format == formatJSON {
		return p.json(t)
	}

	header := fmt.Sprintf("%s (%s)", t.Name, t.DisplayName)
	if t.Description != nil && *t.Description != "" {
		header += ": " + *t.Description
	}
	if _, err := fmt.Fprintln(p.out, header); err != nil {
		return err
	}
	if len(t.Fields) == 0 {
		_, err := fmt.Fprintln(p.out, "No fields.")
		return err
	}

	data := pterm.TableData{{"FIELD", "TYPE", "REQUIRED", "UNIQUE", "DEFAULT", "DISPLAY NAME", "DESCRIPTION"}}
	for _, f := range t.Fields {
		def := ""
		if f.DefaultValue != nil {
			def = f.DefaultValue.String()
		}
		desc := ""
		if f.Description != nil {
			desc = *f.Description
		}
		data = append(data, []string{
			f.Name,
			string(f.Type),
			yesNo(f.Required),
			yesNo(f.Unique),
			def,
			f.DisplayName,
			desc,
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).WithWriter(p.out).Render()
}

func (p *printer) applyResult(r *services.ApplyResult) error {
	if p.format == formatJSON {
		return p.json(r)
	}
	lines := []string{
		"created:   " + joinOrDash(r.CreatedTables),
		"added:     " + joinOrDash(r.AddedFields),
		"unchanged: " + joinOrDash(r.Unchanged),
	}
	_, err := fmt.Fprintln(p.out, strings.Join(lines, "\n"))
	return err
}

func (p *printer) message(format string, args ...any) error {
	if p.format == formatJSON {
		return p.json(map[string]string{"status": "ok", "message": fmt.Sprintf(format, args...)})
	}
	_, err := fmt.Fprintf(p.out, format+"\n", args...)
	return err
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func joinOrDash(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
