package datasource

import (
	"context"

	"github.com/ekaya-inc/ekaya-tables/pkg/models"
)

// GuardedSession implements Session by resolving the target session on every
// call. Adapters embed it with a resolver that rejects calls before Connect
// or while a transaction is open; transactions embed it with a resolver that
// rejects calls after Commit or Rollback.
type GuardedSession struct {
	Resolve func(op string) (Session, error)
}

func (g GuardedSession) Query(ctx context.Context, statement string, params ...any) (*QueryResult, error) {
	s, err := g.Resolve("query")
	if err != nil {
		return nil, err
	}
	return s.Query(ctx, statement, params...)
}

func (g GuardedSession) Execute(ctx context.Context, statement string, params ...any) (int64, error) {
	s, err := g.Resolve("execute")
	if err != nil {
		return 0, err
	}
	return s.Execute(ctx, statement, params...)
}

func (g GuardedSession) TableExists(ctx context.Context, name string) (bool, error) {
	s, err := g.Resolve("table exists")
	if err != nil {
		return false, err
	}
	return s.TableExists(ctx, name)
}

func (g GuardedSession) GetTableSchema(ctx context.Context, name string) ([]ColumnDescriptor, error) {
	s, err := g.Resolve("get table schema")
	if err != nil {
		return nil, err
	}
	return s.GetTableSchema(ctx, name)
}

func (g GuardedSession) CreateTable(ctx context.Context, name string, fields []models.FieldDefinition) error {
	s, err := g.Resolve("create table")
	if err != nil {
		return err
	}
	return s.CreateTable(ctx, name, fields)
}

func (g GuardedSession) DropTable(ctx context.Context, name string) error {
	s, err := g.Resolve("drop table")
	if err != nil {
		return err
	}
	return s.DropTable(ctx, name)
}

func (g GuardedSession) AddColumn(ctx context.Context, table string, field models.FieldDefinition) error {
	s, err := g.Resolve("add column")
	if err != nil {
		return err
	}
	return s.AddColumn(ctx, table, field)
}

func (g GuardedSession) DropColumn(ctx context.Context, table, column string) error {
	s, err := g.Resolve("drop column")
	if err != nil {
		return err
	}
	return s.DropColumn(ctx, table, column)
}

func (g GuardedSession) RenameColumn(ctx context.Context, table, oldName, newName string) error {
	s, err := g.Resolve("rename column")
	if err != nil {
		return err
	}
	return s.RenameColumn(ctx, table, oldName, newName)
}

func (g GuardedSession) RemoveConstraint(ctx context.Context, table, column string, kind models.ConstraintKind, allFields []models.FieldDefinition) error {
	s, err := g.Resolve("remove constraint")
	if err != nil {
		return err
	}
	return s.RemoveConstraint(ctx, table, column, kind, allFields)
}

var _ Session = GuardedSession{}
