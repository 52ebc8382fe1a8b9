package store

import (
	"context"
	"fmt"
	"strings"

	"restkit/internal/logging"
	"restkit/internal/metadata"
)

type Migrator struct {
	db      Querier
	dialect Dialect
}

func NewMigrator(db Querier, dialect Dialect) *Migrator {
	return &Migrator{db: db, dialect: dialect}
}

// Introspect fills in the column list of every model that did not declare one.
func (m *Migrator) Introspect(ctx context.Context, models []*metadata.Model) error {
	for _, model := range models {
		if len(model.Columns) > 0 {
			continue
		}
		table := model.Table
		if table == "" {
			table = model.PluralName()
		}
		cols, err := m.dialect.GetColumns(ctx, m.db, table)
		if err != nil {
			return fmt.Errorf("introspect %s: %w", table, err)
		}
		if len(cols) == 0 {
			return fmt.Errorf("introspect %s: table has no columns or does not exist", table)
		}
		model.Columns = metadata.Fields(cols...)
	}
	return nil
}

// Migrate creates the table of every model whose table is missing. Existing
// tables are left alone.
func (m *Migrator) Migrate(ctx context.Context, models []*metadata.Model) error {
	for _, model := range models {
		exists, err := m.dialect.TableExists(ctx, m.db, model.Table)
		if err != nil {
			return fmt.Errorf("check table exists: %w", err)
		}
		if exists {
			continue
		}
		if _, err := m.db.ExecContext(ctx, m.createTableSQL(model)); err != nil {
			return fmt.Errorf("create table %s: %w", model.Table, err)
		}
		logging.FromContext(ctx).Info("created table", "table", model.Table, "columns", len(model.Columns))
	}
	return nil
}

func (m *Migrator) createTableSQL(model *metadata.Model) string {
	cols := make([]string, 0, len(model.Columns))
	for _, f := range model.Columns {
		if f.Name == model.PrimaryKey {
			cols = append(cols, fmt.Sprintf("%s %s", f.Name, m.dialect.PrimaryKeyDDL()))
			continue
		}
		def := fmt.Sprintf("%s %s", f.Name, m.dialect.ColumnType(f.Type))
		if f.Unique {
			def += " UNIQUE"
		}
		cols = append(cols, def)
	}
	return fmt.Sprintf("CREATE TABLE %s (\n\t%s\n)", model.Table, strings.Join(cols, ",\n\t"))
}
