package store

import (
	"context"

	sq "github.com/Masterminds/squirrel"
)

// Dialect abstracts database-specific SQL generation and behavior.
type Dialect interface {
	// Name returns "postgres", "sqlite" or "mysql".
	Name() string

	// DriverName returns the database/sql driver name.
	DriverName() string

	// Placeholder is the bind parameter style handed to squirrel builders.
	Placeholder() sq.PlaceholderFormat

	// SupportsReturning reports whether INSERT ... RETURNING is available.
	// Without it the generated key comes from sql.Result.LastInsertId.
	SupportsReturning() bool

	// ColumnType maps a schema field type to the database DDL type.
	ColumnType(fieldType string) string

	// PrimaryKeyDDL is the column definition of a generated integer key.
	PrimaryKeyDDL() string

	// TableExists checks whether a table exists.
	TableExists(ctx context.Context, q Querier, tableName string) (bool, error)

	// GetColumns returns a table's column names in ordinal order.
	GetColumns(ctx context.Context, q Querier, tableName string) ([]string, error)

	// MapError turns constraint violations into *IntegrityError.
	MapError(err error) error
}

// NewDialect creates a Dialect for the given driver name. Postgres is the default.
func NewDialect(driver string) Dialect {
	switch driver {
	case "sqlite":
		return &SQLiteDialect{}
	case "mysql":
		return &MySQLDialect{}
	default:
		return &PostgresDialect{}
	}
}

func scanColumnNames(ctx context.Context, q Querier, query string, args ...any) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		cols = append(cols, name)
	}
	return cols, rows.Err()
}
