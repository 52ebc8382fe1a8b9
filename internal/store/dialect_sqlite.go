package store

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// SQLiteDialect implements Dialect for SQLite via modernc.org/sqlite.
type SQLiteDialect struct{}

func (d *SQLiteDialect) Name() string                      { return "sqlite" }
func (d *SQLiteDialect) DriverName() string                { return "sqlite" }
func (d *SQLiteDialect) Placeholder() sq.PlaceholderFormat { return sq.Question }
func (d *SQLiteDialect) SupportsReturning() bool           { return true }
func (d *SQLiteDialect) PrimaryKeyDDL() string             { return "INTEGER PRIMARY KEY AUTOINCREMENT" }

func (d *SQLiteDialect) ColumnType(fieldType string) string {
	switch fieldType {
	case "int", "integer", "bigint", "boolean":
		return "INTEGER"
	case "float", "decimal":
		return "REAL"
	default:
		return "TEXT"
	}
}

func (d *SQLiteDialect) TableExists(ctx context.Context, q Querier, tableName string) (bool, error) {
	var name string
	err := q.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
		tableName,
	).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (d *SQLiteDialect) GetColumns(ctx context.Context, q Querier, tableName string) ([]string, error) {
	return scanColumnNames(ctx, q, "SELECT name FROM pragma_table_info(?) ORDER BY cid", tableName)
}

// UNIQUE constraint failed: users.email
var sqliteUniqueRe = regexp.MustCompile(`UNIQUE constraint failed: ([\w.]+)`)

func (d *SQLiteDialect) MapError(err error) error {
	if err == nil {
		return nil
	}
	errStr := err.Error()
	if m := sqliteUniqueRe.FindStringSubmatch(errStr); m != nil {
		ie := &IntegrityError{Kind: ErrUniqueViolation, Constraint: m[1], Err: err}
		if i := strings.LastIndex(m[1], "."); i >= 0 {
			ie.Field = m[1][i+1:]
		}
		return ie
	}
	if strings.Contains(errStr, "FOREIGN KEY constraint failed") {
		return &IntegrityError{Kind: ErrForeignKeyViolation, Err: err}
	}
	return err
}

var _ Dialect = (*SQLiteDialect)(nil)
