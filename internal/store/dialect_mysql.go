package store

import (
	"context"
	"errors"
	"regexp"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/go-sql-driver/mysql"
)

// MySQLDialect implements Dialect for MySQL and TiDB via go-sql-driver/mysql.
type MySQLDialect struct{}

func (d *MySQLDialect) Name() string                      { return "mysql" }
func (d *MySQLDialect) DriverName() string                { return "mysql" }
func (d *MySQLDialect) Placeholder() sq.PlaceholderFormat { return sq.Question }
func (d *MySQLDialect) SupportsReturning() bool           { return false }
func (d *MySQLDialect) PrimaryKeyDDL() string             { return "BIGINT AUTO_INCREMENT PRIMARY KEY" }

func (d *MySQLDialect) ColumnType(fieldType string) string {
	switch fieldType {
	case "int", "integer":
		return "INT"
	case "bigint":
		return "BIGINT"
	case "float", "decimal":
		return "DOUBLE"
	case "boolean":
		return "TINYINT(1)"
	case "timestamp":
		return "DATETIME"
	case "date":
		return "DATE"
	case "json":
		return "JSON"
	case "text":
		return "TEXT"
	default:
		return "VARCHAR(255)"
	}
}

func (d *MySQLDialect) TableExists(ctx context.Context, q Querier, tableName string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?`,
		tableName,
	).Scan(&n)
	return n > 0, err
}

func (d *MySQLDialect) GetColumns(ctx context.Context, q Querier, tableName string) ([]string, error) {
	return scanColumnNames(ctx, q,
		`SELECT column_name FROM information_schema.columns WHERE table_schema = DATABASE() AND table_name = ? ORDER BY ordinal_position`,
		tableName,
	)
}

// Duplicate entry 'a@example.com' for key 'users.email'
var mysqlDuplicateRe = regexp.MustCompile(`Duplicate entry '(.*)' for key '(.+)'`)

func (d *MySQLDialect) MapError(err error) error {
	if err == nil {
		return nil
	}
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) {
		return err
	}
	switch myErr.Number {
	case 1062:
		ie := &IntegrityError{Kind: ErrUniqueViolation, Err: err}
		if m := mysqlDuplicateRe.FindStringSubmatch(myErr.Message); m != nil {
			ie.Value, ie.Constraint = m[1], m[2]
			ie.Field = m[2][strings.LastIndex(m[2], ".")+1:]
		}
		return ie
	case 1451, 1452:
		return &IntegrityError{Kind: ErrForeignKeyViolation, Err: err}
	}
	return err
}

var _ Dialect = (*MySQLDialect)(nil)
