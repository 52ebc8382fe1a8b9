package store

import (
	"context"
	"errors"
	"regexp"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgconn"
)

// PostgresDialect implements Dialect for PostgreSQL via pgx/stdlib.
type PostgresDialect struct{}

func (d *PostgresDialect) Name() string                      { return "postgres" }
func (d *PostgresDialect) DriverName() string                { return "pgx" }
func (d *PostgresDialect) Placeholder() sq.PlaceholderFormat { return sq.Dollar }
func (d *PostgresDialect) SupportsReturning() bool           { return true }
func (d *PostgresDialect) PrimaryKeyDDL() string             { return "BIGSERIAL PRIMARY KEY" }

func (d *PostgresDialect) ColumnType(fieldType string) string {
	switch fieldType {
	case "int", "integer":
		return "INTEGER"
	case "bigint":
		return "BIGINT"
	case "float", "decimal":
		return "DOUBLE PRECISION"
	case "boolean":
		return "BOOLEAN"
	case "uuid":
		return "UUID"
	case "timestamp":
		return "TIMESTAMPTZ"
	case "date":
		return "DATE"
	case "json":
		return "JSONB"
	default:
		return "TEXT"
	}
}

func (d *PostgresDialect) TableExists(ctx context.Context, q Querier, tableName string) (bool, error) {
	var exists bool
	err := q.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM information_schema.tables WHERE table_name = $1 AND table_schema = current_schema())`,
		tableName,
	).Scan(&exists)
	return exists, err
}

func (d *PostgresDialect) GetColumns(ctx context.Context, q Querier, tableName string) ([]string, error) {
	return scanColumnNames(ctx, q,
		`SELECT column_name FROM information_schema.columns WHERE table_name = $1 AND table_schema = current_schema() ORDER BY ordinal_position`,
		tableName,
	)
}

// Key (email)=(a@example.com) already exists.
var pgDetailRe = regexp.MustCompile(`Key \((.+?)\)=\((.*?)\)`)

func (d *PostgresDialect) MapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		var kind error
		switch pgErr.Code {
		case "23505":
			kind = ErrUniqueViolation
		case "23503":
			kind = ErrForeignKeyViolation
		default:
			return err
		}
		ie := &IntegrityError{Kind: kind, Constraint: pgErr.ConstraintName, Err: err}
		if m := pgDetailRe.FindStringSubmatch(pgErr.Detail); m != nil {
			ie.Field, ie.Value = m[1], m[2]
		}
		return ie
	}
	// Some wrappers only keep the message text
	errStr := err.Error()
	if strings.Contains(errStr, "23505") || strings.Contains(errStr, "duplicate key") {
		return &IntegrityError{Kind: ErrUniqueViolation, Err: err}
	}
	return err
}

var _ Dialect = (*PostgresDialect)(nil)
