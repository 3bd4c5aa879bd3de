package dbx

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/crmsync/internal/models"
	"github.com/jackc/pgx/v5/pgconn"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Column is one live column of a local table.
type Column struct {
	Name string
	Type string
}

// Dialect hides the differences between the supported local stores.
//
// Queries are written with '?' placeholders and passed through Rebind.
type Dialect interface {
	Name() string
	DriverName() string
	GooseDialect() string

	// Prepare applies connection-level settings right after opening.
	Prepare(ctx context.Context, db DBTX) error

	Rebind(query string) string
	QuoteIdent(name string) string
	// ConflictTarget references a column of the existing row inside
	// ON CONFLICT ... DO UPDATE SET.
	ConflictTarget(table, column string) string

	// ColumnType is the column type created for a coarse type.
	ColumnType(t models.CoarseType) string
	// SameColumnType compares a live column type with a ColumnType result.
	SameColumnType(live, wanted string) bool

	ListColumns(ctx context.Context, db DBTX, table string) ([]Column, error)

	IsDuplicateColumn(err error) bool
	IsUndefinedColumn(err error) bool
	IsUniqueViolation(err error) bool
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdent reports whether name can be used as a table or column name.
// Anything else is rejected rather than escaped.
func ValidIdent(name string) bool {
	return len(name) <= 63 && identRe.MatchString(name)
}

// DialectFor resolves a dialect by name.
func DialectFor(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "postgres", "postgresql", "pgx":
		return Postgres(), nil
	case "sqlite", "sqlite3":
		return SQLite(), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", name)
	}
}

func Postgres() Dialect { return postgresDialect{} }
func SQLite() Dialect   { return sqliteDialect{} }

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func errContains(err error, patterns ...string) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

type postgresDialect struct{}

func (postgresDialect) Name() string         { return "postgres" }
func (postgresDialect) DriverName() string   { return "pgx" }
func (postgresDialect) GooseDialect() string { return "postgres" }

func (postgresDialect) Prepare(context.Context, DBTX) error { return nil }

// Rebind turns '?' placeholders into $1..$n.
func (postgresDialect) Rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (postgresDialect) QuoteIdent(name string) string { return quoteIdent(name) }

// Unqualified references are ambiguous with EXCLUDED on PostgreSQL.
func (postgresDialect) ConflictTarget(table, column string) string {
	return quoteIdent(table) + "." + quoteIdent(column)
}

func (postgresDialect) ColumnType(t models.CoarseType) string {
	switch t {
	case models.TypeNumber:
		return "double precision"
	case models.TypeBoolean:
		return "boolean"
	case models.TypeJSON:
		return "jsonb"
	case models.TypeTimestamp:
		return "bigint"
	default:
		return "text"
	}
}

func (postgresDialect) SameColumnType(live, wanted string) bool {
	return strings.EqualFold(strings.TrimSpace(live), strings.TrimSpace(wanted))
}

func (d postgresDialect) ListColumns(ctx context.Context, db DBTX, table string) ([]Column, error) {
	rows, err := db.QueryContext(ctx, d.Rebind(`
		SELECT column_name, data_type FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = ?
		ORDER BY ordinal_position`), table)
	if err != nil {
		return nil, fmt.Errorf("failed to list columns of %s: %w", table, err)
	}
	return scanColumns(rows)
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func (postgresDialect) IsDuplicateColumn(err error) bool {
	return pgCode(err) == "42701" || errContains(err, "already exists")
}

func (postgresDialect) IsUndefinedColumn(err error) bool {
	return pgCode(err) == "42703" || errContains(err, "does not exist") && errContains(err, "column")
}

func (postgresDialect) IsUniqueViolation(err error) bool {
	return pgCode(err) == "23505" || errContains(err, "duplicate key value")
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string         { return "sqlite" }
func (sqliteDialect) DriverName() string   { return "sqlite" }
func (sqliteDialect) GooseDialect() string { return "sqlite3" }

func (sqliteDialect) Prepare(ctx context.Context, db DBTX) error {
	for _, pragma := range []string{"PRAGMA journal_mode = WAL;", "PRAGMA busy_timeout = 5000;"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	return nil
}

func (sqliteDialect) Rebind(query string) string    { return query }
func (sqliteDialect) QuoteIdent(name string) string { return quoteIdent(name) }

func (sqliteDialect) ConflictTarget(_, column string) string { return quoteIdent(column) }

func (sqliteDialect) ColumnType(t models.CoarseType) string {
	switch t {
	case models.TypeNumber:
		return "REAL"
	case models.TypeBoolean, models.TypeTimestamp:
		return "INTEGER"
	default:
		return "TEXT"
	}
}

func (sqliteDialect) SameColumnType(live, wanted string) bool {
	return strings.EqualFold(strings.TrimSpace(live), strings.TrimSpace(wanted))
}

func (sqliteDialect) ListColumns(ctx context.Context, db DBTX, table string) ([]Column, error) {
	rows, err := db.QueryContext(ctx, `SELECT name, type FROM pragma_table_info(?)`, table)
	if err != nil {
		return nil, fmt.Errorf("failed to list columns of %s: %w", table, err)
	}
	return scanColumns(rows)
}

func (sqliteDialect) IsDuplicateColumn(err error) bool {
	return errContains(err, "duplicate column name", "already exists")
}

func (sqliteDialect) IsUndefinedColumn(err error) bool {
	return errContains(err, "no such column", "has no column named")
}

func (sqliteDialect) IsUniqueViolation(err error) bool {
	return errContains(err, "unique constraint failed")
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

func scanColumns(rows rowScanner) ([]Column, error) {
	defer rows.Close()
	var cols []Column
	for rows.Next() {
		var c Column
		if err := rows.Scan(&c.Name, &c.Type); err != nil {
			return nil, fmt.Errorf("failed to scan column row: %w", err)
		}
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate column rows: %w", err)
	}
	return cols, nil
}
