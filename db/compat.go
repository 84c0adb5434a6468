package db

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
)

// Dialect represents the SQL database backend in use.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// CompatDB wraps *sql.DB to provide transparent ? → $N placeholder
// conversion for Postgres while keeping SQLite queries unchanged.
type CompatDB struct {
	DB      *sql.DB
	Dialect Dialect
}

func NewCompatDB(db *sql.DB, dialect Dialect) *CompatDB {
	return &CompatDB{DB: db, Dialect: dialect}
}

func (d *CompatDB) Close() error     { return d.DB.Close() }
func (d *CompatDB) IsPostgres() bool { return d.Dialect == DialectPostgres }

func (d *CompatDB) rewrite(query string) string {
	if d.Dialect == DialectSQLite {
		return query
	}
	return rewritePlaceholders(query)
}

func (d *CompatDB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return d.DB.ExecContext(ctx, d.rewrite(query), args...)
}

func (d *CompatDB) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return d.DB.QueryContext(ctx, d.rewrite(query), args...)
}

func (d *CompatDB) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return d.DB.QueryRowContext(ctx, d.rewrite(query), args...)
}

func (d *CompatDB) PingContext(ctx context.Context) error {
	return d.DB.PingContext(ctx)
}

func (d *CompatDB) Conn(ctx context.Context) (*CompatConn, error) {
	conn, err := d.DB.Conn(ctx)
	if err != nil {
		return nil, err
	}
	return &CompatConn{Conn: conn, dialect: d.Dialect}, nil
}

// CompatConn wraps *sql.Conn with automatic placeholder conversion.
type CompatConn struct {
	Conn    *sql.Conn
	dialect Dialect
}

func (c *CompatConn) Close() error { return c.Conn.Close() }

func (c *CompatConn) rewrite(query string) string {
	if c.dialect == DialectSQLite {
		return query
	}
	return rewritePlaceholders(query)
}

func (c *CompatConn) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return c.Conn.ExecContext(ctx, c.rewrite(query), args...)
}

func (c *CompatConn) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return c.Conn.QueryContext(ctx, c.rewrite(query), args...)
}

func (c *CompatConn) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return c.Conn.QueryRowContext(ctx, c.rewrite(query), args...)
}

// Querier is satisfied by both *CompatDB and *CompatConn, and by the
// sqlscan helpers' own Querier interface.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// rewritePlaceholders converts ? to $1, $2, ... for Postgres.
// Respects single-quoted string literals and escaped quotes ('').
func rewritePlaceholders(query string) string {
	var buf strings.Builder
	buf.Grow(len(query) + 32)
	n := 1
	inStr := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		if c == '\'' {
			if inStr && i+1 < len(query) && query[i+1] == '\'' {
				// Escaped quote ('') — stays inside the string literal.
				buf.WriteByte(c)
				buf.WriteByte(query[i+1])
				i++
				continue
			}
			inStr = !inStr
			buf.WriteByte(c)
		} else if c == '?' && !inStr {
			buf.WriteByte('$')
			buf.WriteString(strconv.Itoa(n))
			n++
		} else {
			buf.WriteByte(c)
		}
	}
	return buf.String()
}

// ---------------------------------------------------------------------------
// SQL dialect helpers — return SQL fragments appropriate for the dialect.
// ---------------------------------------------------------------------------

// DatetimeModifier returns a SQL expression for "now shifted by modifier",
// e.g. '-24 hours'. Only pass modifiers built from trusted values.
func (d *CompatDB) DatetimeModifier(modifier string) string {
	if d.IsPostgres() {
		mod := strings.TrimPrefix(modifier, "-")
		return fmt.Sprintf("now() - interval '%s'", mod)
	}
	return fmt.Sprintf("datetime('now', '%s')", modifier)
}

// DBSizeExpr returns a SQL expression for the database size in MB.
func (d *CompatDB) DBSizeExpr() string {
	if d.IsPostgres() {
		return "COALESCE(pg_database_size(current_database()) / 1024.0 / 1024.0, 0)"
	}
	return "COALESCE((SELECT page_count * page_size / 1024.0 / 1024.0 FROM pragma_page_count(), pragma_page_size()), 0)"
}

// DateOfExpr returns a SQL expression extracting YYYY-MM-DD from a timestamp column.
func (d *CompatDB) DateOfExpr(col string) string {
	if d.IsPostgres() {
		return fmt.Sprintf("to_char(%s, 'YYYY-MM-DD')", col)
	}
	return fmt.Sprintf("date(%s)", col)
}

// HourOfExpr returns a SQL expression extracting the two-digit hour of day.
func (d *CompatDB) HourOfExpr(col string) string {
	if d.IsPostgres() {
		return fmt.Sprintf("to_char(%s, 'HH24')", col)
	}
	return fmt.Sprintf("strftime('%%H', %s)", col)
}

// BeginTxSQL returns the SQL statement to begin a write transaction.
func (d *CompatDB) BeginTxSQL() string {
	if d.IsPostgres() {
		return "BEGIN"
	}
	return "BEGIN IMMEDIATE"
}
