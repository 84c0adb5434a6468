package db

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// DialectFor picks the backend from a connection string: postgres:// and
// postgresql:// URLs go to Postgres, anything else is a SQLite path.
func DialectFor(dsn string) Dialect {
	lower := strings.ToLower(dsn)
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return DialectPostgres
	}
	return DialectSQLite
}

// Open connects to the database named by dsn, applies connection settings
// for the dialect and runs the embedded migrations.
func Open(dsn string) (*CompatDB, error) {
	dialect := DialectFor(dsn)

	driver := "sqlite"
	if dialect == DialectPostgres {
		driver = "pgx"
	}
	raw, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}

	if dialect == DialectSQLite {
		// Single connection: prevents concurrent write conflicts
		raw.SetMaxOpenConns(1)
		raw.SetMaxIdleConns(1)
		raw.SetConnMaxLifetime(0)

		for _, pragma := range []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA busy_timeout=5000",
			"PRAGMA foreign_keys=ON",
			"PRAGMA synchronous=NORMAL",
		} {
			if _, err := raw.Exec(pragma); err != nil {
				raw.Close()
				return nil, fmt.Errorf("pragma failed (%s): %w", pragma, err)
			}
		}
	}

	if err := raw.Ping(); err != nil {
		raw.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}

	if err := RunMigrations(raw, dialect); err != nil {
		raw.Close()
		return nil, err
	}

	return NewCompatDB(raw, dialect), nil
}
