// Package store opens database handles for the persistent subsystems.
// The DSN scheme picks the driver: "sqlite:" (default, embedded),
// "postgres:" via the pgx stdlib driver, or "mysql:". Every store in the
// platform goes through Open so driver registration lives in one place.
package store

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// DB wraps sql.DB with the driver name so stores can rebind placeholders.
type DB struct {
	*sql.DB
	Driver string
}

// Open opens a database handle for the given DSN. SQLite handles get WAL
// mode and a busy timeout so concurrent readers do not fail during writes.
func Open(dsn string) (*DB, error) {
	driver, source, err := splitDSN(dsn)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, source)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	if driver == "sqlite" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set WAL: %w", err)
		}
		if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set busy_timeout: %w", err)
		}
	}

	return &DB{DB: db, Driver: driver}, nil
}

// Rebind rewrites '?' placeholders to $1..$n for the pgx driver. SQLite and
// MySQL take '?' natively.
func (d *DB) Rebind(query string) string {
	if d.Driver != "pgx" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func splitDSN(dsn string) (driver, source string, err error) {
	switch {
	case strings.HasPrefix(dsn, "sqlite:"):
		return "sqlite", strings.TrimPrefix(dsn, "sqlite:"), nil
	case strings.HasPrefix(dsn, "postgres:"), strings.HasPrefix(dsn, "postgresql:"):
		return "pgx", dsn, nil
	case strings.HasPrefix(dsn, "mysql:"):
		return "mysql", strings.TrimPrefix(dsn, "mysql:"), nil
	case dsn == "":
		return "", "", fmt.Errorf("empty dsn")
	default:
		// Bare path = SQLite file
		return "sqlite", dsn, nil
	}
}
