package sqlstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrEthical07/goIdentity/storage/sqlstore/migrations"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// Dialect selects the database driver.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// ParseDialect accepts "postgres" (or "pgx") and "sqlite".
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "postgres", "postgresql", "pgx":
		return DialectPostgres, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	}
	return "", fmt.Errorf("unsupported database dialect %q", s)
}

func (d Dialect) driverName() string {
	if d == DialectSQLite {
		return "sqlite"
	}
	return "pgx"
}

func (d Dialect) gooseDialect() string {
	if d == DialectSQLite {
		return "sqlite3"
	}
	return "pgx"
}

// Open connects to dsn, runs pending migrations and returns a Store. SQLite
// connections enable foreign keys and are limited to one open connection so
// an in-memory database is shared by every query.
func Open(ctx context.Context, dialect Dialect, dsn string) (*Store, error) {
	if dialect == DialectSQLite {
		dsn = withSQLitePragmas(dsn)
	}

	db, err := sqlx.ConnectContext(ctx, dialect.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if dialect == DialectSQLite {
		db.SetMaxOpenConns(1)
	}

	if err := Migrate(ctx, db, dialect); err != nil {
		_ = db.Close()
		return nil, err
	}
	return New(db), nil
}

// Migrate applies every pending embedded migration.
func Migrate(ctx context.Context, db *sqlx.DB, dialect Dialect) error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect(dialect.gooseDialect()); err != nil {
		return fmt.Errorf("setting migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db.DB, "."); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

func withSQLitePragmas(dsn string) string {
	if strings.Contains(dsn, "_pragma=foreign_keys") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}
