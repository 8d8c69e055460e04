package runway

import (
	"context"
	"database/sql"
	"log"

	"github.com/blisslabs/runway/migrations"
	"github.com/pressly/goose/v3"

	_ "modernc.org/sqlite"
)

// Open opens (or creates) a SQLite database at dsn, migrates the metadata
// table and returns a Store wired to it. Callers that bring their own
// database/sql handle and KV can use New directly.
func Open(ctx context.Context, name, dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return New(name, db, NewSQLiteKV(db), opts...), nil
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		log.Fatal("failed to set goose dialect:", err)
	}

	return goose.UpContext(ctx, db, ".")
}
