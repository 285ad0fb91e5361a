package store

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
)

// Database persists saved session documents. Both supported drivers accept
// the same $N placeholders and upsert syntax. The binary registers the
// drivers it wants with blank imports.
type Database struct {
	db     *sql.DB
	driver string
}

func OpenDatabase(driver, dsn string) (*Database, error) {
	switch driver {
	case "sqlite3", "postgres":
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == "sqlite3" {
		db.SetMaxOpenConns(1)
	}
	return &Database{db: db, driver: driver}, nil
}

func (d *Database) Init(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS sessions (
    	id text not null primary key,
        content text not null
		)`,
	); err != nil {
		return fmt.Errorf("failed to create sessions table: %w", err)
	}
	slog.Info("Ensured initial tables exist", "driver", d.driver)
	return nil
}

func (d *Database) Load(ctx context.Context, id string) ([]byte, error) {
	var rawContent string
	if err := d.db.QueryRowContext(ctx, `SELECT content FROM sessions WHERE id = $1`, id).Scan(&rawContent); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(rawContent)
	if err != nil {
		return nil, fmt.Errorf("failed to decode: %w", err)
	}
	return raw, nil
}

func (d *Database) Save(ctx context.Context, id string, content []byte) error {
	if _, err := d.db.ExecContext(ctx,
		`INSERT INTO sessions (id, content) VALUES ($1, $2) ON CONFLICT (id) DO UPDATE SET content = excluded.content`,
		id, base64.StdEncoding.EncodeToString(content),
	); err != nil {
		return fmt.Errorf("failed to persist session %s: %w", id, err)
	}
	return nil
}

func (d *Database) Close() error {
	return d.db.Close()
}
