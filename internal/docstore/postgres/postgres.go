// Package postgres stores vault documents as JSONB rows in a single
// documents table keyed by (collection, id).
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jun/gophvault/internal/docstore"
	"github.com/jun/gophvault/internal/docstore/postgres/migrations"
	"github.com/pressly/goose/v3"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements docstore.Store on PostgreSQL.
type Store struct {
	db DBTX
}

func NewStore(db DBTX) *Store {
	return &Store{db: db}
}

// Open connects to dsn through the pgx driver and applies migrations.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// gooseUpContext is a seam for tests.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations applies the embedded schema migrations.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	if err := gooseUpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *Store) CreateDocument(ctx context.Context, collection, id string, doc any) error {
	body, err := encodeBody(id, doc)
	if err != nil {
		return err
	}

	query := `INSERT INTO documents (collection, id, body) VALUES ($1, $2, $3)
		ON CONFLICT (collection, id) DO NOTHING`
	res, err := s.db.ExecContext(ctx, query, collection, id, body)
	if err != nil {
		return fmt.Errorf("%w: insert %s/%s: %w", docstore.ErrBackend, collection, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected: %w", docstore.ErrBackend, err)
	}
	if n == 0 {
		return docstore.ErrAlreadyExists
	}
	return nil
}

func (s *Store) GetDocument(ctx context.Context, collection, id string, out any) error {
	var body []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM documents WHERE collection = $1 AND id = $2`,
		collection, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return docstore.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: select %s/%s: %w", docstore.ErrBackend, collection, id, err)
	}
	return json.Unmarshal(body, out)
}

func (s *Store) GetDocuments(ctx context.Context, collection string, filter docstore.Filter, out any) error {
	if filter == nil {
		filter = docstore.Filter{}
	}
	cond, err := json.Marshal(filter)
	if err != nil {
		return fmt.Errorf("marshal filter: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT body FROM documents WHERE collection = $1 AND body @> $2::jsonb ORDER BY id`,
		collection, cond)
	if err != nil {
		return fmt.Errorf("%w: select %s: %w", docstore.ErrBackend, collection, err)
	}
	defer rows.Close()

	var bodies []string
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return fmt.Errorf("%w: scan: %w", docstore.ErrBackend, err)
		}
		bodies = append(bodies, string(body))
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: rows: %w", docstore.ErrBackend, err)
	}

	return json.Unmarshal([]byte("["+strings.Join(bodies, ",")+"]"), out)
}

// UpdateDocument merges update into the stored body in one statement.
func (s *Store) UpdateDocument(ctx context.Context, collection, id string, update docstore.Update) error {
	patch, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("marshal update: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET body = body || $3::jsonb WHERE collection = $1 AND id = $2`,
		collection, id, patch)
	if err != nil {
		return fmt.Errorf("%w: update %s/%s: %w", docstore.ErrBackend, collection, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected: %w", docstore.ErrBackend, err)
	}
	if n == 0 {
		return docstore.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteDocument(ctx context.Context, collection, id string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = $1 AND id = $2`, collection, id)
	if err != nil {
		return fmt.Errorf("%w: delete %s/%s: %w", docstore.ErrBackend, collection, id, err)
	}
	return nil
}

func encodeBody(id string, doc any) ([]byte, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("document must be an object: %w", err)
	}
	fields[docstore.KeyAttribute] = id
	return json.Marshal(fields)
}
