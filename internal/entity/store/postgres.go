package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	// Registers the pgx database/sql driver.
	_ "github.com/jackc/pgx/v5/stdlib"

	dErrors "lattice/pkg/domain-errors"
)

// PostgresStore persists documents as JSONB rows, one row per document.
// Batches run in a transaction so the engine's per-batch atomicity holds.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres opens a pgx-backed connection pool and verifies it.
func OpenPostgres(ctx context.Context, url string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStore wraps an existing database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the documents table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS documents (
			tenant_id  TEXT  NOT NULL,
			collection TEXT  NOT NULL,
			id         TEXT  NOT NULL,
			data       JSONB NOT NULL,
			PRIMARY KEY (tenant_id, collection, id)
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure documents schema: %w", err)
	}
	return nil
}

// Close closes the underlying pool.
func (s *PostgresStore) Close() error { return s.db.Close() }

// Get returns the document at key.
func (s *PostgresStore) Get(ctx context.Context, key Key) (Document, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM documents WHERE tenant_id = $1 AND collection = $2 AND id = $3`,
		key.TenantID, key.Collection, key.ID,
	).Scan(&raw)
	if err != nil {
		if err == sql.ErrNoRows {
			return Document{}, dErrors.Newf(dErrors.CodeNotFound, "document %s not found", key)
		}
		return Document{}, fmt.Errorf("get document %s: %w", key, err)
	}
	data, err := decodePayload(raw)
	if err != nil {
		return Document{}, fmt.Errorf("decode document %s: %w", key, err)
	}
	return Document{Key: key, Data: data}, nil
}

// List scans a tenant's collection, optionally filtered by top-level field
// equality. Filters translate to JSONB containment so they run in the store,
// not in memory.
func (s *PostgresStore) List(ctx context.Context, tenantID, collection string, filters ...Filter) ([]Document, error) {
	query := `SELECT id, data FROM documents WHERE tenant_id = $1 AND collection = $2`
	args := []any{tenantID, collection}
	for _, f := range filters {
		if f.Field == "" {
			continue
		}
		predicate, err := json.Marshal(map[string]any{f.Field: f.Value})
		if err != nil {
			return nil, fmt.Errorf("encode list filter %q: %w", f.Field, err)
		}
		args = append(args, predicate)
		query += fmt.Sprintf(` AND data @> $%d::jsonb`, len(args))
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s/%s: %w", tenantID, collection, err)
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scan %s/%s: %w", tenantID, collection, err)
		}
		data, err := decodePayload(raw)
		if err != nil {
			return nil, fmt.Errorf("decode %s/%s/%s: %w", tenantID, collection, id, err)
		}
		out = append(out, Document{
			Key:  Key{TenantID: tenantID, Collection: collection, ID: id},
			Data: data,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list %s/%s: %w", tenantID, collection, err)
	}
	return out, nil
}

// BatchWrite applies every op inside one transaction.
func (s *PostgresStore) BatchWrite(ctx context.Context, ops []WriteOp) error {
	if len(ops) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer tx.Rollback()

	for _, op := range ops {
		if err := applyOp(ctx, tx, op); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

func applyOp(ctx context.Context, tx *sql.Tx, op WriteOp) error {
	switch op.Kind {
	case OpSet:
		payload, err := json.Marshal(op.Data)
		if err != nil {
			return fmt.Errorf("encode set %s: %w", op.Key, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO documents (tenant_id, collection, id, data)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (tenant_id, collection, id) DO UPDATE SET data = EXCLUDED.data
		`, op.Key.TenantID, op.Key.Collection, op.Key.ID, payload)
		if err != nil {
			return fmt.Errorf("set %s: %w", op.Key, err)
		}
	case OpMerge:
		payload, err := json.Marshal(op.Data)
		if err != nil {
			return fmt.Errorf("encode merge %s: %w", op.Key, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO documents (tenant_id, collection, id, data)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (tenant_id, collection, id) DO UPDATE SET data = documents.data || EXCLUDED.data
		`, op.Key.TenantID, op.Key.Collection, op.Key.ID, payload)
		if err != nil {
			return fmt.Errorf("merge %s: %w", op.Key, err)
		}
	case OpUpdate:
		payload, err := json.Marshal(op.Data)
		if err != nil {
			return fmt.Errorf("encode update %s: %w", op.Key, err)
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE documents SET data = data || $4::jsonb
			WHERE tenant_id = $1 AND collection = $2 AND id = $3
		`, op.Key.TenantID, op.Key.Collection, op.Key.ID, payload)
		if err != nil {
			return fmt.Errorf("update %s: %w", op.Key, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update %s: %w", op.Key, err)
		}
		if affected == 0 {
			return dErrors.Newf(dErrors.CodeNotFound, "update target %s not found", op.Key)
		}
	case OpDelete:
		_, err := tx.ExecContext(ctx, `
			DELETE FROM documents WHERE tenant_id = $1 AND collection = $2 AND id = $3
		`, op.Key.TenantID, op.Key.Collection, op.Key.ID)
		if err != nil {
			return fmt.Errorf("delete %s: %w", op.Key, err)
		}
	default:
		return dErrors.Newf(dErrors.CodeBadRequest, "unknown op kind %d", int(op.Kind))
	}
	return nil
}

func decodePayload(raw []byte) (map[string]any, error) {
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	return data, nil
}
