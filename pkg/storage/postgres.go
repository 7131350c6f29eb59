package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres stores documents in a single JSONB table, one row per record.
// Equality filters use JSONB containment so the GIN index applies.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a Postgres-backed document store.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Create inserts a record, assigning an id when absent.
func (s *Postgres) Create(ctx context.Context, collection string, record Record) (Record, error) {
	stored := cloneRecord(record)
	if stored.ID() == "" {
		stored["id"] = uuid.New().String()
	}
	data, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	const q = `INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3)`
	if _, err := s.pool.Exec(ctx, q, collection, stored.ID(), data); err != nil {
		return nil, fmt.Errorf("insert %s: %w", collection, err)
	}
	return stored, nil
}

// FindOne returns the first record matching the filter, or ErrNotFound.
func (s *Postgres) FindOne(ctx context.Context, collection string, filter Filter) (Record, error) {
	cond, err := json.Marshal(filter)
	if err != nil {
		return nil, fmt.Errorf("marshal filter: %w", err)
	}
	const q = `SELECT data FROM documents WHERE collection = $1 AND data @> $2 ORDER BY created_at LIMIT 1`
	var data []byte
	err = s.pool.QueryRow(ctx, q, collection, cond).Scan(&data)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find one %s: %w", collection, err)
	}
	return unmarshalRecord(data)
}

// Find returns all records matching the filter, oldest first.
func (s *Postgres) Find(ctx context.Context, collection string, filter Filter) ([]Record, error) {
	cond, err := json.Marshal(filter)
	if err != nil {
		return nil, fmt.Errorf("marshal filter: %w", err)
	}
	const q = `SELECT data FROM documents WHERE collection = $1 AND data @> $2 ORDER BY created_at`
	rows, err := s.pool.Query(ctx, q, collection, cond)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", collection, err)
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		rec, err := unmarshalRecord(data)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Update merges patch into the stored document and returns the result.
func (s *Postgres) Update(ctx context.Context, collection string, id string, patch Record) (Record, error) {
	data, err := json.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("marshal patch: %w", err)
	}
	const q = `UPDATE documents SET data = data || $3, updated_at = NOW()
		WHERE collection = $1 AND id = $2
		RETURNING data`
	var updated []byte
	err = s.pool.QueryRow(ctx, q, collection, id, data).Scan(&updated)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	return unmarshalRecord(updated)
}

// Delete removes a record. Missing records are ignored.
func (s *Postgres) Delete(ctx context.Context, collection string, id string) error {
	const q = `DELETE FROM documents WHERE collection = $1 AND id = $2`
	if _, err := s.pool.Exec(ctx, q, collection, id); err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	return nil
}

func unmarshalRecord(data []byte) (Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	return rec, nil
}

func cloneRecord(r Record) Record {
	out := make(Record, len(r)+1)
	for k, v := range r {
		out[k] = v
	}
	return out
}
