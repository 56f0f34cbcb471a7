package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// IdempotencyRecord maps a caller-supplied key to the hash of the
// request that first used it and the response that was produced.
type IdempotencyRecord struct {
	Key          string
	RequestHash  string
	ResponseJSON string
	CreatedAt    time.Time
}

// GetIdempotency looks up a ledger record by key.
func (s *Store) GetIdempotency(ctx context.Context, key string) (IdempotencyRecord, bool, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT key, request_hash, response_json, created_at FROM idempotency_keys WHERE key = ?", key)

	var rec IdempotencyRecord
	var createdAt int64
	if err := row.Scan(&rec.Key, &rec.RequestHash, &rec.ResponseJSON, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return IdempotencyRecord{}, false, nil
		}
		return IdempotencyRecord{}, false, fmt.Errorf("read idempotency record: %w", err)
	}
	rec.CreatedAt = time.UnixMilli(createdAt).UTC()
	return rec, true, nil
}

// PutIdempotencyOnce inserts a ledger record if the key is absent.
// Concurrent first-writers race through the primary-key constraint:
// on a uniqueness violation the existing record is re-read and its hash
// compared. A matching hash means another writer already cached the
// same logical response and the call succeeds; a mismatch is
// ErrConflict, surfaced to the caller rather than silently overwritten.
func (s *Store) PutIdempotencyOnce(ctx context.Context, rec IdempotencyRecord) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO idempotency_keys (key, request_hash, response_json, created_at) VALUES (?, ?, ?, ?)",
		rec.Key, rec.RequestHash, rec.ResponseJSON, time.Now().UTC().UnixMilli())
	if err == nil {
		return nil
	}
	if !isConstraintError(err) {
		return fmt.Errorf("insert idempotency record: %w", err)
	}

	existing, ok, readErr := s.GetIdempotency(ctx, rec.Key)
	if readErr != nil {
		return readErr
	}
	if !ok {
		return fmt.Errorf("insert idempotency record: %w", err)
	}
	if existing.RequestHash != rec.RequestHash {
		return ErrConflict
	}
	return nil
}
