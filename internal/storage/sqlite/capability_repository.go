package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/italolelis/yuque_exporter/internal/storage"
)

// CapabilityRepository stores vault capability records keyed by name.
type CapabilityRepository struct {
	db *sql.DB
}

func NewCapabilityRepository(db *sql.DB) *CapabilityRepository {
	return &CapabilityRepository{db: db}
}

// PutCapability inserts or overwrites the record under rec.Key.
func (r *CapabilityRepository) PutCapability(ctx context.Context, rec storage.CapabilityRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO capabilities (key, root, saved_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET root = excluded.root, saved_at = excluded.saved_at
	`, rec.Key, rec.Root, rec.SavedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to put capability %q: %w", rec.Key, err)
	}

	return nil
}

func (r *CapabilityRepository) GetCapability(ctx context.Context, key string) (storage.CapabilityRecord, error) {
	rec := storage.CapabilityRecord{Key: key}

	err := r.db.QueryRowContext(ctx, `SELECT root, saved_at FROM capabilities WHERE key = ?`, key).
		Scan(&rec.Root, &rec.SavedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.CapabilityRecord{}, storage.ErrNotFound
	}

	if err != nil {
		return storage.CapabilityRecord{}, fmt.Errorf("failed to get capability %q: %w", key, err)
	}

	return rec, nil
}

// DeleteCapability removes the record. Deleting a missing key is not an error.
func (r *CapabilityRepository) DeleteCapability(ctx context.Context, key string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM capabilities WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete capability %q: %w", key, err)
	}

	return nil
}
