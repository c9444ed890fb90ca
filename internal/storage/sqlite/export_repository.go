package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/italolelis/yuque_exporter/internal/storage"
)

// ExportRepository keeps the history of export runs.
type ExportRepository struct {
	db *sql.DB
}

func NewExportRepository(db *sql.DB) *ExportRepository {
	return &ExportRepository{db: db}
}

func (r *ExportRepository) StartExport(ctx context.Context, rec storage.ExportRecord) error {
	state := rec.State
	if state == "" {
		state = storage.ExportRunning
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO exports (id, page_url, state, started_at) VALUES (?, ?, ?, ?)`,
		rec.ID, rec.PageURL, state, rec.StartedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record export start: %w", err)
	}

	return nil
}

func (r *ExportRepository) FinishExport(ctx context.Context, rec storage.ExportRecord) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE exports
		SET filename = ?, state = ?, stage = ?, error = ?, assets = ?, replaced = ?, finished_at = ?
		WHERE id = ?
	`, rec.Filename, rec.State, rec.Stage, rec.Error, rec.Assets, rec.Replaced, rec.FinishedAt.UTC(), rec.ID)
	if err != nil {
		return fmt.Errorf("failed to record export finish: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return fmt.Errorf("export %s: %w", rec.ID, storage.ErrNotFound)
	}

	return nil
}

func (r *ExportRepository) ListExports(ctx context.Context, limit int) ([]storage.ExportRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, page_url, filename, state, stage, error, assets, replaced, started_at, finished_at
		FROM exports
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list exports: %w", err)
	}
	defer rows.Close()

	var records []storage.ExportRecord

	for rows.Next() {
		var (
			rec      storage.ExportRecord
			finished sql.NullTime
		)

		if err := rows.Scan(&rec.ID, &rec.PageURL, &rec.Filename, &rec.State, &rec.Stage, &rec.Error,
			&rec.Assets, &rec.Replaced, &rec.StartedAt, &finished); err != nil {
			return nil, err
		}

		if finished.Valid {
			rec.FinishedAt = finished.Time
		}

		records = append(records, rec)
	}

	return records, rows.Err()
}
