package sqlite

import (
	"context"
	"database/sql"

	"github.com/italolelis/yuque_exporter/internal/storage"
	"github.com/italolelis/yuque_exporter/internal/telemetry"
)

// InstrumentedCapabilityRepository wraps CapabilityRepository with telemetry.
type InstrumentedCapabilityRepository struct {
	repo      *CapabilityRepository
	telemetry *telemetry.Telemetry
}

func NewInstrumentedCapabilityRepository(db *sql.DB, tel *telemetry.Telemetry) *InstrumentedCapabilityRepository {
	return &InstrumentedCapabilityRepository{repo: NewCapabilityRepository(db), telemetry: tel}
}

func (r *InstrumentedCapabilityRepository) PutCapability(ctx context.Context, rec storage.CapabilityRecord) error {
	return r.telemetry.InstrumentDBOperation(ctx, "put_capability", func(ctx context.Context) error {
		return r.repo.PutCapability(ctx, rec)
	})
}

func (r *InstrumentedCapabilityRepository) GetCapability(ctx context.Context, key string) (storage.CapabilityRecord, error) {
	var result storage.CapabilityRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "get_capability", func(ctx context.Context) error {
		var err error
		result, err = r.repo.GetCapability(ctx, key)

		return err
	})

	return result, err
}

func (r *InstrumentedCapabilityRepository) DeleteCapability(ctx context.Context, key string) error {
	return r.telemetry.InstrumentDBOperation(ctx, "delete_capability", func(ctx context.Context) error {
		return r.repo.DeleteCapability(ctx, key)
	})
}

// InstrumentedExportRepository wraps ExportRepository with telemetry.
type InstrumentedExportRepository struct {
	repo      *ExportRepository
	telemetry *telemetry.Telemetry
}

func NewInstrumentedExportRepository(db *sql.DB, tel *telemetry.Telemetry) *InstrumentedExportRepository {
	return &InstrumentedExportRepository{repo: NewExportRepository(db), telemetry: tel}
}

func (r *InstrumentedExportRepository) StartExport(ctx context.Context, rec storage.ExportRecord) error {
	return r.telemetry.InstrumentDBOperation(ctx, "start_export", func(ctx context.Context) error {
		return r.repo.StartExport(ctx, rec)
	})
}

func (r *InstrumentedExportRepository) FinishExport(ctx context.Context, rec storage.ExportRecord) error {
	return r.telemetry.InstrumentDBOperation(ctx, "finish_export", func(ctx context.Context) error {
		return r.repo.FinishExport(ctx, rec)
	})
}

func (r *InstrumentedExportRepository) ListExports(ctx context.Context, limit int) ([]storage.ExportRecord, error) {
	var result []storage.ExportRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "list_exports", func(ctx context.Context) error {
		var err error
		result, err = r.repo.ListExports(ctx, limit)

		return err
	})

	return result, err
}
