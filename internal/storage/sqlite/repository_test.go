package sqlite

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/italolelis/yuque_exporter/internal/storage"
	"github.com/italolelis/yuque_exporter/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := InitDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db
}

func TestInitDB_Idempotent(t *testing.T) {
	db := openDB(t)

	for _, stmt := range schema {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
}

func TestCapabilityRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewInstrumentedCapabilityRepository(openDB(t), nil)

	_, err := repo.GetCapability(ctx, "yuque_vault_handle")
	require.ErrorIs(t, err, storage.ErrNotFound)

	saved := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.PutCapability(ctx, storage.CapabilityRecord{
		Key: "yuque_vault_handle", Root: "/notes", SavedAt: saved,
	}))

	got, err := repo.GetCapability(ctx, "yuque_vault_handle")
	require.NoError(t, err)
	assert.Equal(t, "/notes", got.Root)
	assert.True(t, saved.Equal(got.SavedAt))

	require.NoError(t, repo.PutCapability(ctx, storage.CapabilityRecord{
		Key: "yuque_vault_handle", Root: "/other", SavedAt: saved.Add(time.Hour),
	}))

	got, err = repo.GetCapability(ctx, "yuque_vault_handle")
	require.NoError(t, err)
	assert.Equal(t, "/other", got.Root)

	require.NoError(t, repo.DeleteCapability(ctx, "yuque_vault_handle"))
	require.NoError(t, repo.DeleteCapability(ctx, "yuque_vault_handle"))

	_, err = repo.GetCapability(ctx, "yuque_vault_handle")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestExportRepository(t *testing.T) {
	tel, err := telemetry.New(context.Background(), telemetry.Config{})
	require.NoError(t, err)

	ctx := context.Background()
	repo := NewInstrumentedExportRepository(openDB(t), tel)
	base := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.StartExport(ctx, storage.ExportRecord{ID: "a", PageURL: "https://www.yuque.com/a", StartedAt: base}))
	require.NoError(t, repo.StartExport(ctx, storage.ExportRecord{ID: "b", PageURL: "https://www.yuque.com/b", StartedAt: base.Add(time.Minute)}))

	require.NoError(t, repo.FinishExport(ctx, storage.ExportRecord{
		ID: "a", Filename: "Doc.md", State: storage.ExportDone, Stage: "done",
		Assets: 2, Replaced: 2, FinishedAt: base.Add(30 * time.Second),
	}))

	list, err := repo.ListExports(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)

	assert.Equal(t, "b", list[0].ID)
	assert.Equal(t, storage.ExportRunning, list[0].State)
	assert.True(t, list[0].FinishedAt.IsZero())

	assert.Equal(t, "a", list[1].ID)
	assert.Equal(t, "Doc.md", list[1].Filename)
	assert.Equal(t, storage.ExportDone, list[1].State)
	assert.Equal(t, 2, list[1].Assets)

	limited, err := repo.ListExports(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	err = repo.FinishExport(ctx, storage.ExportRecord{ID: "missing", State: storage.ExportFailed})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
