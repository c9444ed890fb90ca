package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a keyed record does not exist.
var ErrNotFound = errors.New("record not found")

// CapabilityRecord is the persisted form of a granted vault directory.
type CapabilityRecord struct {
	Key     string
	Root    string
	SavedAt time.Time
}

// Export run states as stored in the history table.
const (
	ExportRunning = "running"
	ExportDone    = "done"
	ExportFailed  = "failed"
)

// ExportRecord is one row of export history.
type ExportRecord struct {
	ID         string
	PageURL    string
	Filename   string
	State      string
	Stage      string
	Error      string
	Assets     int
	Replaced   int
	StartedAt  time.Time
	FinishedAt time.Time
}

type CapabilityRepository interface {
	PutCapability(ctx context.Context, rec CapabilityRecord) error
	// GetCapability returns ErrNotFound when nothing is stored under key.
	GetCapability(ctx context.Context, key string) (CapabilityRecord, error)
	DeleteCapability(ctx context.Context, key string) error
}

type ExportRepository interface {
	StartExport(ctx context.Context, rec ExportRecord) error
	FinishExport(ctx context.Context, rec ExportRecord) error
	// ListExports returns the most recent runs first.
	ListExports(ctx context.Context, limit int) ([]ExportRecord, error)
}
