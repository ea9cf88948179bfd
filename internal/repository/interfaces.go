package repository

import (
	"context"
	"errors"
	"time"

	"listing-snapshot-api/internal/model"
)

var (
	// ErrNotFound is returned when no snapshot exists for the SKU.
	ErrNotFound = errors.New("repository: snapshot not found")
	// ErrConflict is returned when a replace could not be committed. The
	// previous snapshot is left intact and the whole replace may be retried.
	ErrConflict = errors.New("repository: persistence conflict")
)

// Pagination bounds for ListSnapshots.
const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// ListOptions selects one page of snapshots.
type ListOptions struct {
	Page  int    // 1-based
	Limit int    // page size, capped at MaxPageLimit
	Order string // "desc" (newest first, default) or "asc"
}

// Normalize applies defaults and bounds.
func (o ListOptions) Normalize() ListOptions {
	if o.Page < 1 {
		o.Page = 1
	}
	if o.Limit <= 0 {
		o.Limit = DefaultPageLimit
	}
	if o.Limit > MaxPageLimit {
		o.Limit = MaxPageLimit
	}
	if o.Order != "asc" {
		o.Order = "desc"
	}
	return o
}

// Offset returns the number of rows to skip.
func (o ListOptions) Offset() int {
	return (o.Page - 1) * o.Limit
}

// SnapshotRepository defines snapshot data access methods.
type SnapshotRepository interface {
	// ReplaceSnapshot deletes the SKU's snapshot and listings and inserts
	// the new ones as one unit. Failures wrap ErrConflict.
	ReplaceSnapshot(ctx context.Context, snapshot *model.Snapshot) error

	// GetSnapshot returns the snapshot with its listings, or ErrNotFound.
	GetSnapshot(ctx context.Context, sku string) (*model.Snapshot, error)

	// ListSnapshots returns one page of snapshots without listings and the total count.
	ListSnapshots(ctx context.Context, opts ListOptions) ([]model.Snapshot, int64, error)

	// ListStale returns up to limit SKUs whose snapshot is older than before, oldest first.
	ListStale(ctx context.Context, before time.Time, limit int) ([]string, error)

	// GetStats returns statistics about the snapshot database.
	GetStats(ctx context.Context) (map[string]interface{}, error)

	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// Close closes the repository connection.
	Close() error
}
