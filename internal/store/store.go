// Package store persists facilities, occupancy history, and LPR reads. Two
// backends implement the same Store contract: Postgres (PostGIS) for shared
// deployments and SQLite for local use.
package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/campus-mobility/parkwatch/internal/model"
)

// Storage error taxonomy. Backend-specific error representations (pgx error
// codes, sqlite result codes) are translated into these at this boundary so
// core logic never inspects a driver error.
var (
	ErrNotFound      = eris.New("store: not found")
	ErrDuplicateName = eris.New("store: facility name already exists")
	ErrUnavailable   = eris.New("store: storage unavailable")
)

// ReadFilter selects LPR reads by exact match on the indexed columns. Empty
// fields are ignored.
type ReadFilter struct {
	Plate      string
	CameraName string
	State      string
	Limit      int
}

// Store is the persistence contract shared by both backends.
//
// RegisterFacility is an idempotent upsert-by-name: when the name already
// exists the stored facility is returned unchanged with created=false.
// AdjustOccupancy serializes concurrent adjusts per facility and appends the
// post-adjust snapshot to the history in the same transaction.
type Store interface {
	RegisterFacility(ctx context.Context, f *model.Facility) (stored *model.Facility, created bool, err error)
	GetFacility(ctx context.Context, id uuid.UUID) (*model.Facility, error)
	ListFacilities(ctx context.Context) ([]model.Facility, error)
	DeleteFacility(ctx context.Context, id uuid.UUID) error

	AdjustOccupancy(ctx context.Context, id uuid.UUID, category string, delta int) (int, error)
	GetOccupancy(ctx context.Context, id uuid.UUID) (model.Occupancy, error)
	ListOccupancyHistory(ctx context.Context, id uuid.UUID, limit int) ([]model.OccupancyRecord, error)

	InsertRead(ctx context.Context, r *model.LPRRead) error
	FindReads(ctx context.Context, filter ReadFilter) ([]model.LPRRead, error)

	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// NewRecordID mints a time-ordered (v7) UUID for facilities, history rows,
// and reads. Falls back to random v4 only if the entropy source fails.
func NewRecordID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}
