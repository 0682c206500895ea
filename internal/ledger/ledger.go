// Package ledger maintains per-facility occupancy counters and their
// append-only history. Every successful adjust commits exactly one history
// row in the same transaction as the counter change, so the history is a
// gap-free audit trail.
package ledger

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campus-mobility/parkwatch/internal/model"
	"github.com/campus-mobility/parkwatch/internal/store"
)

// Service exposes occupancy mutation and readback over a Store.
type Service struct {
	store store.Store
}

// New creates a ledger Service.
func New(st store.Store) *Service {
	return &Service{store: st}
}

// Adjust atomically applies delta to occupancy[category] for the facility and
// returns the new count. Adjusts on the same facility are linearized by the
// store; a result below zero or an unknown category rejects the call in full.
func (s *Service) Adjust(ctx context.Context, facilityID uuid.UUID, category string, delta int) (int, error) {
	count, err := s.store.AdjustOccupancy(ctx, facilityID, category, delta)
	if err != nil {
		return 0, err
	}
	zap.L().Debug("ledger: occupancy adjusted",
		zap.String("facility_id", facilityID.String()),
		zap.String("category", category),
		zap.Int("delta", delta),
		zap.Int("count", count),
	)
	return count, nil
}

// Snapshot returns the current occupancy counters for a facility.
func (s *Service) Snapshot(ctx context.Context, facilityID uuid.UUID) (model.Occupancy, error) {
	return s.store.GetOccupancy(ctx, facilityID)
}

// History returns up to limit history records for a facility, oldest first.
// Replaying the records in order reconstructs the committed counter sequence.
func (s *Service) History(ctx context.Context, facilityID uuid.UUID, limit int) ([]model.OccupancyRecord, error) {
	return s.store.ListOccupancyHistory(ctx, facilityID, limit)
}
