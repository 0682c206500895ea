// Package registry manages the set of parking facilities: identity,
// name uniqueness, and location. Registration is an administrative path and
// is idempotent by name so fixture loads can be re-run safely.
package registry

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/campus-mobility/parkwatch/internal/geo"
	"github.com/campus-mobility/parkwatch/internal/model"
	"github.com/campus-mobility/parkwatch/internal/store"
)

var (
	ErrInvalidName     = eris.New("registry: facility name must not be blank")
	ErrInvalidCapacity = eris.New("registry: capacity counts must be non-negative")
)

// Service exposes facility registration and lookup over a Store.
type Service struct {
	store store.Store
}

// New creates a registry Service.
func New(st store.Store) *Service {
	return &Service{store: st}
}

// Register inserts a facility with zeroed occupancy for every category in
// maxOccupancy. Registering a name that already exists returns the stored
// facility untouched with created=false; callers rely on safe re-registration.
func (s *Service) Register(ctx context.Context, name string, maxOccupancy model.Occupancy, location geo.Point) (*model.Facility, bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, false, ErrInvalidName
	}
	if err := location.Validate(); err != nil {
		return nil, false, err
	}
	for category, capacity := range maxOccupancy {
		if capacity < 0 {
			return nil, false, eris.Wrapf(ErrInvalidCapacity, "category %q: %d", category, capacity)
		}
	}

	f := &model.Facility{
		ID:           store.NewRecordID(),
		Name:         name,
		Location:     location,
		Occupancy:    model.ZeroedOccupancy(maxOccupancy),
		MaxOccupancy: maxOccupancy.Clone(),
	}

	stored, created, err := s.store.RegisterFacility(ctx, f)
	if err != nil {
		return nil, false, err
	}
	if created {
		zap.L().Info("registry: facility registered",
			zap.String("facility_id", stored.ID.String()),
			zap.String("name", stored.Name),
		)
	} else {
		zap.L().Debug("registry: facility already registered",
			zap.String("facility_id", stored.ID.String()),
			zap.String("name", stored.Name),
		)
	}
	return stored, created, nil
}

// Get returns a facility by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.Facility, error) {
	return s.store.GetFacility(ctx, id)
}

// List returns all registered facilities. Ordering is unspecified.
func (s *Service) List(ctx context.Context) ([]model.Facility, error) {
	return s.store.ListFacilities(ctx)
}

// Delete removes a facility and, by cascade, its occupancy history.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.store.DeleteFacility(ctx, id); err != nil {
		return err
	}
	zap.L().Info("registry: facility deleted", zap.String("facility_id", id.String()))
	return nil
}
