// Package model defines the domain entities shared by the registry, ledger,
// ingestor, and both storage backends.
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/campus-mobility/parkwatch/internal/geo"
)

// Domain invariant violations surfaced by occupancy arithmetic. These are
// checked before any mutation so a failed adjust leaves state untouched.
var (
	ErrInvalidCategory   = eris.New("model: unknown occupancy category")
	ErrNegativeOccupancy = eris.New("model: occupancy cannot go negative")
)

// Occupancy maps a category name (e.g. "student", "employee") to a
// non-negative count. Categories are an open key set, not an enum.
type Occupancy map[string]int

// Clone returns an independent copy of the occupancy map.
func (o Occupancy) Clone() Occupancy {
	c := make(Occupancy, len(o))
	for k, v := range o {
		c[k] = v
	}
	return c
}

// Adjust applies delta to the given category in place and returns the new
// count. It fails without mutating when the category is not part of the
// facility's schema or when the result would drop below zero.
func (o Occupancy) Adjust(category string, delta int) (int, error) {
	cur, ok := o[category]
	if !ok {
		return 0, eris.Wrapf(ErrInvalidCategory, "category %q", category)
	}
	next := cur + delta
	if next < 0 {
		return 0, eris.Wrapf(ErrNegativeOccupancy, "category %q: %d%+d", category, cur, delta)
	}
	o[category] = next
	return next, nil
}

// ZeroedOccupancy builds the initial occupancy for a new facility: every
// category of the capacity schema present with a count of zero.
func ZeroedOccupancy(maxOccupancy Occupancy) Occupancy {
	z := make(Occupancy, len(maxOccupancy))
	for k := range maxOccupancy {
		z[k] = 0
	}
	return z
}

// Facility is a physical parking facility with its live occupancy counters.
type Facility struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Location     geo.Point `json:"location"`
	Occupancy    Occupancy `json:"occupancy"`
	MaxOccupancy Occupancy `json:"max_occupancy"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// OccupancyRecord is one append-only history row: the full occupancy snapshot
// taken when an adjust committed. Immutable once written; deleted only by
// facility cascade.
type OccupancyRecord struct {
	ID         uuid.UUID `json:"id"`
	FacilityID uuid.UUID `json:"facility_id"`
	Occupancy  Occupancy `json:"occupancy"`
	CreatedAt  time.Time `json:"created_at"`
}
