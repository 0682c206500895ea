// Package proximity ranks registered facilities by geodesic distance from a
// query point and reports the initial bearing toward each shortlisted one.
package proximity

import (
	"bytes"
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/campus-mobility/parkwatch/internal/geo"
	"github.com/campus-mobility/parkwatch/internal/model"
)

// FacilityLister is the read-only slice of the registry the engine needs.
type FacilityLister interface {
	ListFacilities(ctx context.Context) ([]model.Facility, error)
}

// Result is one ranked row of a nearest-facility query.
type Result struct {
	FacilityID uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Location   geo.Point `json:"location"`
	DistanceM  float64   `json:"distance_m"`
	BearingDeg float64   `json:"bearing_deg"`
}

// Engine answers nearest-facility queries. It is read-only and safe for
// concurrent use.
type Engine struct {
	facilities FacilityLister
}

// New creates a query Engine over a facility source.
func New(facilities FacilityLister) *Engine {
	return &Engine{facilities: facilities}
}

// Nearest returns the k facilities closest to origin, ascending by distance,
// with the bearing from origin toward each. k is clamped to at least 1; the
// result length is min(k, registry size), so an empty registry yields an
// empty result, not an error.
//
// Distances are computed for every facility, but bearings only for the
// shortlist that is actually returned.
func (e *Engine) Nearest(ctx context.Context, origin geo.Point, k int) ([]Result, error) {
	if err := origin.Validate(); err != nil {
		return nil, err
	}
	if k < 1 {
		k = 1
	}

	facilities, err := e.facilities.ListFacilities(ctx)
	if err != nil {
		return nil, err
	}

	candidates := make([]Result, 0, len(facilities))
	for _, f := range facilities {
		candidates = append(candidates, Result{
			FacilityID: f.ID,
			Name:       f.Name,
			Location:   f.Location,
			DistanceM:  geo.Distance(origin, f.Location),
		})
	}

	// Equal distances fall back to identity so the ranking is deterministic.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].DistanceM != candidates[j].DistanceM {
			return candidates[i].DistanceM < candidates[j].DistanceM
		}
		return bytes.Compare(candidates[i].FacilityID[:], candidates[j].FacilityID[:]) < 0
	})

	if k > len(candidates) {
		k = len(candidates)
	}
	shortlist := candidates[:k]
	for i := range shortlist {
		shortlist[i].BearingDeg = geo.Bearing(origin, shortlist[i].Location)
	}
	return shortlist, nil
}
