// Package geo provides pure geodesic primitives over WGS84 lat/lon points:
// great-circle distance, initial bearing, and coordinate validation.
package geo

import (
	"math"

	"github.com/rotisserie/eris"
)

// earthRadiusM is the WGS84 mean earth radius in meters.
const earthRadiusM = 6371008.8

// ErrOutOfRange marks coordinates outside WGS84 bounds.
var ErrOutOfRange = eris.New("geo: coordinate out of range")

// Point is a geographic coordinate in degrees (WGS84).
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Validate checks that the point lies within valid geographic bounds.
func (p Point) Validate() error {
	if math.IsNaN(p.Lat) || p.Lat < -90 || p.Lat > 90 {
		return eris.Wrapf(ErrOutOfRange, "latitude %v not in [-90, 90]", p.Lat)
	}
	if math.IsNaN(p.Lon) || p.Lon < -180 || p.Lon > 180 {
		return eris.Wrapf(ErrOutOfRange, "longitude %v not in [-180, 180]", p.Lon)
	}
	return nil
}

// Distance returns the great-circle distance between a and b in meters,
// computed with the haversine formula on a spherical earth model. It is
// symmetric, non-negative, and zero iff a == b.
func Distance(a, b Point) float64 {
	if a == b {
		return 0
	}

	lat1 := radians(a.Lat)
	lat2 := radians(b.Lat)
	dLat := radians(b.Lat - a.Lat)
	dLon := radians(b.Lon - a.Lon)

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLon*sinLon

	// Floating-point roundoff can push h a hair outside [0, 1], which would
	// make Asin return NaN for antipodal inputs. Clamp before the root.
	if h > 1 {
		h = 1
	} else if h < 0 {
		h = 0
	}

	return 2 * earthRadiusM * math.Asin(math.Sqrt(h))
}

// Bearing returns the initial compass bearing in degrees clockwise from true
// north when travelling from one point toward another, normalized to
// [0, 360). The bearing of a point toward itself is undefined; 0 is returned
// as the documented sentinel.
func Bearing(from, to Point) float64 {
	if from == to {
		return 0
	}

	lat1 := radians(from.Lat)
	lat2 := radians(to.Lat)
	dLon := radians(to.Lon - from.Lon)

	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)

	deg := math.Mod(degrees(math.Atan2(y, x))+360, 360)
	if deg >= 360 {
		deg = 0
	}
	return deg
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

func degrees(rad float64) float64 { return rad * 180 / math.Pi }
