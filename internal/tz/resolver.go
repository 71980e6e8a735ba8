// Package tz resolves the UTC offset in effect at a coordinate and instant.
package tz

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
	_ "time/tzdata" // zone rules must not depend on the host's zoneinfo

	"github.com/ringsaturn/tzf"
)

var (
	// ErrNoTimezone is returned when no timezone polygon contains the coordinate.
	ErrNoTimezone = errors.New("no timezone for coordinate")
	// ErrInvalidCoordinate is returned for latitudes/longitudes outside the valid range.
	ErrInvalidCoordinate = errors.New("invalid coordinate")
)

// Resolver returns the UTC offset in effect at a coordinate for a given instant.
// Implementations must be safe for concurrent use.
type Resolver interface {
	OffsetAt(lat, lon float64, instant time.Time) (time.Duration, error)
}

// Finder resolves offsets by looking up the IANA zone containing the
// coordinate and applying that zone's rules at the requested instant.
type Finder struct {
	finder tzf.F

	// key: coordinate, value: *time.Location
	locations sync.Map
}

// NewFinder builds a Finder from the polygon data embedded in tzf.
// Construction is expensive; build one per process and share it.
func NewFinder() (*Finder, error) {
	f, err := tzf.NewDefaultFinder()
	if err != nil {
		return nil, fmt.Errorf("load timezone polygons: %w", err)
	}
	return &Finder{finder: f}, nil
}

// ZoneName returns the IANA zone name for the coordinate.
func (f *Finder) ZoneName(lat, lon float64) (string, error) {
	if err := validate(lat, lon); err != nil {
		return "", err
	}
	name := f.finder.GetTimezoneName(lon, lat)
	if name == "" {
		return "", fmt.Errorf("%w: (%f, %f)", ErrNoTimezone, lat, lon)
	}
	return name, nil
}

// Location returns the zone containing the coordinate, cached per coordinate.
func (f *Finder) Location(lat, lon float64) (*time.Location, error) {
	key := [2]float64{lat, lon}
	if loc, ok := f.locations.Load(key); ok {
		return loc.(*time.Location), nil
	}

	name, err := f.ZoneName(lat, lon)
	if err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load zone %q: %w", name, err)
	}

	actual, _ := f.locations.LoadOrStore(key, loc)
	return actual.(*time.Location), nil
}

// OffsetAt implements Resolver.
func (f *Finder) OffsetAt(lat, lon float64, instant time.Time) (time.Duration, error) {
	loc, err := f.Location(lat, lon)
	if err != nil {
		return 0, err
	}
	return offsetIn(loc, instant), nil
}

// LocationResolver applies a single zone's rules regardless of coordinate.
type LocationResolver struct {
	Loc *time.Location
}

// NewLocationResolver loads the named zone.
func NewLocationResolver(name string) (*LocationResolver, error) {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load zone %q: %w", name, err)
	}
	return &LocationResolver{Loc: loc}, nil
}

// OffsetAt implements Resolver.
func (r *LocationResolver) OffsetAt(lat, lon float64, instant time.Time) (time.Duration, error) {
	if err := validate(lat, lon); err != nil {
		return 0, err
	}
	if r.Loc == nil {
		return 0, ErrNoTimezone
	}
	return offsetIn(r.Loc, instant), nil
}

func offsetIn(loc *time.Location, instant time.Time) time.Duration {
	_, secs := instant.In(loc).Zone()
	return time.Duration(secs) * time.Second
}

func validate(lat, lon float64) error {
	if math.IsNaN(lat) || math.IsNaN(lon) || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return fmt.Errorf("%w: (%f, %f)", ErrInvalidCoordinate, lat, lon)
	}
	return nil
}
