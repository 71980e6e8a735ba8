package stats

import (
	"fmt"
	"time"

	"github.com/i474232898/airquality-daily-stats/internal/tz"
)

// Bucketizer turns calendar days into local-time windows for a coordinate.
type Bucketizer struct {
	resolver tz.Resolver
}

// NewBucketizer creates a Bucketizer using the given timezone resolver.
func NewBucketizer(resolver tz.Resolver) *Bucketizer {
	return &Bucketizer{resolver: resolver}
}

// DayWindow computes the window for the given day of year. dayOfYear is
// normalised like time.Date, so day 366 of a common year is January 1st of the
// following year.
//
// The offsets at UTC midnight, UTC noon and the next UTC midnight are resolved
// independently, so a window spanning a DST change is 23 or 25 hours long.
func (b *Bucketizer) DayWindow(lat, lon float64, year, dayOfYear int) (DayWindow, error) {
	start := time.Date(year, time.January, dayOfYear, 0, 0, 0, 0, time.UTC)
	noon := time.Date(year, time.January, dayOfYear, 12, 0, 0, 0, time.UTC)
	end := time.Date(year, time.January, dayOfYear+1, 0, 0, 0, 0, time.UTC)

	startMillis, err := b.localMillis(lat, lon, start)
	if err != nil {
		return DayWindow{}, err
	}
	noonMillis, err := b.localMillis(lat, lon, noon)
	if err != nil {
		return DayWindow{}, err
	}
	endMillis, err := b.localMillis(lat, lon, end)
	if err != nil {
		return DayWindow{}, err
	}

	return DayWindow{
		StartMillis: startMillis,
		NoonMillis:  noonMillis,
		EndMillis:   endMillis,
	}, nil
}

// YearWindows returns the windows of every calendar day of year, in order.
func (b *Bucketizer) YearWindows(lat, lon float64, year int) ([]DayWindow, error) {
	windows := make([]DayWindow, 0, 366)
	for day := 1; ; day++ {
		w, err := b.DayWindow(lat, lon, year, day)
		if err != nil {
			return nil, err
		}
		windows = append(windows, w)

		// stop once the next day's UTC start has rolled into the following year
		if time.Date(year, time.January, day+1, 0, 0, 0, 0, time.UTC).Year() != year {
			break
		}
	}
	return windows, nil
}

func (b *Bucketizer) localMillis(lat, lon float64, instant time.Time) (int64, error) {
	offset, err := b.resolver.OffsetAt(lat, lon, instant)
	if err != nil {
		return 0, fmt.Errorf("%w at %s: %w", ErrTimezoneResolution, instant.Format(time.RFC3339), err)
	}
	return instant.UnixMilli() - offset.Milliseconds(), nil
}
