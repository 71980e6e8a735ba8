// Package store holds the time-series datastore that daily statistics are
// imported into. Values are grouped by owner user, device and channel.
package store

import (
	"errors"
	"fmt"

	"github.com/i474232898/airquality-daily-stats/internal/stats"
)

var (
	// ErrNotFound is returned when no data is available for a channel.
	ErrNotFound = errors.New("no data for channel")
	// ErrInvalidUser is returned for non-positive owner user ids.
	ErrInvalidUser = errors.New("user id must be a positive integer")
	// ErrInvalidDevice is returned for empty device names.
	ErrInvalidDevice = errors.New("device name must not be empty")
)

// Point is one stored value of a channel, at a timestamp in epoch seconds.
type Point struct {
	TimestampSecs int64   `json:"t"`
	Value         float64 `json:"v"`
}

// ChannelKey identifies one channel of one device of one user.
type ChannelKey struct {
	UserID  int64
	Device  string
	Channel string
}

func (k ChannelKey) String() string {
	return fmt.Sprintf("%d:%s:%s", k.UserID, k.Device, k.Channel)
}

// ImportSummary reports what an import wrote.
type ImportSummary struct {
	Channels int
	Points   int
}

func validateTarget(userID int64, device string) error {
	if userID <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidUser, userID)
	}
	if device == "" {
		return ErrInvalidDevice
	}
	return nil
}

// channelWrites holds what one import does to a channel: points to store and
// timestamps whose value is now null and must be removed.
type channelWrites struct {
	Set   []Point
	Clear []int64
}

// explode turns a statistics artifact into per-channel writes. Null values are
// not stored; they clear whatever an earlier import left at that timestamp.
func explode(out *stats.FeedStatsOutput) (map[string]*channelWrites, error) {
	if err := out.Validate(); err != nil {
		return nil, err
	}

	writes := make(map[string]*channelWrites, len(out.ChannelNames))
	for _, name := range out.ChannelNames {
		writes[name] = &channelWrites{}
	}
	for _, rec := range out.Data {
		for i, v := range rec.Flat() {
			w := writes[out.ChannelNames[i]]
			if v == nil {
				w.Clear = append(w.Clear, rec.TimestampSecs)
				continue
			}
			w.Set = append(w.Set, Point{TimestampSecs: rec.TimestampSecs, Value: *v})
		}
	}
	return writes, nil
}
