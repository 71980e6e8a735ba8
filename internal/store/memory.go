package store

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/i474232898/airquality-daily-stats/internal/stats"
)

// ChannelHistory holds the time-ordered points of one channel.
type ChannelHistory struct {
	Points []Point
}

// MemoryStore is a concurrency-safe in-memory implementation of the datastore.
type MemoryStore struct {
	mu sync.RWMutex

	// key: ChannelKey.String(), value: history
	data map[string]*ChannelHistory

	// key: "user:device", value: channel names
	devices map[string]map[string]struct{}
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data:    make(map[string]*ChannelHistory),
		devices: make(map[string]map[string]struct{}),
	}
}

// ImportJSON merges a statistics artifact into the device's channels. Points
// at an existing timestamp replace the stored value.
func (s *MemoryStore) ImportJSON(ctx context.Context, userID int64, device string, out *stats.FeedStatsOutput) (ImportSummary, error) {
	if err := validateTarget(userID, device); err != nil {
		return ImportSummary{}, err
	}
	writes, err := explode(out)
	if err != nil {
		return ImportSummary{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	devKey := ChannelKey{UserID: userID, Device: device}.String()
	channels, ok := s.devices[devKey]
	if !ok {
		channels = make(map[string]struct{})
		s.devices[devKey] = channels
	}

	summary := ImportSummary{}
	for name, w := range writes {
		key := ChannelKey{UserID: userID, Device: device, Channel: name}.String()
		history, ok := s.data[key]
		if !ok {
			if len(w.Set) == 0 {
				continue
			}
			history = &ChannelHistory{}
			s.data[key] = history
		}
		history.Points = mergePoints(history.Points, w.Set, w.Clear)
		if len(w.Set) == 0 {
			continue
		}
		channels[name] = struct{}{}

		summary.Channels++
		summary.Points += len(w.Set)
	}
	return summary, nil
}

// Channels lists the channel names of a device, sorted.
func (s *MemoryStore) Channels(ctx context.Context, userID int64, device string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	channels, ok := s.devices[ChannelKey{UserID: userID, Device: device}.String()]
	if !ok || len(channels) == 0 {
		return nil, ErrNotFound
	}
	names := make([]string, 0, len(channels))
	for name := range channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// GetRange returns the points of a channel between from and to (inclusive).
func (s *MemoryStore) GetRange(ctx context.Context, key ChannelKey, from, to int64) ([]Point, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.data[key.String()]
	if !ok || len(history.Points) == 0 {
		return nil, ErrNotFound
	}

	var result []Point
	for _, p := range history.Points {
		if p.TimestampSecs >= from && p.TimestampSecs <= to {
			result = append(result, p)
		}
	}

	if len(result) == 0 {
		return nil, ErrNotFound
	}

	return result, nil
}

// mergePoints merges incoming into existing, both ascending; incoming wins on
// equal timestamps. Cleared timestamps are dropped.
func mergePoints(existing, incoming []Point, cleared []int64) []Point {
	byTS := make(map[int64]float64, len(existing)+len(incoming))
	for _, p := range existing {
		byTS[p.TimestampSecs] = p.Value
	}
	for _, ts := range cleared {
		delete(byTS, ts)
	}
	for _, p := range incoming {
		byTS[p.TimestampSecs] = p.Value
	}

	merged := make([]Point, 0, len(byTS))
	for ts, v := range byTS {
		merged = append(merged, Point{TimestampSecs: ts, Value: v})
	}
	slices.SortFunc(merged, func(a, b Point) int {
		switch {
		case a.TimestampSecs < b.TimestampSecs:
			return -1
		case a.TimestampSecs > b.TimestampSecs:
			return 1
		}
		return 0
	})
	return merged
}
