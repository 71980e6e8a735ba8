package stats

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

// Derived channel suffixes, in the order they appear for each base channel.
const (
	DailyMaxSuffix    = "_daily_max"
	DailyMeanSuffix   = "_daily_mean"
	DailyMedianSuffix = "_daily_median"
)

var (
	// ErrTimezoneResolution wraps resolver failures while building day windows.
	ErrTimezoneResolution = errors.New("timezone resolution failed")
	// ErrRecordShape is returned when a record does not match its channel list.
	ErrRecordShape = errors.New("record does not match channel names")
)

// DayWindow is one local calendar day at a feed's location, in UTC epoch
// milliseconds. The interval [StartMillis, EndMillis) is half-open.
type DayWindow struct {
	StartMillis int64
	NoonMillis  int64
	EndMillis   int64
}

// Contains reports whether ts falls inside the window.
func (w DayWindow) Contains(ts int64) bool {
	return ts >= w.StartMillis && ts < w.EndMillis
}

// ChannelStats is the (max, mean, median) triple of one channel for one day.
// All three are nil when the channel had no values that day.
type ChannelStats struct {
	Max    *float64
	Mean   *float64
	Median *float64
}

// DailyStatsRecord holds one day's statistics for every channel of a feed.
// It encodes as the flat array [timestampSecs, max, mean, median, max, ...].
type DailyStatsRecord struct {
	TimestampSecs int64
	Values        []ChannelStats
}

// Flat returns the statistic values in derived channel order.
func (r DailyStatsRecord) Flat() []*float64 {
	out := make([]*float64, 0, 3*len(r.Values))
	for _, v := range r.Values {
		out = append(out, v.Max, v.Mean, v.Median)
	}
	return out
}

func (r DailyStatsRecord) MarshalJSON() ([]byte, error) {
	row := make([]any, 0, 1+3*len(r.Values))
	row = append(row, r.TimestampSecs)
	for _, v := range r.Flat() {
		row = append(row, v)
	}
	return json.Marshal(row)
}

func (r *DailyStatsRecord) UnmarshalJSON(data []byte) error {
	var row []*float64
	if err := json.Unmarshal(data, &row); err != nil {
		return err
	}
	if len(row) == 0 || row[0] == nil {
		return fmt.Errorf("%w: missing timestamp", ErrRecordShape)
	}
	if (len(row)-1)%3 != 0 {
		return fmt.Errorf("%w: %d values is not a multiple of 3", ErrRecordShape, len(row)-1)
	}

	r.TimestampSecs = int64(*row[0])
	r.Values = make([]ChannelStats, 0, (len(row)-1)/3)
	for i := 1; i < len(row); i += 3 {
		r.Values = append(r.Values, ChannelStats{Max: row[i], Mean: row[i+1], Median: row[i+2]})
	}
	return nil
}

// FeedStatsOutput is the per-feed artifact persisted by the aggregate stage
// and consumed by the importer.
type FeedStatsOutput struct {
	ChannelNames []string           `json:"channel_names"`
	Data         []DailyStatsRecord `json:"data"`
}

// Validate checks that every record carries one value per derived channel.
func (o *FeedStatsOutput) Validate() error {
	if len(o.ChannelNames)%3 != 0 {
		return fmt.Errorf("%w: %d channel names is not a multiple of 3", ErrRecordShape, len(o.ChannelNames))
	}
	for i, rec := range o.Data {
		if got := 3 * len(rec.Values); got != len(o.ChannelNames) {
			return fmt.Errorf("%w: record %d has %d values, want %d", ErrRecordShape, i, got, len(o.ChannelNames))
		}
	}
	return nil
}

// DerivedChannelNames expands each base channel into its max, mean and median channels.
func DerivedChannelNames(channels []string) []string {
	out := make([]string, 0, 3*len(channels))
	for _, c := range channels {
		out = append(out, c+DailyMaxSuffix, c+DailyMeanSuffix, c+DailyMedianSuffix)
	}
	return out
}
