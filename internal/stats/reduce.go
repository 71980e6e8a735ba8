package stats

import (
	"slices"

	"github.com/i474232898/airquality-daily-stats/internal/feed"
)

// ReduceDay computes max, mean and median for each channel over one day's
// samples. samples must not be empty. Null and missing values are excluded;
// a channel with no values gets an all-nil triple.
func ReduceDay(noonMillis int64, samples []feed.Sample, channelOrder []string) DailyStatsRecord {
	record := DailyStatsRecord{
		TimestampSecs: noonMillis / 1000,
		Values:        make([]ChannelStats, 0, len(channelOrder)),
	}

	values := make([]float64, 0, len(samples))
	for _, channel := range channelOrder {
		values = values[:0]
		for _, s := range samples {
			if v, ok := s.Value(channel); ok {
				values = append(values, v)
			}
		}

		if len(values) == 0 {
			record.Values = append(record.Values, ChannelStats{})
			continue
		}

		slices.Sort(values)
		highest := values[len(values)-1]
		mean := Mean(values)
		median := Median(values)
		record.Values = append(record.Values, ChannelStats{
			Max:    &highest,
			Mean:   &mean,
			Median: &median,
		})
	}

	return record
}

// Mean returns the arithmetic mean of values, or 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Median returns the median of an ascending slice, or 0 for an empty slice.
func Median(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	middle := n / 2
	if n%2 == 0 {
		return (sorted[middle-1] + sorted[middle]) / 2.0
	}
	return sorted[middle]
}
