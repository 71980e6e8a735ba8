package feed

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// Accepted epoch-seconds range: 1970-01-01 through 9999-12-31 UTC.
const (
	minEpochSecs = 0
	maxEpochSecs = 253402300799
)

var (
	// ErrEmptyExport is returned when an export has no header row.
	ErrEmptyExport = errors.New("export has no header row")
	// ErrMalformedRow is returned for a data row whose timestamp cannot be parsed.
	ErrMalformedRow = errors.New("malformed export row")
)

// ParseExport reads a channel export CSV. The header's first column is the
// epoch time column; every other header field is a dotted path whose last
// segment is the channel name (e.g. "feed_26.PM2_5" or "esdr.feed_26.PM2_5").
// Data rows start with UTC epoch seconds; empty or non-numeric cells are nulls.
func ParseExport(r io.Reader) (*Series, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	series := &Series{}
	headerSeen := false
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Split(line, ",")
		for i := range fields {
			fields[i] = strings.TrimSpace(fields[i])
		}

		if !headerSeen {
			headerSeen = true
			for _, field := range fields[1:] {
				series.ChannelNames = append(series.ChannelNames, channelFromHeader(field))
			}
			continue
		}

		secs, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedRow, lineNo, err)
		}
		if math.IsNaN(secs) || secs < minEpochSecs || secs > maxEpochSecs {
			return nil, fmt.Errorf("%w: line %d: timestamp %q out of range", ErrMalformedRow, lineNo, fields[0])
		}

		sample := Sample{
			TimestampMillis: int64(math.Round(secs * 1000)),
			Channels:        make(map[string]*float64, len(series.ChannelNames)),
		}
		for j, name := range series.ChannelNames {
			sample.Channels[name] = nil
			if j+1 >= len(fields) {
				continue
			}
			if v, ok := parseValue(fields[j+1]); ok {
				sample.Channels[name] = &v
			}
		}
		series.Samples = append(series.Samples, sample)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if !headerSeen {
		return nil, ErrEmptyExport
	}
	return series, nil
}

func channelFromHeader(field string) string {
	if i := strings.LastIndex(field, "."); i >= 0 {
		return field[i+1:]
	}
	return field
}

func parseValue(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
