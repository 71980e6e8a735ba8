package feed

import (
	"strconv"
)

// PM25Channels are the channel names used across ESDR feeds for PM2.5 readings.
var PM25Channels = []string{
	"PM2_5",
	"PM25B_UG_M3",
	"PM25_2__UG_M3",
	"PM25_UG_M3",
}

// OzoneChannels are the channel names used across ESDR feeds for ozone readings.
var OzoneChannels = []string{
	"OZONE",
	"OZONE2_PPM",
	"Ozone_O3",
	"OZONE_PPM",
}

// DefaultChannels returns the PM2.5 catalogue followed by the ozone catalogue.
func DefaultChannels() []string {
	out := make([]string, 0, len(PM25Channels)+len(OzoneChannels))
	out = append(out, PM25Channels...)
	return append(out, OzoneChannels...)
}

// ChannelBound describes the time and value range of one channel of a feed.
type ChannelBound struct {
	MinTimeSecs float64 `json:"minTimeSecs"`
	MaxTimeSecs float64 `json:"maxTimeSecs"`
	MinValue    float64 `json:"minValue"`
	MaxValue    float64 `json:"maxValue"`
}

// ChannelBounds is the channelBounds object returned by the feed listing.
type ChannelBounds struct {
	Channels    map[string]ChannelBound `json:"channels"`
	MinTimeSecs float64                 `json:"minTimeSecs"`
	MaxTimeSecs float64                 `json:"maxTimeSecs"`
}

// Feed is one sensor device's channel stream, located at a single coordinate.
// ChannelNames holds the channels that were exported for the feed, in export order.
type Feed struct {
	ID            int64          `json:"id"`
	Name          string         `json:"name,omitempty"`
	OwnerID       int64          `json:"userId,omitempty"`
	Latitude      float64        `json:"latitude"`
	Longitude     float64        `json:"longitude"`
	MinTimeSecs   float64        `json:"minTimeSecs,omitempty"`
	MaxTimeSecs   float64        `json:"maxTimeSecs,omitempty"`
	ChannelBounds *ChannelBounds `json:"channelBounds,omitempty"`
	ChannelNames  []string       `json:"channelNames,omitempty"`
}

// Key returns the canonical string form of the feed id, used for file and device names.
func (f Feed) Key() string {
	return strconv.FormatInt(f.ID, 10)
}

// DeviceName is the datastore device the feed's derived channels are imported into.
func (f Feed) DeviceName() string {
	return DeviceName(f.ID)
}

// DeviceName returns "feed_<id>".
func DeviceName(feedID int64) string {
	return "feed_" + strconv.FormatInt(feedID, 10)
}

// HasChannel reports whether the feed's channel bounds list the channel.
func (f Feed) HasChannel(name string) bool {
	if f.ChannelBounds == nil || f.ChannelBounds.Channels == nil {
		return false
	}
	_, ok := f.ChannelBounds.Channels[name]
	return ok
}

// SelectChannels returns the candidates the feed carries, in candidate order.
func (f Feed) SelectChannels(candidates []string) []string {
	var out []string
	for _, c := range candidates {
		if f.HasChannel(c) {
			out = append(out, c)
		}
	}
	return out
}

// Sample is a single reading row. A nil value is a null reading; a channel
// missing from the map is treated the same way.
type Sample struct {
	TimestampMillis int64
	Channels        map[string]*float64
}

// Value returns the reading for a channel and whether it is present and non-null.
func (s Sample) Value(channel string) (float64, bool) {
	v, ok := s.Channels[channel]
	if !ok || v == nil {
		return 0, false
	}
	return *v, true
}

// Series is the full exported history of a feed.
type Series struct {
	ChannelNames []string
	Samples      []Sample
}
