package workspace

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/i474232898/airquality-daily-stats/internal/feed"
	"github.com/i474232898/airquality-daily-stats/internal/stats"
)

func newTestWorkspace(t *testing.T) *Workspace {
	t.Helper()
	root := t.TempDir()
	return New(filepath.Join(root, "data"), filepath.Join(root, "stats"))
}

func TestFeedDataRoundTrip(t *testing.T) {
	ws := newTestWorkspace(t)

	f := feed.Feed{ID: 29, Latitude: 40.4, Longitude: -79.9, ChannelNames: []string{"PM2_5"}}
	export := []byte("EpochTime,feed_29.PM2_5\n1704103200,7\n")
	if err := ws.WriteFeedData(f, export); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ws.WriteFeedData(feed.Feed{ID: 4, ChannelNames: []string{"OZONE"}}, []byte("EpochTime,a.b.OZONE\n")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	feeds, err := ws.ListFeeds()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(feeds) != 2 || feeds[0].ID != 4 || feeds[1].ID != 29 {
		t.Fatalf("expected feeds 4 and 29 in id order, got %+v", feeds)
	}
	if feeds[1].ChannelNames[0] != "PM2_5" {
		t.Fatalf("expected metadata to keep channel names, got %+v", feeds[1])
	}

	series, err := ws.ReadSeries(29)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(series.Samples) != 1 {
		t.Fatalf("expected 1 sample, got %d", len(series.Samples))
	}

	if _, err := ws.ReadSeries(1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStatsRoundTrip(t *testing.T) {
	ws := newTestWorkspace(t)

	hi, mean, median := 20.0, 16.0, 16.0
	out := &stats.FeedStatsOutput{
		ChannelNames: stats.DerivedChannelNames([]string{"PM2_5"}),
		Data: []stats.DailyStatsRecord{{
			TimestampSecs: 1704128400,
			Values:        []stats.ChannelStats{{Max: &hi, Mean: &mean, Median: &median}},
		}},
	}
	if err := ws.WriteStats(26, out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ids, err := ws.ListStats()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 1 || ids[0] != 26 {
		t.Fatalf("expected [26], got %v", ids)
	}

	got, err := ws.ReadStats(26)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Data[0].TimestampSecs != 1704128400 || *got.Data[0].Values[0].Max != 20 {
		t.Fatalf("unexpected stats %+v", got)
	}
}

func TestReadStatsMalformed(t *testing.T) {
	ws := newTestWorkspace(t)
	if err := os.MkdirAll(ws.StatsDir, 0o755); err != nil {
		t.Fatal(err)
	}

	cases := map[int64]string{
		1: `{"channel_names": [`,
		2: `{"channel_names":["A_daily_max","A_daily_mean","A_daily_median"],"data":[[1,2,3,4,5,6,7]]}`,
	}
	for id, body := range cases {
		if err := os.WriteFile(ws.StatsPath(id), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := ws.ReadStats(id); !errors.Is(err, ErrMalformed) {
			t.Errorf("feed %d: expected ErrMalformed, got %v", id, err)
		}
	}

	if _, err := ws.ReadStats(3); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListIgnoresForeignFiles(t *testing.T) {
	ws := newTestWorkspace(t)
	if err := os.MkdirAll(ws.StatsDir, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"notes.json", "12.txt", ".12.json.tmp"} {
		if err := os.WriteFile(filepath.Join(ws.StatsDir, name), []byte("{}"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	ids, err := ws.ListStats()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected no ids, got %v", ids)
	}
}
