package httpapi

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/airquality-daily-stats/internal/stats"
	"github.com/i474232898/airquality-daily-stats/internal/store"
	"github.com/i474232898/airquality-daily-stats/internal/workspace"
)

func ptr(v float64) *float64 { return &v }

func newTestApp(t *testing.T) *fiber.App {
	t.Helper()
	root := t.TempDir()
	ws := workspace.New(filepath.Join(root, "data"), filepath.Join(root, "stats"))
	ds := store.NewMemoryStore()

	out := &stats.FeedStatsOutput{
		ChannelNames: stats.DerivedChannelNames([]string{"PM2_5"}),
		Data: []stats.DailyStatsRecord{
			{TimestampSecs: 1704128400, Values: []stats.ChannelStats{{Max: ptr(20), Mean: ptr(16), Median: ptr(16)}}},
			{TimestampSecs: 1704214800, Values: []stats.ChannelStats{{Max: ptr(8), Mean: ptr(6), Median: ptr(5)}}},
		},
	}
	if err := ws.WriteStats(26, out); err != nil {
		t.Fatal(err)
	}
	if _, err := ds.ImportJSON(context.Background(), 3, "feed_26", out); err != nil {
		t.Fatal(err)
	}

	app := NewApp()
	RegisterRoutes(app, ws, ds)
	return app
}

func get(t *testing.T, app *fiber.App, target string) (int, string) {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, target, nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestHealth(t *testing.T) {
	status, body := get(t, newTestApp(t), "/health")
	if status != http.StatusOK || !strings.Contains(body, `"ok"`) {
		t.Fatalf("unexpected response %d %s", status, body)
	}
}

func TestFeedStats(t *testing.T) {
	app := newTestApp(t)

	status, body := get(t, app, "/api/v1/feeds/26/stats")
	if status != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, status)
	}
	var out stats.FeedStatsOutput
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(out.Data) != 2 || out.ChannelNames[0] != "PM2_5_daily_max" {
		t.Fatalf("unexpected body %s", body)
	}
	if !strings.Contains(body, "[1704128400,20,16,16]") {
		t.Fatalf("expected flat record encoding, got %s", body)
	}

	if status, _ := get(t, app, "/api/v1/feeds/99/stats"); status != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, status)
	}
	if status, _ := get(t, app, "/api/v1/feeds/abc/stats"); status != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, status)
	}
}

func TestDeviceChannels(t *testing.T) {
	app := newTestApp(t)

	status, body := get(t, app, "/api/v1/devices/feed_26/channels?user=3")
	if status != http.StatusOK || !strings.Contains(body, "PM2_5_daily_median") {
		t.Fatalf("unexpected response %d %s", status, body)
	}

	if status, _ := get(t, app, "/api/v1/devices/feed_26/channels?user=4"); status != http.StatusNotFound {
		t.Fatalf("expected status %d for another user, got %d", http.StatusNotFound, status)
	}
	if status, _ := get(t, app, "/api/v1/devices/feed_26/channels"); status != http.StatusBadRequest {
		t.Fatalf("expected status %d without user, got %d", http.StatusBadRequest, status)
	}
}

func TestChannelValues(t *testing.T) {
	app := newTestApp(t)

	status, body := get(t, app, "/api/v1/devices/feed_26/channels/PM2_5_daily_max?user=3")
	if status != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, status, body)
	}
	var resp struct {
		Points []store.Point `json:"points"`
	}
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(resp.Points) != 2 || resp.Points[1].Value != 8 {
		t.Fatalf("unexpected points %+v", resp.Points)
	}

	status, body = get(t, app, "/api/v1/devices/feed_26/channels/PM2_5_daily_max?user=3&from=2024-01-02T00:00:00Z")
	if status != http.StatusOK || !strings.Contains(body, `"v":8`) || strings.Contains(body, `"v":20`) {
		t.Fatalf("unexpected filtered response %d %s", status, body)
	}
}

func TestChannelValuesValidation(t *testing.T) {
	app := newTestApp(t)

	tests := []struct {
		name   string
		target string
		want   int
	}{
		{"non-positive user", "/api/v1/devices/feed_26/channels/PM2_5_daily_max?user=0", http.StatusBadRequest},
		{"bad time", "/api/v1/devices/feed_26/channels/PM2_5_daily_max?user=3&from=yesterday", http.StatusBadRequest},
		{"to before from", "/api/v1/devices/feed_26/channels/PM2_5_daily_max?user=3&from=200&to=100", http.StatusBadRequest},
		{"empty range", "/api/v1/devices/feed_26/channels/PM2_5_daily_max?user=3&from=0&to=100", http.StatusNotFound},
		{"unknown channel", "/api/v1/devices/feed_26/channels/OZONE_daily_max?user=3", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if status, body := get(t, app, tt.target); status != tt.want {
				t.Fatalf("expected status %d, got %d: %s", tt.want, status, body)
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	status, body := get(t, newTestApp(t), "/metrics")
	if status != http.StatusOK || !strings.Contains(body, "go_goroutines") {
		t.Fatalf("unexpected metrics response %d", status)
	}
}
