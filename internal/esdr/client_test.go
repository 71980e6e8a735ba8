package esdr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

var fastBackoff = BackoffConfig{
	MaxRetries:      2,
	InitialInterval: time.Millisecond,
	MaxInterval:     5 * time.Millisecond,
}

func newTestClient(srv *httptest.Server, opts ...Option) *Client {
	opts = append([]Option{WithBackoff(fastBackoff)}, opts...)
	return NewClient(srv.Client(), srv.URL, opts...)
}

func TestListMultifeedFeedsPaginates(t *testing.T) {
	const total = 5
	var calls int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.URL.Path != "/multifeeds/pm_2_5/feeds" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		if r.URL.Query().Get("orderBy") != "id" {
			t.Errorf("expected orderBy=id")
		}

		var rows []string
		for id := offset; id < offset+limit && id < total; id++ {
			rows = append(rows, fmt.Sprintf(`{"id":%d,"latitude":40.4,"longitude":-79.9,"channelBounds":{"channels":{"PM2_5":{}}}}`, id+1))
		}
		fmt.Fprintf(w, `{"code":200,"status":"success","data":{"totalCount":%d,"offset":%d,"limit":%d,"rows":[%s]}}`,
			total, offset, limit, strings.Join(rows, ","))
	}))
	defer srv.Close()

	c := newTestClient(srv, WithPageSize(2))
	feeds, err := c.ListMultifeedFeeds(context.Background(), "pm_2_5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(feeds) != total {
		t.Fatalf("expected %d feeds, got %d", total, len(feeds))
	}
	if calls != 3 {
		t.Fatalf("expected 3 page requests, got %d", calls)
	}
	if feeds[4].ID != 5 || !feeds[4].HasChannel("PM2_5") {
		t.Fatalf("unexpected last feed: %+v", feeds[4])
	}
}

func TestListFeedsBadEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":422,"status":"error","data":null}`)
	}))
	defer srv.Close()

	_, err := newTestClient(srv).ListMultifeedFeeds(context.Background(), "pm_2_5")
	if !errors.Is(err, ErrBadEnvelope) {
		t.Fatalf("expected ErrBadEnvelope, got %v", err)
	}
}

func TestExportChannelsRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		if r.URL.Path != "/feeds/26/channels/PM2_5,OZONE/export" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("from") != "1700000000" {
			t.Errorf("unexpected from %q", r.URL.Query().Get("from"))
		}
		io.WriteString(w, "EpochTime,feed_26.PM2_5,feed_26.OZONE\n1700000000,1,2\n")
	}))
	defer srv.Close()

	body, err := newTestClient(srv).ExportChannels(context.Background(), 26, []string{"PM2_5", "OZONE"}, 1700000000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(string(body), "EpochTime") {
		t.Fatalf("unexpected body %q", body)
	}
	if calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls)
	}
}

func TestExportChannelsDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestClient(srv).ExportChannels(context.Background(), 1, []string{"PM2_5"}, 0)
	if !errors.Is(err, ErrUnexpected) {
		t.Fatalf("expected ErrUnexpected, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}

	if _, err := newTestClient(srv).ExportChannels(context.Background(), 1, nil, 0); !errors.Is(err, ErrNoChannels) {
		t.Fatalf("expected ErrNoChannels, got %v", err)
	}
}

func TestBuildMultifeedSpec(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("whereOr"); got != "productId=1,productId=11" {
			t.Errorf("unexpected whereOr %q", got)
		}
		io.WriteString(w, `{"code":200,"status":"success","data":{"totalCount":3,"rows":[
			{"id":3,"channelBounds":{"channels":{"PM2_5":{},"OZONE":{}}}},
			{"id":8,"channelBounds":{"channels":{"PM25_UG_M3":{}}}},
			{"id":9,"channelBounds":{"channels":{"PM2_5":{}}}}]}}`)
	}))
	defer srv.Close()

	spec, matches, err := newTestClient(srv).BuildMultifeedSpec(context.Background(), PM25, []int{1, 11})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if matches != 3 {
		t.Fatalf("expected 3 matches, got %d", matches)
	}
	if len(spec.Spec) != 2 {
		t.Fatalf("expected 2 spec items (channels without feeds left out), got %d", len(spec.Spec))
	}
	if spec.Spec[0].Feeds != "whereOr=id=3,id=9" || spec.Spec[0].Channels[0] != "PM2_5" {
		t.Fatalf("unexpected first item %+v", spec.Spec[0])
	}
	if spec.Spec[1].Feeds != "whereOr=id=8" || spec.Spec[1].Channels[0] != "PM25_UG_M3" {
		t.Fatalf("unexpected second item %+v", spec.Spec[1])
	}
}

func TestCreateMultifeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/multifeeds" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusOK)
			io.WriteString(w, `{"code":403,"status":"fail","message":"forbidden"}`)
			return
		}
		var spec MultifeedSpec
		if err := json.NewDecoder(r.Body).Decode(&spec); err != nil || spec.Name != "ozone" {
			t.Errorf("unexpected body: %v %+v", err, spec)
		}
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"code":201,"status":"success","data":{"id":42,"name":"ozone"}}`)
	}))
	defer srv.Close()

	spec := &MultifeedSpec{Name: "ozone", Spec: []MultifeedSpecItem{{Feeds: "whereOr=id=1", Channels: []string{"OZONE"}}}}

	data, err := newTestClient(srv).CreateMultifeed(context.Background(), "good", spec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(string(data), `"id":42`) {
		t.Fatalf("unexpected data %s", data)
	}

	if _, err := newTestClient(srv).CreateMultifeed(context.Background(), "bad", spec); !errors.Is(err, ErrMultifeedRejected) {
		t.Fatalf("expected ErrMultifeedRejected, got %v", err)
	}
	if _, err := newTestClient(srv).CreateMultifeed(context.Background(), "", spec); !errors.Is(err, ErrMultifeedRejected) {
		t.Fatalf("expected ErrMultifeedRejected for missing token, got %v", err)
	}
}

func TestCreateMultifeedReportsRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusConflict)
		io.WriteString(w, `{"code":409,"status":"error","message":"Multifeed name already in use"}`)
	}))
	defer srv.Close()

	spec := &MultifeedSpec{Name: "ozone", Spec: []MultifeedSpecItem{{Feeds: "whereOr=id=1", Channels: []string{"OZONE"}}}}

	_, err := newTestClient(srv).CreateMultifeed(context.Background(), "good", spec)
	if !errors.Is(err, ErrMultifeedRejected) {
		t.Fatalf("expected ErrMultifeedRejected, got %v", err)
	}
	if !strings.Contains(err.Error(), "already in use") {
		t.Fatalf("expected ESDR message in error, got %v", err)
	}
}

func TestCreateMultifeedRejectionWithoutJSend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, "<html>nope</html>")
	}))
	defer srv.Close()

	spec := &MultifeedSpec{Name: "ozone"}

	_, err := newTestClient(srv).CreateMultifeed(context.Background(), "good", spec)
	if !errors.Is(err, ErrMultifeedRejected) || !strings.Contains(err.Error(), "HTTP 401") {
		t.Fatalf("expected rejection for HTTP 401, got %v", err)
	}
}
