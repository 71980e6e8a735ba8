package esdr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/i474232898/airquality-daily-stats/internal/feed"
)

// FederalSensorProductIDs are the ESDR products of regulatory monitors.
var FederalSensorProductIDs = []int{
	1,  // ACHD
	11, // AirNow
	35, // BAAQMD
}

// Substance names a multifeed and the channels that carry it.
type Substance struct {
	Name     string
	Channels []string
}

var (
	PM25  = Substance{Name: "pm_2_5", Channels: feed.PM25Channels}
	Ozone = Substance{Name: "ozone", Channels: feed.OzoneChannels}
)

// ErrMultifeedRejected is returned when ESDR does not accept a multifeed.
var ErrMultifeedRejected = errors.New("multifeed rejected")

// MultifeedSpec is the body of a multifeed creation request.
type MultifeedSpec struct {
	Name string              `json:"name"`
	Spec []MultifeedSpecItem `json:"spec"`
}

// MultifeedSpecItem selects one channel from a set of feeds.
type MultifeedSpecItem struct {
	Feeds    string   `json:"feeds"`
	Channels []string `json:"channels"`
}

// BuildMultifeedSpec groups the feeds of the given products by channel. It
// returns the spec and the number of (feed, channel) matches. Channels that no
// feed carries are left out, since an empty whereOr would match every feed.
func (c *Client) BuildMultifeedSpec(ctx context.Context, s Substance, productIDs []int) (*MultifeedSpec, int, error) {
	feeds, err := c.ListFeedsByProduct(ctx, productIDs)
	if err != nil {
		return nil, 0, err
	}

	spec, matches := BuildSpec(s, feeds)
	return spec, matches, nil
}

// BuildSpec groups feeds by the substance's channels, in channel order.
func BuildSpec(s Substance, feeds []feed.Feed) (*MultifeedSpec, int) {
	matches := 0
	spec := &MultifeedSpec{Name: s.Name, Spec: []MultifeedSpecItem{}}

	for _, channel := range s.Channels {
		var ids []string
		for _, f := range feeds {
			if f.HasChannel(channel) {
				ids = append(ids, "id="+strconv.FormatInt(f.ID, 10))
			}
		}
		if len(ids) == 0 {
			continue
		}
		matches += len(ids)
		spec.Spec = append(spec.Spec, MultifeedSpecItem{
			Feeds:    "whereOr=" + strings.Join(ids, ","),
			Channels: []string{channel},
		})
	}
	return spec, matches
}

type jsendResponse struct {
	Code    int             `json:"code"`
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message,omitempty"`
}

// CreateMultifeed registers the spec with ESDR using an OAuth2 access token
// and returns the response data.
func (c *Client) CreateMultifeed(ctx context.Context, token string, spec *MultifeedSpec) (json.RawMessage, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: access token is required", ErrMultifeedRejected)
	}

	body, err := json.Marshal(spec)
	if err != nil {
		return nil, fmt.Errorf("marshal multifeed spec: %w", err)
	}

	resp, err := doRequestWithResilience(ctx, c.httpCfg, c.circuit, func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPost, c.baseURL+"/multifeeds", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		return req, nil
	})
	if err != nil {
		var rejected *StatusError
		if errors.As(err, &rejected) {
			return nil, decodeJSend(rejected.StatusCode, rejected.ContentType, rejected.Body)
		}
		return nil, fmt.Errorf("create multifeed %q: %w", spec.Name, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read multifeed response: %w", err)
	}
	var payload jsendResponse
	if err := unmarshalJSend(resp.StatusCode, resp.Header.Get("Content-Type"), raw, &payload); err != nil {
		return nil, err
	}
	if payload.Status != "success" {
		return nil, rejection(payload)
	}
	return payload.Data, nil
}

// decodeJSend turns a rejected response into an error carrying ESDR's message.
func decodeJSend(statusCode int, contentType string, body []byte) error {
	var payload jsendResponse
	if err := unmarshalJSend(statusCode, contentType, body, &payload); err != nil {
		return err
	}
	return rejection(payload)
}

func unmarshalJSend(statusCode int, contentType string, body []byte, payload *jsendResponse) error {
	if !strings.HasPrefix(contentType, "application/json") {
		return fmt.Errorf("%w: HTTP %d without a JSend body", ErrMultifeedRejected, statusCode)
	}
	if err := json.Unmarshal(body, payload); err != nil {
		return fmt.Errorf("%w: HTTP %d: %v", ErrBadEnvelope, statusCode, err)
	}
	return nil
}

func rejection(payload jsendResponse) error {
	return fmt.Errorf("%w: status=%q message=%q", ErrMultifeedRejected, payload.Status, payload.Message)
}
