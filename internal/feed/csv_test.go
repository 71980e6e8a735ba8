package feed

import (
	"errors"
	"strings"
	"testing"
)

func TestParseExport(t *testing.T) {
	input := "EpochTime,esdr.feed_26.PM2_5,esdr.feed_26.OZONE\n" +
		"1704103200,12.5,0.031\n" +
		"1704106800,,0.029\n" +
		"1704110400,n/a,\n"

	series, err := ParseExport(strings.NewReader(input))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := strings.Join(series.ChannelNames, ","); got != "PM2_5,OZONE" {
		t.Fatalf("expected channel names PM2_5,OZONE, got %s", got)
	}
	if len(series.Samples) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(series.Samples))
	}

	first := series.Samples[0]
	if first.TimestampMillis != 1704103200000 {
		t.Errorf("expected timestamp 1704103200000, got %d", first.TimestampMillis)
	}
	if v, ok := first.Value("PM2_5"); !ok || v != 12.5 {
		t.Errorf("expected PM2_5=12.5, got %v (present=%v)", v, ok)
	}

	if _, ok := series.Samples[1].Value("PM2_5"); ok {
		t.Errorf("expected empty cell to be null")
	}
	if _, ok := series.Samples[2].Value("PM2_5"); ok {
		t.Errorf("expected non-numeric cell to be null")
	}
	if _, ok := series.Samples[2].Value("OZONE"); ok {
		t.Errorf("expected trailing empty cell to be null")
	}
}

func TestParseExportShortRow(t *testing.T) {
	input := "EpochTime,feed_1.PM2_5,feed_1.OZONE\n1704103200,3\n"

	series, err := ParseExport(strings.NewReader(input))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := series.Samples[0].Value("OZONE"); ok {
		t.Errorf("expected missing cell to be null")
	}
	if _, present := series.Samples[0].Channels["OZONE"]; !present {
		t.Errorf("expected header channel to be listed on every sample")
	}
}

func TestParseExportErrors(t *testing.T) {
	if _, err := ParseExport(strings.NewReader("")); !errors.Is(err, ErrEmptyExport) {
		t.Fatalf("expected ErrEmptyExport, got %v", err)
	}

	_, err := ParseExport(strings.NewReader("EpochTime,a.b.PM2_5\nnot-a-time,1\n"))
	if !errors.Is(err, ErrMalformedRow) {
		t.Fatalf("expected ErrMalformedRow, got %v", err)
	}
}

func TestSelectChannels(t *testing.T) {
	f := Feed{
		ID: 26,
		ChannelBounds: &ChannelBounds{Channels: map[string]ChannelBound{
			"OZONE":      {},
			"PM25_UG_M3": {},
			"SO2":        {},
		}},
	}

	got := f.SelectChannels(DefaultChannels())
	if strings.Join(got, ",") != "PM25_UG_M3,OZONE" {
		t.Fatalf("expected catalogue order PM25_UG_M3,OZONE, got %v", got)
	}
	if f.DeviceName() != "feed_26" {
		t.Fatalf("expected device name feed_26, got %s", f.DeviceName())
	}
}

func TestParseExportRejectsBadTimestamps(t *testing.T) {
	tests := []struct {
		name string
		ts   string
	}{
		{"nan", "NaN"},
		{"positive infinity", "+Inf"},
		{"negative infinity", "-Inf"},
		{"far future", "1e20"},
		{"before epoch", "-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := "EpochTime,a.feed_26.PM2_5\n" + tt.ts + ",5\n1704124800,7\n"
			if _, err := ParseExport(strings.NewReader(input)); !errors.Is(err, ErrMalformedRow) {
				t.Fatalf("expected ErrMalformedRow, got %v", err)
			}
		})
	}
}
