package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/i474232898/airquality-daily-stats/internal/config"
)

func TestNewLoggerWritesJSONFile(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLogger(config.LogConfig{
		Level:              "info",
		Format:             "json",
		FileLoggingEnabled: true,
		Directory:          dir,
		Filename:           "test.log",
		MaxSize:            1,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	logger.Debug("hidden")
	logger.Info("pipeline finished")
	_ = logger.Sync()

	data, err := os.ReadFile(filepath.Join(dir, "test.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, `"msg":"pipeline finished"`) || !strings.Contains(out, `"level":"INFO"`) {
		t.Fatalf("unexpected log output %q", out)
	}
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug entry should be filtered at info level: %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	if lvl, err := parseLevel("WARN"); err != nil || lvl.String() != "warn" {
		t.Fatalf("expected warn, got %v %v", lvl, err)
	}
	if _, err := parseLevel("loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
