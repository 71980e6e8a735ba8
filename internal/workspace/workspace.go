// Package workspace manages the on-disk artifacts shared by the pipeline
// stages: downloaded exports and feed metadata under the data directory, and
// per-feed statistics under the stats directory.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/i474232898/airquality-daily-stats/internal/feed"
	"github.com/i474232898/airquality-daily-stats/internal/stats"
)

var (
	// ErrNotFound is returned when an artifact does not exist.
	ErrNotFound = errors.New("artifact not found")
	// ErrMalformed is returned when an artifact cannot be decoded.
	ErrMalformed = errors.New("malformed artifact")
)

const (
	csvExt  = ".csv"
	jsonExt = ".json"
)

// Workspace is a pair of artifact directories.
type Workspace struct {
	DataDir  string
	StatsDir string
}

// New returns a Workspace rooted at the given directories. Directories are
// created lazily by the writers.
func New(dataDir, statsDir string) *Workspace {
	return &Workspace{DataDir: dataDir, StatsDir: statsDir}
}

// DataPath is the export CSV path of a feed.
func (w *Workspace) DataPath(feedID int64) string {
	return filepath.Join(w.DataDir, strconv.FormatInt(feedID, 10)+csvExt)
}

// MetadataPath is the feed metadata path of a feed.
func (w *Workspace) MetadataPath(feedID int64) string {
	return filepath.Join(w.DataDir, strconv.FormatInt(feedID, 10)+jsonExt)
}

// StatsPath is the statistics artifact path of a feed.
func (w *Workspace) StatsPath(feedID int64) string {
	return filepath.Join(w.StatsDir, strconv.FormatInt(feedID, 10)+jsonExt)
}

// WriteFeedData stores a feed's export and then its metadata. Metadata is
// written last so that a listed feed always has its data file.
func (w *Workspace) WriteFeedData(f feed.Feed, export []byte) error {
	if err := os.MkdirAll(w.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory %s: %w", w.DataDir, err)
	}
	if err := writeFileAtomic(w.DataPath(f.ID), export); err != nil {
		return fmt.Errorf("write data file for feed %d: %w", f.ID, err)
	}

	meta, err := json.MarshalIndent(f, "", "   ")
	if err != nil {
		return fmt.Errorf("marshal metadata for feed %d: %w", f.ID, err)
	}
	if err := writeFileAtomic(w.MetadataPath(f.ID), meta); err != nil {
		return fmt.Errorf("write metadata file for feed %d: %w", f.ID, err)
	}
	return nil
}

// ListFeeds reads every feed metadata file, ordered by feed id.
func (w *Workspace) ListFeeds() ([]feed.Feed, error) {
	ids, err := listIDs(w.DataDir, jsonExt)
	if err != nil {
		return nil, err
	}

	feeds := make([]feed.Feed, 0, len(ids))
	for _, id := range ids {
		data, err := os.ReadFile(w.MetadataPath(id))
		if err != nil {
			return nil, fmt.Errorf("read metadata for feed %d: %w", id, err)
		}
		var f feed.Feed
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("%w: metadata for feed %d: %v", ErrMalformed, id, err)
		}
		feeds = append(feeds, f)
	}
	return feeds, nil
}

// ReadSeries parses a feed's export CSV.
func (w *Workspace) ReadSeries(feedID int64) (*feed.Series, error) {
	file, err := os.Open(w.DataPath(feedID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: data file for feed %d", ErrNotFound, feedID)
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	series, err := feed.ParseExport(file)
	if err != nil {
		return nil, fmt.Errorf("%w: data file for feed %d: %w", ErrMalformed, feedID, err)
	}
	return series, nil
}

// WriteStats stores a feed's statistics artifact.
func (w *Workspace) WriteStats(feedID int64, out *stats.FeedStatsOutput) error {
	if err := os.MkdirAll(w.StatsDir, 0o755); err != nil {
		return fmt.Errorf("create stats directory %s: %w", w.StatsDir, err)
	}
	data, err := json.MarshalIndent(out, "", " ")
	if err != nil {
		return fmt.Errorf("marshal stats for feed %d: %w", feedID, err)
	}
	return writeFileAtomic(w.StatsPath(feedID), data)
}

// ReadStats loads and validates a feed's statistics artifact.
func (w *Workspace) ReadStats(feedID int64) (*stats.FeedStatsOutput, error) {
	data, err := os.ReadFile(w.StatsPath(feedID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: stats for feed %d", ErrNotFound, feedID)
	}
	if err != nil {
		return nil, err
	}

	var out stats.FeedStatsOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: stats for feed %d: %v", ErrMalformed, feedID, err)
	}
	if err := out.Validate(); err != nil {
		return nil, fmt.Errorf("%w: stats for feed %d: %w", ErrMalformed, feedID, err)
	}
	return &out, nil
}

// ReadStatsRaw returns a feed's statistics artifact as stored.
func (w *Workspace) ReadStatsRaw(feedID int64) ([]byte, error) {
	data, err := os.ReadFile(w.StatsPath(feedID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: stats for feed %d", ErrNotFound, feedID)
	}
	return data, err
}

// ListStats returns the ids of feeds with a statistics artifact, ascending.
func (w *Workspace) ListStats() ([]int64, error) {
	return listIDs(w.StatsDir, jsonExt)
}

func listIDs(dir, ext string) ([]int64, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: directory %s", ErrNotFound, dir)
	}
	if err != nil {
		return nil, fmt.Errorf("read directory %s: %w", dir, err)
	}

	var ids []int64
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ext) {
			continue
		}
		id, err := strconv.ParseInt(strings.TrimSuffix(name, ext), 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
