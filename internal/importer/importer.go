// Package importer loads per-feed statistics artifacts into the datastore,
// each feed on its own device.
package importer

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/i474232898/airquality-daily-stats/internal/feed"
	"github.com/i474232898/airquality-daily-stats/internal/stats"
	"github.com/i474232898/airquality-daily-stats/internal/store"
	"github.com/i474232898/airquality-daily-stats/internal/workspace"
)

var (
	// ErrMalformedStats is returned for a statistics artifact that cannot be decoded.
	ErrMalformedStats = errors.New("malformed stats artifact")
	// ErrInvalidOwner is returned when the owner user id is not positive.
	ErrInvalidOwner = errors.New("feed owner user id must be a positive integer")
)

// Datastore receives imported statistics.
type Datastore interface {
	ImportJSON(ctx context.Context, userID int64, device string, out *stats.FeedStatsOutput) (store.ImportSummary, error)
}

// Result is the outcome of importing one feed.
type Result struct {
	FeedID  int64
	Device  string
	Summary store.ImportSummary
	Err     error
}

// Importer reads artifacts from a workspace and writes them to a datastore.
type Importer struct {
	ws     *workspace.Workspace
	ds     Datastore
	logger *zap.Logger
}

// New creates an Importer. A nil logger discards output.
func New(ws *workspace.Workspace, ds Datastore, logger *zap.Logger) *Importer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Importer{ws: ws, ds: ds, logger: logger}
}

// ImportFeed imports one feed's artifact onto device feed_<id>.
func (im *Importer) ImportFeed(ctx context.Context, ownerUserID, feedID int64) (store.ImportSummary, error) {
	if ownerUserID <= 0 {
		return store.ImportSummary{}, fmt.Errorf("%w: %d", ErrInvalidOwner, ownerUserID)
	}

	out, err := im.ws.ReadStats(feedID)
	if errors.Is(err, workspace.ErrMalformed) {
		return store.ImportSummary{}, fmt.Errorf("%w: feed %d: %w", ErrMalformedStats, feedID, err)
	}
	if err != nil {
		return store.ImportSummary{}, err
	}

	device := feed.DeviceName(feedID)
	summary, err := im.ds.ImportJSON(ctx, ownerUserID, device, out)
	if err != nil {
		return store.ImportSummary{}, fmt.Errorf("import feed %d to %s: %w", feedID, device, err)
	}
	return summary, nil
}

// ImportAll imports every artifact in the stats directory. A failing feed is
// logged and skipped; the returned error joins all per-feed failures.
func (im *Importer) ImportAll(ctx context.Context, ownerUserID int64) ([]Result, error) {
	if ownerUserID <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidOwner, ownerUserID)
	}

	ids, err := im.ws.ListStats()
	if err != nil {
		return nil, fmt.Errorf("list stats artifacts: %w", err)
	}
	im.logger.Info("importing stats artifacts", zap.Int("feeds", len(ids)), zap.Int64("owner", ownerUserID))

	results := make([]Result, 0, len(ids))
	var errs []error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		summary, err := im.ImportFeed(ctx, ownerUserID, id)
		results = append(results, Result{FeedID: id, Device: feed.DeviceName(id), Summary: summary, Err: err})
		if err != nil {
			im.logger.Error("feed import failed", zap.Int64("feed", id), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		im.logger.Info("feed imported",
			zap.Int64("feed", id),
			zap.Int("channels", summary.Channels),
			zap.Int("points", summary.Points),
		)
	}
	return results, errors.Join(errs...)
}
