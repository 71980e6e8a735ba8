// Package pipeline runs the download, aggregate and import stages over the
// feeds of a multifeed.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/i474232898/airquality-daily-stats/internal/feed"
	"github.com/i474232898/airquality-daily-stats/internal/importer"
	"github.com/i474232898/airquality-daily-stats/internal/stats"
	"github.com/i474232898/airquality-daily-stats/internal/workspace"
)

// Stage names, as they appear in logs and metrics.
const (
	StageDownload  = "download"
	StageAggregate = "aggregate"
	StageImport    = "import"
)

// ErrNoStages is returned when a run selects no stage.
var ErrNoStages = errors.New("no pipeline stage selected")

// FeedSource lists feeds and exports their channels.
type FeedSource interface {
	ListMultifeedFeeds(ctx context.Context, multifeed string) ([]feed.Feed, error)
	ExportChannels(ctx context.Context, feedID int64, channels []string, fromSecs int64) ([]byte, error)
}

// Archive receives a copy of every statistics artifact written by Aggregate.
type Archive interface {
	UploadStats(ctx context.Context, feedID int64, data []byte) error
}

// Stages selects which stages a run executes. They always run in the order
// download, aggregate, import.
type Stages struct {
	Download  bool
	Aggregate bool
	Import    bool
}

// AllStages selects every stage.
func AllStages() Stages {
	return Stages{Download: true, Aggregate: true, Import: true}
}

// Any reports whether at least one stage is selected.
func (s Stages) Any() bool {
	return s.Download || s.Aggregate || s.Import
}

// Options are the run parameters that do not change between runs.
type Options struct {
	Multifeed   string
	Channels    []string
	FeedIDs     []int64 // empty means every feed
	OwnerUserID int64
	Workers     int
}

// Summary reports what a run did.
type Summary struct {
	RunID      string
	Downloaded int
	Skipped    int
	Aggregated int
	Records    int
	Imported   int
	Failed     int
}

// Runner executes pipeline runs.
type Runner struct {
	source    FeedSource
	ws        *workspace.Workspace
	generator *stats.Generator
	importer  *importer.Importer
	archive   Archive
	opts      Options
	logger    *zap.Logger
	now       func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the run logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithArchive uploads every statistics artifact after it is written.
func WithArchive(a Archive) Option {
	return func(r *Runner) {
		r.archive = a
	}
}

// WithClock overrides the clock used for the download window.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		r.now = now
	}
}

// NewRunner creates a Runner.
func NewRunner(source FeedSource, ws *workspace.Workspace, gen *stats.Generator, imp *importer.Importer, opts Options, options ...Option) *Runner {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	r := &Runner{
		source:    source,
		ws:        ws,
		generator: gen,
		importer:  imp,
		opts:      opts,
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, o := range options {
		o(r)
	}
	return r
}

// Run executes the selected stages in order. days > 0 limits the download to
// the last days days of data.
func (r *Runner) Run(ctx context.Context, stages Stages, days int) (*Summary, error) {
	if !stages.Any() {
		return nil, ErrNoStages
	}
	if stages.Import && r.opts.OwnerUserID <= 0 {
		return nil, fmt.Errorf("%w: %d", importer.ErrInvalidOwner, r.opts.OwnerUserID)
	}

	summary := &Summary{RunID: uuid.NewString()}
	logger := r.logger.With(zap.String("run_id", summary.RunID))
	logger.Info("pipeline run started",
		zap.Bool("download", stages.Download),
		zap.Bool("aggregate", stages.Aggregate),
		zap.Bool("import", stages.Import),
		zap.Int("days", days),
	)

	if stages.Download {
		err := r.stage(logger, StageDownload, func() error {
			return r.download(ctx, logger, days, summary)
		})
		if err != nil {
			return summary, err
		}
	}

	if stages.Aggregate {
		err := r.stage(logger, StageAggregate, func() error {
			return r.aggregate(ctx, logger, summary)
		})
		if err != nil {
			return summary, err
		}
	}

	if stages.Import {
		err := r.stage(logger, StageImport, func() error {
			return r.importAll(ctx, logger, summary)
		})
		if err != nil {
			return summary, err
		}
	}

	lastRunSuccess.SetToCurrentTime()
	logger.Info("pipeline run finished",
		zap.Int("downloaded", summary.Downloaded),
		zap.Int("aggregated", summary.Aggregated),
		zap.Int("records", summary.Records),
		zap.Int("imported", summary.Imported),
	)
	return summary, nil
}

func (r *Runner) stage(logger *zap.Logger, name string, fn func() error) error {
	start := time.Now()
	logger.Info("stage started", zap.String("stage", name))

	err := fn()
	elapsed := time.Since(start)
	stageDuration.WithLabelValues(name).Observe(elapsed.Seconds())

	if err != nil {
		stageRunsTotal.WithLabelValues(name, outcomeFailure).Inc()
		logger.Error("stage failed", zap.String("stage", name), zap.Duration("elapsed", elapsed), zap.Error(err))
		return fmt.Errorf("%s stage: %w", name, err)
	}
	stageRunsTotal.WithLabelValues(name, outcomeSuccess).Inc()
	logger.Info("stage finished", zap.String("stage", name), zap.Duration("elapsed", elapsed))
	return nil
}

func (r *Runner) download(ctx context.Context, logger *zap.Logger, days int, summary *Summary) error {
	feeds, err := r.source.ListMultifeedFeeds(ctx, r.opts.Multifeed)
	if err != nil {
		return err
	}
	logger.Info("feeds listed", zap.String("multifeed", r.opts.Multifeed), zap.Int("feeds", len(feeds)))

	var fromSecs int64
	if days > 0 {
		fromSecs = r.now().Add(-time.Duration(days) * 24 * time.Hour).Unix()
	}

	for _, f := range feeds {
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(r.opts.FeedIDs) > 0 && !slices.Contains(r.opts.FeedIDs, f.ID) {
			continue
		}

		channels := f.SelectChannels(r.opts.Channels)
		if len(channels) == 0 {
			logger.Warn("feed has none of the requested channels, skipping", zap.Int64("feed_id", f.ID))
			feedsTotal.WithLabelValues(StageDownload, outcomeSkipped).Inc()
			summary.Skipped++
			continue
		}
		f.ChannelNames = channels

		export, err := r.source.ExportChannels(ctx, f.ID, channels, fromSecs)
		if err == nil {
			err = r.ws.WriteFeedData(f, export)
		}
		if err != nil {
			feedsTotal.WithLabelValues(StageDownload, outcomeFailure).Inc()
			summary.Failed++
			return fmt.Errorf("feed %d: %w", f.ID, err)
		}

		feedsTotal.WithLabelValues(StageDownload, outcomeSuccess).Inc()
		summary.Downloaded++
		logger.Debug("feed downloaded",
			zap.Int64("feed_id", f.ID),
			zap.Strings("channels", channels),
			zap.Int("bytes", len(export)),
		)
	}
	return nil
}

func (r *Runner) aggregate(ctx context.Context, logger *zap.Logger, summary *Summary) error {
	feeds, err := r.ws.ListFeeds()
	if err != nil {
		return err
	}
	logger.Info("aggregating feeds", zap.Int("feeds", len(feeds)), zap.Int("workers", r.opts.Workers))

	var aggregated, records atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Workers)
	for _, f := range feeds {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			n, err := r.aggregateFeed(gctx, logger, f)
			if err != nil {
				feedsTotal.WithLabelValues(StageAggregate, outcomeFailure).Inc()
				return fmt.Errorf("feed %d: %w", f.ID, err)
			}
			if n < 0 {
				feedsTotal.WithLabelValues(StageAggregate, outcomeSkipped).Inc()
				return nil
			}
			feedsTotal.WithLabelValues(StageAggregate, outcomeSuccess).Inc()
			aggregated.Add(1)
			records.Add(int64(n))
			return nil
		})
	}
	err = g.Wait()

	summary.Aggregated += int(aggregated.Load())
	summary.Records += int(records.Load())
	if err != nil {
		summary.Failed++
	}
	return err
}

// aggregateFeed returns the number of records written, or -1 when the feed has
// no samples.
func (r *Runner) aggregateFeed(ctx context.Context, logger *zap.Logger, f feed.Feed) (int, error) {
	series, err := r.ws.ReadSeries(f.ID)
	if err != nil {
		return 0, err
	}
	f.ChannelNames = series.ChannelNames

	out, report, err := r.generator.GenerateWithReport(f, series.Samples)
	if err != nil {
		return 0, err
	}
	if out == nil {
		logger.Info("feed has no samples, nothing to aggregate", zap.Int64("feed_id", f.ID))
		return -1, nil
	}

	if err := r.ws.WriteStats(f.ID, out); err != nil {
		return 0, err
	}
	if r.archive != nil {
		data, err := r.ws.ReadStatsRaw(f.ID)
		if err != nil {
			return 0, err
		}
		if err := r.archive.UploadStats(ctx, f.ID, data); err != nil {
			return 0, err
		}
	}

	recordsGenerated.Add(float64(len(out.Data)))
	logger.Info("feed aggregated",
		zap.Int64("feed_id", f.ID),
		zap.Int("samples", report.Samples),
		zap.Int("days", report.Days),
		zap.Int("first_year", report.FirstYear),
		zap.Int("last_year", report.LastYear),
	)
	return len(out.Data), nil
}

func (r *Runner) importAll(ctx context.Context, logger *zap.Logger, summary *Summary) error {
	results, err := r.importer.ImportAll(ctx, r.opts.OwnerUserID)
	for _, res := range results {
		if res.Err != nil {
			feedsTotal.WithLabelValues(StageImport, outcomeFailure).Inc()
			summary.Failed++
			continue
		}
		feedsTotal.WithLabelValues(StageImport, outcomeSuccess).Inc()
		pointsImported.Add(float64(res.Summary.Points))
		summary.Imported++
	}
	return err
}
