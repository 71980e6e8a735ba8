package stats

import (
	"cmp"
	"slices"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/i474232898/airquality-daily-stats/internal/feed"
)

// maxFutureYears bounds how far past the clock's year the walk follows
// future-dated samples.
const maxFutureYears = 1

// Report summarises one Generate call.
type Report struct {
	Samples   int  // samples passed in
	Assigned  int  // samples that landed in a day window
	Skipped   int  // samples outside every walked window
	Days      int  // records emitted
	FirstYear int  // first year walked
	LastYear  int  // last year walked
	Resorted  bool // input was not ascending and was sorted
}

// Generator computes daily statistics for a feed. It performs no I/O.
type Generator struct {
	bucketizer *Bucketizer
	now        func() time.Time
	logger     *zap.Logger
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithClock overrides the clock used to find the last year to walk.
func WithClock(now func() time.Time) GeneratorOption {
	return func(g *Generator) {
		g.now = now
	}
}

// WithLogger sets the logger used for progress and warnings.
func WithLogger(logger *zap.Logger) GeneratorOption {
	return func(g *Generator) {
		g.logger = logger
	}
}

// NewGenerator creates a Generator on top of a Bucketizer.
func NewGenerator(b *Bucketizer, opts ...GeneratorOption) *Generator {
	g := &Generator{
		bucketizer: b,
		now:        time.Now,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate computes the statistics for a feed. It returns nil output and a nil
// error when there are no samples.
func (g *Generator) Generate(f feed.Feed, samples []feed.Sample) (*FeedStatsOutput, error) {
	out, _, err := g.GenerateWithReport(f, samples)
	return out, err
}

// GenerateWithReport is Generate plus a Report of how samples were assigned.
//
// Years are walked from the year of the first sample through the current year,
// and further while samples remain. Samples are consumed by a single forward
// cursor, so the scan is linear in the number of samples.
func (g *Generator) GenerateWithReport(f feed.Feed, samples []feed.Sample) (*FeedStatsOutput, Report, error) {
	report := Report{Samples: len(samples)}
	if len(samples) == 0 {
		return nil, report, nil
	}

	if !slices.IsSortedFunc(samples, compareSamples) {
		g.logger.Warn("Samples not in ascending order, sorting a copy",
			zap.Int64("feed_id", f.ID),
			zap.Int("samples", len(samples)),
		)
		samples = slices.Clone(samples)
		slices.SortStableFunc(samples, compareSamples)
		report.Resorted = true
	}

	channels := f.ChannelNames
	if len(channels) == 0 {
		channels = channelsOf(samples[0])
	}

	startingYear := time.UnixMilli(samples[0].TimestampMillis).UTC().Year()
	first, err := g.bucketizer.DayWindow(f.Latitude, f.Longitude, startingYear, 1)
	if err != nil {
		return nil, report, err
	}
	if samples[0].TimestampMillis < first.StartMillis {
		// local date is still the previous year
		startingYear--
	}
	endingYear := g.now().UTC().Year()

	g.logger.Debug("Year range",
		zap.Int64("feed_id", f.ID),
		zap.Int("starting_year", startingYear),
		zap.Int("ending_year", endingYear),
	)

	out := &FeedStatsOutput{
		ChannelNames: DerivedChannelNames(channels),
		Data:         make([]DailyStatsRecord, 0),
	}
	report.FirstYear = startingYear

	cursor := 0
	lastYear := endingYear + maxFutureYears
	for year := startingYear; year <= lastYear && (year <= endingYear || cursor < len(samples)); year++ {
		windows, err := g.bucketizer.YearWindows(f.Latitude, f.Longitude, year)
		if err != nil {
			return nil, report, err
		}

		for _, w := range windows {
			for cursor < len(samples) && samples[cursor].TimestampMillis < w.StartMillis {
				cursor++
				report.Skipped++
			}

			begin := cursor
			for cursor < len(samples) && samples[cursor].TimestampMillis < w.EndMillis {
				cursor++
			}
			if cursor == begin {
				continue
			}

			out.Data = append(out.Data, ReduceDay(w.NoonMillis, samples[begin:cursor], channels))
			report.Assigned += cursor - begin
		}
		report.LastYear = year
	}
	if cursor < len(samples) {
		// dated beyond the last walkable year
		report.Skipped += len(samples) - cursor
	}
	report.Days = len(out.Data)

	if report.Skipped > 0 {
		g.logger.Warn("Samples fell outside every day window",
			zap.Int64("feed_id", f.ID),
			zap.Int("skipped", report.Skipped),
		)
	}

	return out, report, nil
}

func compareSamples(a, b feed.Sample) int {
	return cmp.Compare(a.TimestampMillis, b.TimestampMillis)
}

func channelsOf(s feed.Sample) []string {
	names := make([]string, 0, len(s.Channels))
	for name := range s.Channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
