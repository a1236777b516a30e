package baseline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ewintr.nl/shortwatch/model"
	"ewintr.nl/shortwatch/storage"
	"golang.org/x/exp/slog"
)

// ErrNoBaseline means the channel has no qualifying videos yet. It is not a
// baseline of zero.
var ErrNoBaseline = errors.New("no baseline available")

var ErrNoVideos = errors.New("no videos to analyse")

const (
	week  = 7 * 24 * time.Hour
	month = 30 * 24 * time.Hour
)

type Config struct {
	Lookback   time.Duration
	ShortsOnly bool
}

func DefaultConfig() Config {
	return Config{
		Lookback:   month,
		ShortsOnly: true,
	}
}

type Engine struct {
	videoRepo    storage.VideoRepository
	snapshotRepo storage.SnapshotRepository
	baselineRepo storage.BaselineRepository
	cache        *storage.BaselineCache
	cfg          Config
	logger       *slog.Logger
	now          func() time.Time
}

func NewEngine(videoRepo storage.VideoRepository, snapshotRepo storage.SnapshotRepository, baselineRepo storage.BaselineRepository, cache *storage.BaselineCache, cfg Config, logger *slog.Logger) *Engine {
	if cfg.Lookback <= 0 {
		cfg.Lookback = month
	}
	return &Engine{
		videoRepo:    videoRepo,
		snapshotRepo: snapshotRepo,
		baselineRepo: baselineRepo,
		cache:        cache,
		cfg:          cfg,
		logger:       logger,
		now:          time.Now,
	}
}

// Compute derives a fresh baseline from the channel's recent videos and
// appends it to the history. Earlier records are left as they are.
func (e *Engine) Compute(ctx context.Context, channelID model.YoutubeChannelID) (*model.ChannelBaseline, error) {
	now := e.now().UTC()
	from := now.Add(-e.cfg.Lookback)
	if monthAgo := now.Add(-month); monthAgo.Before(from) {
		from = monthAgo
	}

	videos, err := e.videoRepo.FindVideosSince(ctx, channelID, from)
	if err != nil {
		return nil, fmt.Errorf("could not load videos: %w", err)
	}
	if e.cfg.ShortsOnly {
		shorts := videos[:0]
		for _, v := range videos {
			if v.IsShort {
				shorts = append(shorts, v)
			}
		}
		videos = shorts
	}

	ids := make([]model.YoutubeVideoID, 0, len(videos))
	for _, v := range videos {
		ids = append(ids, v.ID)
	}
	snapshots, err := e.snapshotRepo.FindSnapshots(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("could not load snapshots: %w", err)
	}

	var (
		estimates    []float64
		raw7, raw30  []float64
		lookbackFrom = now.Add(-e.cfg.Lookback)
	)
	for _, v := range videos {
		age := v.Age(now)
		if !v.PublishedAt.Before(lookbackFrom) {
			estimates = append(estimates, NormalizedViews(v, snapshots[v.ID], now))
		}
		if age <= week {
			raw7 = append(raw7, float64(v.ViewCount))
		}
		if age <= month {
			raw30 = append(raw30, float64(v.ViewCount))
		}
	}
	if len(estimates) == 0 {
		e.logger.Info("no qualifying videos for baseline", slog.String("channelid", string(channelID)))
		return nil, ErrNoBaseline
	}

	sorted := sortedCopy(estimates)
	b := &model.ChannelBaseline{
		ChannelID:    channelID,
		ComputedAt:   now,
		SampleSize:   len(estimates),
		AvgViews24h:  Mean(estimates),
		AvgViews7d:   Mean(raw7),
		AvgViews30d:  Mean(raw30),
		Percentile75: Percentile(sorted, 75),
		Percentile90: Percentile(sorted, 90),
	}
	if err := e.baselineRepo.AppendBaseline(ctx, b); err != nil {
		return nil, fmt.Errorf("could not save baseline: %w", err)
	}
	e.cache.Set(ctx, b)

	e.logger.Info("computed baseline",
		slog.String("channelid", string(channelID)),
		slog.Int("samples", b.SampleSize),
		slog.Float64("avg24h", b.AvgViews24h),
		slog.Float64("p75", b.Percentile75),
		slog.Float64("p90", b.Percentile90),
	)

	return b, nil
}

// Latest returns the most recent stored baseline.
func (e *Engine) Latest(ctx context.Context, channelID model.YoutubeChannelID) (*model.ChannelBaseline, error) {
	if b, ok := e.cache.Get(ctx, channelID); ok {
		return b, nil
	}
	b, err := e.baselineRepo.LatestBaseline(ctx, channelID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNoBaseline
	}
	if err != nil {
		return nil, err
	}
	e.cache.Set(ctx, b)

	return b, nil
}

// Forget drops the cached baseline of a channel that is no longer watched.
func (e *Engine) Forget(ctx context.Context, channelID model.YoutubeChannelID) {
	e.cache.Invalidate(ctx, channelID)
}
