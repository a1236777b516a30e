// Package process decides which tracked videos deserve a notification and
// hands those to the delivery side.
package process

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"ewintr.nl/shortwatch/baseline"
	"ewintr.nl/shortwatch/metrics"
	"ewintr.nl/shortwatch/model"
	"ewintr.nl/shortwatch/storage"
	"github.com/google/uuid"
	"golang.org/x/exp/slog"
)

type Notifier interface {
	Notify(ctx context.Context, event model.NotificationEvent) error
}

type BaselineSource interface {
	Latest(ctx context.Context, channelID model.YoutubeChannelID) (*model.ChannelBaseline, error)
}

type EvaluatorConfig struct {
	Window       time.Duration
	MinDwell     time.Duration
	RecentVideos int
}

func DefaultEvaluatorConfig() EvaluatorConfig {
	return EvaluatorConfig{
		Window:       72 * time.Hour,
		MinDwell:     4 * time.Hour,
		RecentVideos: 25,
	}
}

type Evaluator struct {
	channelRepo  storage.ChannelRepository
	videoRepo    storage.VideoRepository
	snapshotRepo storage.SnapshotRepository
	baselines    BaselineSource
	policy       Policy
	enrichers    *Enrichers
	notifier     Notifier
	cfg          EvaluatorConfig
	metrics      *metrics.Metrics
	logger       *slog.Logger
	now          func() time.Time
}

func NewEvaluator(store storage.Store, baselines BaselineSource, policy Policy, enrichers *Enrichers, notifier Notifier, cfg EvaluatorConfig, m *metrics.Metrics, logger *slog.Logger) *Evaluator {
	def := DefaultEvaluatorConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.RecentVideos <= 0 {
		cfg.RecentVideos = def.RecentVideos
	}
	if cfg.MinDwell < 0 {
		cfg.MinDwell = 0
	}

	return &Evaluator{
		channelRepo:  store,
		videoRepo:    store,
		snapshotRepo: store,
		baselines:    baselines,
		policy:       policy,
		enrichers:    enrichers,
		notifier:     notifier,
		cfg:          cfg,
		metrics:      m,
		logger:       logger,
		now:          time.Now,
	}
}

// EvaluateChannel checks every recent short of the channel and delivers a
// notification for those that qualify. A video is marked notified only
// after delivery succeeded, so a failed delivery is tried again next time.
func (e *Evaluator) EvaluateChannel(ctx context.Context, channelID model.YoutubeChannelID) ([]model.NotificationEvent, error) {
	now := e.now().UTC()

	ch, err := e.channelRepo.FindChannel(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("could not load channel: %w", err)
	}
	videos, err := e.videoRepo.FindVideosSince(ctx, channelID, now.Add(-e.cfg.Window))
	if err != nil {
		return nil, fmt.Errorf("could not load videos: %w", err)
	}
	if len(videos) == 0 {
		return nil, nil
	}

	var b *model.ChannelBaseline
	if e.policy.NeedsBaseline() {
		b, err = e.baselines.Latest(ctx, channelID)
		if errors.Is(err, baseline.ErrNoBaseline) {
			e.logger.Info("no baseline yet, cannot evaluate", slog.String("channelid", string(channelID)))
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("could not load baseline: %w", err)
		}
	}

	recent, err := e.videoRepo.FindRecentShorts(ctx, channelID, e.cfg.RecentVideos+1)
	if err != nil {
		return nil, fmt.Errorf("could not load recent videos: %w", err)
	}
	ids := make([]model.YoutubeVideoID, 0, len(videos))
	for _, v := range videos {
		ids = append(ids, v.ID)
	}
	snapshots, err := e.snapshotRepo.FindSnapshots(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("could not load snapshots: %w", err)
	}

	events := []model.NotificationEvent{}
	for _, v := range videos {
		if !e.eligible(v, now) {
			continue
		}

		perf := e.performance(v, snapshots[v.ID], recent, now)
		if !e.policy.Decide(v, &perf, b) {
			e.logger.Debug("below threshold",
				slog.String("videoid", string(v.ID)),
				slog.Int64("views", v.ViewCount),
				slog.Float64("normalized", perf.NormalizedViews),
				slog.Float64("threshold", perf.Threshold),
			)
			continue
		}

		event := model.NotificationEvent{
			ID:          uuid.New(),
			Video:       *v,
			Channel:     *ch,
			Performance: perf,
			Policy:      e.policy.Name(),
			CreatedAt:   now,
		}
		if e.deliver(ctx, &event) {
			events = append(events, event)
		}
	}

	return events, nil
}

func (e *Evaluator) eligible(v *model.Video, now time.Time) bool {
	switch {
	case !v.IsShort:
		return false
	case v.Notified():
		e.logger.Debug("already notified, skipping", slog.String("videoid", string(v.ID)))
		return false
	case v.Age(now) > e.cfg.Window:
		return false
	case v.Age(now) < e.cfg.MinDwell:
		e.logger.Debug("too young to evaluate", slog.String("videoid", string(v.ID)), slog.Float64("hours", v.HoursOld(now)))
		return false
	}
	return true
}

func (e *Evaluator) deliver(ctx context.Context, event *model.NotificationEvent) bool {
	vid := event.Video.ID
	e.enrichers.Run(ctx, event)

	if err := e.notifier.Notify(ctx, *event); err != nil {
		e.metrics.ObserveNotification("failed")
		e.logger.Error("failed to deliver notification, will retry next cycle", slog.String("videoid", string(vid)), slog.String("error", err.Error()))
		return false
	}
	e.metrics.ObserveNotification("sent")

	marked, err := e.videoRepo.MarkNotified(ctx, vid)
	if err != nil {
		e.logger.Error("failed to mark video notified", slog.String("videoid", string(vid)), slog.String("error", err.Error()))
		return true
	}
	if !marked {
		e.logger.Debug("already notified, skipping", slog.String("videoid", string(vid)))
		return false
	}
	event.Video.Status = model.StatusNotified
	e.logger.Info("notified",
		slog.String("videoid", string(vid)),
		slog.String("channelid", string(event.Channel.ID)),
		slog.String("reason", event.Performance.Reason),
	)

	return true
}

// performance compares the video against the channel's most recent shorts,
// excluding the video itself.
func (e *Evaluator) performance(v *model.Video, snapshots []model.ViewSnapshot, recent []*model.Video, now time.Time) model.Performance {
	hours := v.HoursOld(now)
	views := make([]float64, 0, len(recent))
	for _, r := range recent {
		if r.ID == v.ID || len(views) == e.cfg.RecentVideos {
			continue
		}
		views = append(views, float64(r.ViewCount))
	}
	avg := baseline.Mean(views)

	perf := model.Performance{
		HoursOld:        hours,
		ViewsPerHour:    float64(v.ViewCount) / math.Max(hours, 1),
		NormalizedViews: baseline.NormalizedViews(v, snapshots, now),
		ChannelAverage:  avg,
		PercentileRank:  baseline.PercentileRank(views, float64(v.ViewCount)),
		RecentVideos:    len(views),
	}
	if avg > 0 {
		perf.PerformanceRatio = float64(v.ViewCount) / avg
		perf.IsAboveAverage = perf.PerformanceRatio > 1
	}

	return perf
}
