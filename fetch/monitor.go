package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ewintr.nl/shortwatch/baseline"
	"ewintr.nl/shortwatch/metrics"
	"ewintr.nl/shortwatch/model"
	"ewintr.nl/shortwatch/quota"
	"ewintr.nl/shortwatch/storage"
	"golang.org/x/exp/slog"
	"golang.org/x/time/rate"
)

type ChannelReader interface {
	ChannelInfo(ctx context.Context, channelID model.YoutubeChannelID) (model.ChannelInfo, error)
	PlaylistVideos(ctx context.Context, playlistID string, limit int) ([]PlaylistEntry, error)
	VideoStatistics(ctx context.Context, ids []model.YoutubeVideoID) (map[model.YoutubeVideoID]model.Statistics, error)
	SearchChannel(ctx context.Context, query string) (model.YoutubeChannelID, error)
}

type BaselineComputer interface {
	Compute(ctx context.Context, channelID model.YoutubeChannelID) (*model.ChannelBaseline, error)
	Forget(ctx context.Context, channelID model.YoutubeChannelID)
}

type ChannelEvaluator interface {
	EvaluateChannel(ctx context.Context, channelID model.YoutubeChannelID) ([]model.NotificationEvent, error)
}

type MonitorConfig struct {
	PlaylistDepth   int
	Window          time.Duration
	ShortMaxSeconds int
	ChannelPause    time.Duration
}

func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		PlaylistDepth:   50,
		Window:          72 * time.Hour,
		ShortMaxSeconds: DefaultShortMax,
		ChannelPause:    2 * time.Second,
	}
}

type CycleReport struct {
	Channels       int
	Checked        int
	Failed         int
	Notified       int
	QuotaExhausted bool
	Cancelled      bool
	Duration       time.Duration
}

// Monitor refreshes every active channel in turn. It is meant to be driven
// by a single worker; cycles never overlap.
type Monitor struct {
	channelRepo  storage.ChannelRepository
	videoRepo    storage.VideoRepository
	snapshotRepo storage.SnapshotRepository
	credStore    quota.CredentialStore
	pool         *quota.Pool
	reader       ChannelReader
	baselines    BaselineComputer
	evaluator    ChannelEvaluator
	limiter      *rate.Limiter
	cfg          MonitorConfig
	metrics      *metrics.Metrics
	logger       *slog.Logger
	now          func() time.Time
}

func NewMonitor(store storage.Store, pool *quota.Pool, reader ChannelReader, baselines BaselineComputer, evaluator ChannelEvaluator, cfg MonitorConfig, m *metrics.Metrics, logger *slog.Logger) *Monitor {
	if cfg.PlaylistDepth <= 0 {
		cfg.PlaylistDepth = DefaultMonitorConfig().PlaylistDepth
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultMonitorConfig().Window
	}
	if cfg.ShortMaxSeconds <= 0 {
		cfg.ShortMaxSeconds = DefaultShortMax
	}
	limit := rate.Inf
	if cfg.ChannelPause > 0 {
		limit = rate.Every(cfg.ChannelPause)
	}

	return &Monitor{
		channelRepo:  store,
		videoRepo:    store,
		snapshotRepo: store,
		credStore:    store,
		pool:         pool,
		reader:       reader,
		baselines:    baselines,
		evaluator:    evaluator,
		limiter:      rate.NewLimiter(limit, 1),
		cfg:          cfg,
		metrics:      m,
		logger:       logger,
		now:          time.Now,
	}
}

// RunCycle checks all active channels once. A failing channel is logged and
// skipped. Running out of quota ends the cycle early. Cancelling ctx stops
// the cycle before the next channel, the channel in progress is finished
// with its calls left to complete.
func (m *Monitor) RunCycle(ctx context.Context) (CycleReport, error) {
	start := time.Now()
	report := CycleReport{}

	channels, err := m.channelRepo.FindChannels(ctx, true)
	if err != nil {
		return report, fmt.Errorf("could not load channels: %w", err)
	}
	report.Channels = len(channels)
	m.logger.Info("starting monitoring cycle", slog.Int("channels", len(channels)))

	for _, ch := range channels {
		if ctx.Err() != nil {
			report.Cancelled = true
			break
		}
		if err := m.limiter.Wait(ctx); err != nil {
			report.Cancelled = true
			break
		}

		events, err := m.RefreshChannel(context.WithoutCancel(ctx), ch.ID)
		m.flush(ctx)
		if err == nil {
			report.Checked++
			report.Notified += len(events)
			m.metrics.ObserveChannel("ok")
			continue
		}
		if errors.Is(err, ErrQuotaExhausted) {
			report.QuotaExhausted = true
			m.metrics.ObserveChannel("quota")
			m.logger.Error("quota exhausted, ending cycle early", slog.String("channelid", string(ch.ID)))
			break
		}
		report.Failed++
		m.metrics.ObserveChannel("failed")
		m.logger.Error("failed to refresh channel", slog.String("channelid", string(ch.ID)), slog.String("error", err.Error()))
	}

	report.Duration = time.Since(start)
	m.metrics.ObserveCycle(report.Duration)
	m.metrics.SetQuota(m.pool.Status())
	m.logger.Info("finished monitoring cycle",
		slog.Int("checked", report.Checked),
		slog.Int("failed", report.Failed),
		slog.Int("notified", report.Notified),
		slog.Bool("quotaexhausted", report.QuotaExhausted),
		slog.Bool("cancelled", report.Cancelled),
		slog.Duration("duration", report.Duration),
	)

	return report, nil
}

// RefreshChannel pulls fresh metadata and counters for one channel, records
// a snapshot per recent video, recomputes the baseline and evaluates the
// channel's videos.
func (m *Monitor) RefreshChannel(ctx context.Context, channelID model.YoutubeChannelID) ([]model.NotificationEvent, error) {
	now := m.now().UTC()
	ch, err := m.channelRepo.FindChannel(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("could not load channel: %w", err)
	}

	info, err := m.reader.ChannelInfo(ctx, channelID)
	if errors.Is(err, ErrChannelNotFound) {
		ch.Active = false
		if saveErr := m.channelRepo.SaveChannel(ctx, ch); saveErr != nil {
			return nil, saveErr
		}
		m.logger.Warn("channel no longer exists, deactivated", slog.String("channelid", string(channelID)))
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	ch.ApplyInfo(info, now)
	if err := m.channelRepo.SaveChannel(ctx, ch); err != nil {
		return nil, fmt.Errorf("could not save channel: %w", err)
	}

	if err := m.refreshVideos(ctx, ch, now); err != nil {
		return nil, err
	}

	if _, err := m.baselines.Compute(ctx, channelID); err != nil && !errors.Is(err, baseline.ErrNoBaseline) {
		return nil, fmt.Errorf("could not compute baseline: %w", err)
	}

	return m.evaluator.EvaluateChannel(ctx, channelID)
}

func (m *Monitor) refreshVideos(ctx context.Context, ch *model.Channel, now time.Time) error {
	entries := []PlaylistEntry{}
	if ch.UploadsFeedID != "" {
		var err error
		entries, err = m.reader.PlaylistVideos(ctx, ch.UploadsFeedID, m.cfg.PlaylistDepth)
		if err != nil {
			return fmt.Errorf("could not list uploads: %w", err)
		}
	}

	windowStart := now.Add(-m.cfg.Window)
	tracked, err := m.videoRepo.FindVideosSince(ctx, ch.ID, windowStart)
	if err != nil {
		return fmt.Errorf("could not load tracked videos: %w", err)
	}

	byID := make(map[model.YoutubeVideoID]PlaylistEntry, len(entries))
	ids := make([]model.YoutubeVideoID, 0, len(entries)+len(tracked))
	for _, e := range entries {
		if _, ok := byID[e.ID]; ok {
			continue
		}
		byID[e.ID] = e
		ids = append(ids, e.ID)
	}
	for _, v := range tracked {
		if _, ok := byID[v.ID]; !ok {
			ids = append(ids, v.ID)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	stats, err := m.reader.VideoStatistics(ctx, ids)
	if err != nil {
		return fmt.Errorf("could not fetch statistics: %w", err)
	}

	var created, updated int
	for _, id := range ids {
		s, ok := stats[id]
		if !ok {
			m.logger.Debug("no statistics for video", slog.String("videoid", string(id)))
			continue
		}

		video, err := m.videoRepo.FindVideo(ctx, id)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			e := byID[id]
			video = &model.Video{
				ID:              id,
				ChannelID:       ch.ID,
				Status:          model.StatusTracked,
				Title:           e.Title,
				Description:     e.Description,
				ThumbnailURL:    e.ThumbnailURL,
				PublishedAt:     e.PublishedAt,
				DurationSeconds: s.DurationSeconds,
				IsShort:         IsShort(s.DurationSeconds, m.cfg.ShortMaxSeconds),
				FirstSeen:       now,
			}
			created++
		case err != nil:
			return fmt.Errorf("could not load video: %w", err)
		default:
			if e, ok := byID[id]; ok {
				video.Title = e.Title
				video.Description = e.Description
				video.ThumbnailURL = e.ThumbnailURL
			}
			updated++
		}
		video.ApplyStatistics(s, now)

		if err := m.videoRepo.SaveVideo(ctx, video); err != nil {
			return fmt.Errorf("could not save video: %w", err)
		}
		if video.PublishedAt.Before(windowStart) {
			continue
		}
		if err := m.snapshotRepo.AppendSnapshot(ctx, model.ViewSnapshot{
			VideoID:          video.ID,
			ViewCount:        video.ViewCount,
			Timestamp:        now,
			HoursSinceUpload: video.HoursOld(now),
		}); err != nil {
			return fmt.Errorf("could not save snapshot: %w", err)
		}
	}

	m.logger.Info("refreshed videos",
		slog.String("channelid", string(ch.ID)),
		slog.Int("new", created),
		slog.Int("updated", updated),
	)

	return nil
}

// AddChannel starts monitoring a channel, or reactivates it.
func (m *Monitor) AddChannel(ctx context.Context, channelID model.YoutubeChannelID) (*model.Channel, error) {
	info, err := m.reader.ChannelInfo(ctx, channelID)
	m.flush(ctx)
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	ch, err := m.channelRepo.FindChannel(ctx, info.ID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		ch = &model.Channel{
			ID:        info.ID,
			CreatedAt: now,
		}
	case err != nil:
		return nil, err
	}
	ch.ApplyInfo(info, now)
	ch.Active = true
	if err := m.channelRepo.SaveChannel(ctx, ch); err != nil {
		return nil, fmt.Errorf("could not save channel: %w", err)
	}
	m.logger.Info("channel added", slog.String("channelid", string(ch.ID)), slog.String("title", ch.Title))

	return ch, nil
}

func (m *Monitor) AddChannelByQuery(ctx context.Context, query string) (*model.Channel, error) {
	channelID, err := m.reader.SearchChannel(ctx, query)
	m.flush(ctx)
	if err != nil {
		return nil, err
	}

	return m.AddChannel(ctx, channelID)
}

// RemoveChannel deletes the channel with its videos, snapshots and
// baselines.
func (m *Monitor) RemoveChannel(ctx context.Context, channelID model.YoutubeChannelID) error {
	if err := m.channelRepo.DeleteChannel(ctx, channelID); err != nil {
		return err
	}
	m.baselines.Forget(ctx, channelID)
	m.logger.Info("channel removed", slog.String("channelid", string(channelID)))

	return nil
}

func (m *Monitor) flush(ctx context.Context) {
	if err := m.pool.Flush(context.WithoutCancel(ctx), m.credStore); err != nil {
		m.logger.Error("failed to persist quota usage", slog.String("error", err.Error()))
	}
}
