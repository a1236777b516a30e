package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"ewintr.nl/shortwatch/baseline"
	"ewintr.nl/shortwatch/fetch"
	"ewintr.nl/shortwatch/model"
	"ewintr.nl/shortwatch/storage"
	"golang.org/x/exp/slog"
)

type ChannelManager interface {
	AddChannel(ctx context.Context, channelID model.YoutubeChannelID) (*model.Channel, error)
	AddChannelByQuery(ctx context.Context, query string) (*model.Channel, error)
	RemoveChannel(ctx context.Context, channelID model.YoutubeChannelID) error
}

type ChannelLister interface {
	FindChannels(ctx context.Context, activeOnly bool) ([]*model.Channel, error)
}

type BaselineSource interface {
	Latest(ctx context.Context, channelID model.YoutubeChannelID) (*model.ChannelBaseline, error)
}

type ChannelAnalytics interface {
	Summary(ctx context.Context, channelID model.YoutubeChannelID, n int) (baseline.Summary, error)
	Trending(ctx context.Context, channelID model.YoutubeChannelID, limit int) ([]baseline.Trend, error)
}

type ChannelAPI struct {
	manager     ChannelManager
	channelRepo ChannelLister
	baselines   BaselineSource
	analytics   ChannelAnalytics
	logger      *slog.Logger
}

func NewChannelAPI(manager ChannelManager, channelRepo ChannelLister, baselines BaselineSource, analytics ChannelAnalytics, logger *slog.Logger) *ChannelAPI {
	return &ChannelAPI{
		manager:     manager,
		channelRepo: channelRepo,
		baselines:   baselines,
		analytics:   analytics,
		logger:      logger,
	}
}

func (c *ChannelAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	channelID, tail := ShiftPath(r.URL.Path)
	sub, _ := ShiftPath(tail)

	switch {
	case r.Method == http.MethodGet && channelID == "":
		c.List(w, r)
	case r.Method == http.MethodPost && channelID == "":
		c.AddByQuery(w, r)
	case r.Method == http.MethodPost && sub == "":
		c.Add(w, r, model.YoutubeChannelID(channelID))
	case r.Method == http.MethodDelete && channelID != "" && sub == "":
		c.Remove(w, r, model.YoutubeChannelID(channelID))
	case r.Method == http.MethodGet && channelID != "" && sub == "baseline":
		c.Baseline(w, r, model.YoutubeChannelID(channelID))
	case r.Method == http.MethodGet && channelID != "" && sub == "summary":
		c.Summary(w, r, model.YoutubeChannelID(channelID))
	case r.Method == http.MethodGet && channelID != "" && sub == "trending":
		c.Trending(w, r, model.YoutubeChannelID(channelID))
	default:
		Error(w, http.StatusNotFound, "not found", fmt.Errorf("method %s with subpath %q was not registered in the channel api", r.Method, r.URL.Path))
	}
}

type respChannel struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	SubscriberCount int64     `json:"subscriberCount"`
	VideoCount      int64     `json:"videoCount"`
	Active          bool      `json:"active"`
	LastChecked     time.Time `json:"lastChecked"`
}

func toRespChannel(ch *model.Channel) respChannel {
	return respChannel{
		ID:              string(ch.ID),
		Title:           ch.Title,
		SubscriberCount: ch.SubscriberCount,
		VideoCount:      ch.VideoCount,
		Active:          ch.Active,
		LastChecked:     ch.LastChecked,
	}
}

func (c *ChannelAPI) List(w http.ResponseWriter, r *http.Request) {
	channels, err := c.channelRepo.FindChannels(r.Context(), false)
	if err != nil {
		c.returnErr(r.Context(), w, http.StatusInternalServerError, "could not list channels", err)
		return
	}

	resp := make([]respChannel, 0, len(channels))
	for _, ch := range channels {
		resp = append(resp, toRespChannel(ch))
	}
	JSON(w, http.StatusOK, resp)
}

func (c *ChannelAPI) Add(w http.ResponseWriter, r *http.Request, channelID model.YoutubeChannelID) {
	ch, err := c.manager.AddChannel(r.Context(), channelID)
	if err != nil {
		c.returnErr(r.Context(), w, statusFor(err), "could not add channel", err, string(channelID))
		return
	}
	JSON(w, http.StatusCreated, toRespChannel(ch))
}

func (c *ChannelAPI) AddByQuery(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		Error(w, http.StatusBadRequest, "missing query", errors.New("provide a channel id in the path or a search query as q"))
		return
	}
	ch, err := c.manager.AddChannelByQuery(r.Context(), query)
	if err != nil {
		c.returnErr(r.Context(), w, statusFor(err), "could not add channel", err, query)
		return
	}
	JSON(w, http.StatusCreated, toRespChannel(ch))
}

func (c *ChannelAPI) Remove(w http.ResponseWriter, r *http.Request, channelID model.YoutubeChannelID) {
	if err := c.manager.RemoveChannel(r.Context(), channelID); err != nil {
		c.returnErr(r.Context(), w, statusFor(err), "could not remove channel", err, string(channelID))
		return
	}
	Message(w, http.StatusOK, "channel removed", string(channelID))
}

func (c *ChannelAPI) Baseline(w http.ResponseWriter, r *http.Request, channelID model.YoutubeChannelID) {
	b, err := c.baselines.Latest(r.Context(), channelID)
	if err != nil {
		c.returnErr(r.Context(), w, statusFor(err), "could not get baseline", err, string(channelID))
		return
	}

	JSON(w, http.StatusOK, struct {
		ChannelID    string    `json:"channelId"`
		ComputedAt   time.Time `json:"computedAt"`
		SampleSize   int       `json:"sampleSize"`
		AvgViews24h  float64   `json:"avgViews24h"`
		AvgViews7d   float64   `json:"avgViews7d"`
		AvgViews30d  float64   `json:"avgViews30d"`
		Percentile75 float64   `json:"percentile75"`
		Percentile90 float64   `json:"percentile90"`
	}{
		ChannelID:    string(b.ChannelID),
		ComputedAt:   b.ComputedAt,
		SampleSize:   b.SampleSize,
		AvgViews24h:  b.AvgViews24h,
		AvgViews7d:   b.AvgViews7d,
		AvgViews30d:  b.AvgViews30d,
		Percentile75: b.Percentile75,
		Percentile90: b.Percentile90,
	})
}

func (c *ChannelAPI) Summary(w http.ResponseWriter, r *http.Request, channelID model.YoutubeChannelID) {
	n, err := intParam(r, "count", baseline.DefaultSummaryVideos)
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid count", err)
		return
	}
	s, err := c.analytics.Summary(r.Context(), channelID, n)
	if err != nil {
		c.returnErr(r.Context(), w, statusFor(err), "could not summarize channel", err, string(channelID))
		return
	}

	JSON(w, http.StatusOK, struct {
		ChannelID string  `json:"channelId"`
		Count     int     `json:"recentVideosCount"`
		Total     int64   `json:"totalViews"`
		Mean      float64 `json:"averageViews"`
		Median    float64 `json:"medianViews"`
		Min       int64   `json:"minViews"`
		Max       int64   `json:"maxViews"`
		StdDev    float64 `json:"stdDev"`
	}{
		ChannelID: string(s.ChannelID),
		Count:     s.Count,
		Total:     s.Total,
		Mean:      s.Mean,
		Median:    s.Median,
		Min:       s.Min,
		Max:       s.Max,
		StdDev:    s.StdDev,
	})
}

type respTrend struct {
	Video        respVideo `json:"video"`
	Velocity     float64   `json:"velocity"`
	CurrentViews int64     `json:"currentViews"`
	GrowthRate   float64   `json:"growthRate"`
}

func (c *ChannelAPI) Trending(w http.ResponseWriter, r *http.Request, channelID model.YoutubeChannelID) {
	limit, err := intParam(r, "limit", baseline.DefaultTrendingLimit)
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid limit", err)
		return
	}
	trends, err := c.analytics.Trending(r.Context(), channelID, limit)
	if err != nil {
		c.returnErr(r.Context(), w, statusFor(err), "could not find trending videos", err, string(channelID))
		return
	}

	resp := make([]respTrend, 0, len(trends))
	for _, t := range trends {
		resp = append(resp, respTrend{
			Video:        toRespVideo(t.Video),
			Velocity:     t.Velocity,
			CurrentViews: t.CurrentViews,
			GrowthRate:   t.GrowthRate,
		})
	}
	JSON(w, http.StatusOK, resp)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound),
		errors.Is(err, fetch.ErrChannelNotFound),
		errors.Is(err, fetch.ErrNotFound),
		errors.Is(err, baseline.ErrNoBaseline),
		errors.Is(err, baseline.ErrNoVideos):
		return http.StatusNotFound
	case errors.Is(err, fetch.ErrQuotaExhausted):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func (c *ChannelAPI) returnErr(_ context.Context, w http.ResponseWriter, status int, message string, err error, details ...any) {
	c.logger.Error(message, slog.String("err", err.Error()), slog.String("details", fmt.Sprintf("%+v", details)))
	Error(w, status, message, err, details...)
}
