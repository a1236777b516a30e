package baseline

import (
	"context"
	"fmt"
	"math"
	"sort"

	"ewintr.nl/shortwatch/model"
)

const (
	DefaultSummaryVideos = 25
	DefaultTrendingLimit = 10
	trendingWindow       = week
	velocitySnapshots    = 5
)

// Summary describes the raw view counts of a channel's latest shorts.
type Summary struct {
	ChannelID model.YoutubeChannelID
	Count     int
	Total     int64
	Mean      float64
	Median    float64
	Min       int64
	Max       int64
	StdDev    float64
}

// Summarize returns false when there are no videos to describe.
func Summarize(channelID model.YoutubeChannelID, videos []*model.Video) (Summary, bool) {
	if len(videos) == 0 {
		return Summary{}, false
	}

	views := make([]float64, 0, len(videos))
	s := Summary{
		ChannelID: channelID,
		Count:     len(videos),
		Min:       videos[0].ViewCount,
		Max:       videos[0].ViewCount,
	}
	for _, v := range videos {
		views = append(views, float64(v.ViewCount))
		s.Total += v.ViewCount
		if v.ViewCount < s.Min {
			s.Min = v.ViewCount
		}
		if v.ViewCount > s.Max {
			s.Max = v.ViewCount
		}
	}
	s.Mean = Mean(views)
	s.Median = Percentile(sortedCopy(views), 50)
	s.StdDev = StdDev(views)

	return s, true
}

// StdDev is the population standard deviation.
func StdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := Mean(values)
	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	return math.Sqrt(sq / float64(len(values)))
}

// Trend is the recent view velocity of a video.
type Trend struct {
	Video        *model.Video
	Velocity     float64
	CurrentViews int64
	GrowthRate   float64
}

// TrendOf measures the views gained per hour between the fifth last and the
// last snapshot. Growth is that gain as a percentage of the earlier count.
// At least two snapshots apart in time are needed.
func TrendOf(v *model.Video, snapshots []model.ViewSnapshot) (Trend, bool) {
	if len(snapshots) < 2 {
		return Trend{}, false
	}
	sorted := append([]model.ViewSnapshot{}, snapshots...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	latest := sorted[len(sorted)-1]
	earlier := sorted[max(0, len(sorted)-velocitySnapshots)]
	hours := latest.Timestamp.Sub(earlier.Timestamp).Hours()
	if hours <= 0 {
		return Trend{}, false
	}

	gained := float64(latest.ViewCount - earlier.ViewCount)
	t := Trend{
		Video:        v,
		Velocity:     gained / hours,
		CurrentViews: latest.ViewCount,
	}
	if earlier.ViewCount > 0 {
		t.GrowthRate = gained / float64(earlier.ViewCount) * 100
	}

	return t, true
}

// Trending ranks videos by velocity, fastest first, and keeps at most limit.
func Trending(videos []*model.Video, snapshots map[model.YoutubeVideoID][]model.ViewSnapshot, limit int) []Trend {
	trends := []Trend{}
	for _, v := range videos {
		if t, ok := TrendOf(v, snapshots[v.ID]); ok {
			trends = append(trends, t)
		}
	}
	sort.SliceStable(trends, func(i, j int) bool {
		return trends[i].Velocity > trends[j].Velocity
	})
	if limit > 0 && len(trends) > limit {
		trends = trends[:limit]
	}

	return trends
}

// Summary describes the latest n shorts of the channel.
func (e *Engine) Summary(ctx context.Context, channelID model.YoutubeChannelID, n int) (Summary, error) {
	if n <= 0 {
		n = DefaultSummaryVideos
	}
	videos, err := e.videoRepo.FindRecentShorts(ctx, channelID, n)
	if err != nil {
		return Summary{}, fmt.Errorf("could not load videos: %w", err)
	}
	s, ok := Summarize(channelID, videos)
	if !ok {
		return Summary{}, ErrNoVideos
	}

	return s, nil
}

// Trending returns the channel's fastest growing shorts of the past week.
func (e *Engine) Trending(ctx context.Context, channelID model.YoutubeChannelID, limit int) ([]Trend, error) {
	if limit <= 0 {
		limit = DefaultTrendingLimit
	}
	now := e.now().UTC()
	videos, err := e.videoRepo.FindVideosSince(ctx, channelID, now.Add(-trendingWindow))
	if err != nil {
		return nil, fmt.Errorf("could not load videos: %w", err)
	}

	shorts := make([]*model.Video, 0, len(videos))
	ids := make([]model.YoutubeVideoID, 0, len(videos))
	for _, v := range videos {
		if v.IsShort {
			shorts = append(shorts, v)
			ids = append(ids, v.ID)
		}
	}
	snapshots, err := e.snapshotRepo.FindSnapshots(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("could not load snapshots: %w", err)
	}

	return Trending(shorts, snapshots, limit), nil
}
