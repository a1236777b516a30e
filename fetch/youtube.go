package fetch

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"ewintr.nl/shortwatch/model"
	"ewintr.nl/shortwatch/quota"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

const (
	batchSize       = 50
	DefaultShortMax = 60
)

// PlaylistEntry is one upload as listed in a channel's uploads playlist.
type PlaylistEntry struct {
	ID           model.YoutubeVideoID
	Title        string
	Description  string
	ThumbnailURL string
	PublishedAt  time.Time
}

// Youtube talks to the Data API through the executor, so every call is
// charged to, and retried on, the credential pool.
type Youtube struct {
	exec     *Executor
	opts     []option.ClientOption
	mu       sync.Mutex
	services map[string]*youtube.Service
}

// NewYoutube creates the client. Extra options are passed to every service,
// next to the api key of the credential in use.
func NewYoutube(exec *Executor, opts ...option.ClientOption) *Youtube {
	return &Youtube{
		exec:     exec,
		opts:     opts,
		services: make(map[string]*youtube.Service),
	}
}

func (y *Youtube) service(ctx context.Context, apiKey string) (*youtube.Service, error) {
	y.mu.Lock()
	defer y.mu.Unlock()

	if svc, ok := y.services[apiKey]; ok {
		return svc, nil
	}
	opts := append([]option.ClientOption{option.WithAPIKey(apiKey)}, y.opts...)
	svc, err := youtube.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("could not create youtube service: %w", err)
	}
	y.services[apiKey] = svc

	return svc, nil
}

// do runs call through the executor and charges the operation's cost to the
// key that served it.
func (y *Youtube) do(ctx context.Context, op quota.Operation, call Call) error {
	if err := y.exec.Do(ctx, op, call); err != nil {
		return err
	}
	pool := y.exec.Pool()
	pool.MarkUsed(pool.Tracker().Cost(op))

	return nil
}

func (y *Youtube) ChannelInfo(ctx context.Context, channelID model.YoutubeChannelID) (model.ChannelInfo, error) {
	var response *youtube.ChannelListResponse
	err := y.do(ctx, quota.OpChannelsList, func(ctx context.Context, apiKey string) error {
		svc, err := y.service(ctx, apiKey)
		if err != nil {
			return err
		}
		response, err = svc.Channels.
			List([]string{"snippet", "statistics", "contentDetails"}).
			Id(string(channelID)).
			Context(ctx).
			Do()
		return err
	})
	if err != nil {
		return model.ChannelInfo{}, err
	}
	if len(response.Items) == 0 {
		return model.ChannelInfo{}, fmt.Errorf("%w: %s", ErrChannelNotFound, channelID)
	}

	item := response.Items[0]
	info := model.ChannelInfo{
		ID: model.YoutubeChannelID(item.Id),
	}
	if item.Snippet != nil {
		info.Title = item.Snippet.Title
		info.Description = item.Snippet.Description
		info.ThumbnailURL = thumbnailURL(item.Snippet.Thumbnails)
	}
	if item.Statistics != nil {
		info.SubscriberCount = int64(item.Statistics.SubscriberCount)
		info.VideoCount = int64(item.Statistics.VideoCount)
	}
	if item.ContentDetails != nil && item.ContentDetails.RelatedPlaylists != nil {
		info.UploadsFeedID = item.ContentDetails.RelatedPlaylists.Uploads
	}

	return info, nil
}

// PlaylistVideos lists up to limit entries of a playlist, newest first.
func (y *Youtube) PlaylistVideos(ctx context.Context, playlistID string, limit int) ([]PlaylistEntry, error) {
	entries := []PlaylistEntry{}
	token := ""
	for len(entries) < limit {
		var response *youtube.PlaylistItemListResponse
		err := y.do(ctx, quota.OpPlaylistItemsList, func(ctx context.Context, apiKey string) error {
			svc, err := y.service(ctx, apiKey)
			if err != nil {
				return err
			}
			call := svc.PlaylistItems.
				List([]string{"snippet", "contentDetails"}).
				PlaylistId(playlistID).
				MaxResults(int64(min(batchSize, limit-len(entries)))).
				Context(ctx)
			if token != "" {
				call.PageToken(token)
			}
			response, err = call.Do()
			return err
		})
		if err != nil {
			return nil, err
		}

		for _, item := range response.Items {
			if item.ContentDetails == nil || item.ContentDetails.VideoId == "" {
				continue
			}
			entry := PlaylistEntry{
				ID: model.YoutubeVideoID(item.ContentDetails.VideoId),
			}
			published := item.ContentDetails.VideoPublishedAt
			if item.Snippet != nil {
				entry.Title = item.Snippet.Title
				entry.Description = item.Snippet.Description
				entry.ThumbnailURL = thumbnailURL(item.Snippet.Thumbnails)
				if published == "" {
					published = item.Snippet.PublishedAt
				}
			}
			if t, err := time.Parse(time.RFC3339, published); err == nil {
				entry.PublishedAt = t.UTC()
			}
			entries = append(entries, entry)
		}

		token = response.NextPageToken
		if token == "" || len(response.Items) == 0 {
			break
		}
	}

	return entries, nil
}

// VideoStatistics fetches counters and durations in batches. Ids the API
// does not return are absent from the result.
func (y *Youtube) VideoStatistics(ctx context.Context, ids []model.YoutubeVideoID) (map[model.YoutubeVideoID]model.Statistics, error) {
	stats := make(map[model.YoutubeVideoID]model.Statistics, len(ids))
	for start := 0; start < len(ids); start += batchSize {
		end := min(start+batchSize, len(ids))
		strIDs := make([]string, 0, end-start)
		for _, id := range ids[start:end] {
			strIDs = append(strIDs, string(id))
		}

		var response *youtube.VideoListResponse
		err := y.do(ctx, quota.OpVideosList, func(ctx context.Context, apiKey string) error {
			svc, err := y.service(ctx, apiKey)
			if err != nil {
				return err
			}
			response, err = svc.Videos.
				List([]string{"statistics", "contentDetails"}).
				Id(strings.Join(strIDs, ",")).
				Context(ctx).
				Do()
			return err
		})
		if err != nil {
			return nil, err
		}

		for _, item := range response.Items {
			var s model.Statistics
			if item.Statistics != nil {
				s.ViewCount = int64(item.Statistics.ViewCount)
				s.LikeCount = int64(item.Statistics.LikeCount)
				s.CommentCount = int64(item.Statistics.CommentCount)
			}
			if item.ContentDetails != nil {
				s.DurationSeconds = ParseDuration(item.ContentDetails.Duration)
			}
			stats[model.YoutubeVideoID(item.Id)] = s
		}
	}

	return stats, nil
}

// SearchChannel resolves a free text query to the best matching channel.
// It is expensive, so it is only used when a channel is added by hand.
func (y *Youtube) SearchChannel(ctx context.Context, query string) (model.YoutubeChannelID, error) {
	var response *youtube.SearchListResponse
	err := y.do(ctx, quota.OpSearchList, func(ctx context.Context, apiKey string) error {
		svc, err := y.service(ctx, apiKey)
		if err != nil {
			return err
		}
		response, err = svc.Search.
			List([]string{"snippet"}).
			Q(query).
			Type("channel").
			MaxResults(1).
			Context(ctx).
			Do()
		return err
	})
	if err != nil {
		return "", err
	}
	for _, item := range response.Items {
		if item.Id != nil && item.Id.ChannelId != "" {
			return model.YoutubeChannelID(item.Id.ChannelId), nil
		}
	}

	return "", fmt.Errorf("%w: %q", ErrChannelNotFound, query)
}

func thumbnailURL(t *youtube.ThumbnailDetails) string {
	if t == nil {
		return ""
	}
	for _, th := range []*youtube.Thumbnail{t.High, t.Medium, t.Default} {
		if th != nil && th.Url != "" {
			return th.Url
		}
	}
	return ""
}

var durationRe = regexp.MustCompile(`^P(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?)?$`)

// ParseDuration converts an ISO 8601 duration like PT1M5S to seconds.
// Anything unparseable counts as zero.
func ParseDuration(d string) int {
	m := durationRe.FindStringSubmatch(d)
	if m == nil {
		return 0
	}
	total := 0
	for i, unit := range []int{86400, 3600, 60, 1} {
		if m[i+1] == "" {
			continue
		}
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return 0
		}
		total += n * unit
	}

	return total
}

// IsShort reports whether a duration qualifies as a short. Unknown (zero)
// durations do not.
func IsShort(seconds, maxSeconds int) bool {
	return seconds > 0 && seconds <= maxSeconds
}
