package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"ewintr.nl/shortwatch/model"
	"golang.org/x/exp/slog"
)

const (
	defaultShortsHours = 24
	defaultShortsLimit = 50
)

type ShortLister interface {
	FindShortsSince(ctx context.Context, since time.Time, limit int) ([]*model.Video, error)
}

type VideoAPI struct {
	videoRepo ShortLister
	logger    *slog.Logger
	now       func() time.Time
}

func NewVideoAPI(videoRepo ShortLister, logger *slog.Logger) *VideoAPI {
	return &VideoAPI{
		videoRepo: videoRepo,
		logger:    logger,
		now:       time.Now,
	}
}

func (v *VideoAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	head, tail := ShiftPath(r.URL.Path)

	switch {
	case r.Method == http.MethodGet && head == "shorts" && tail == "/":
		v.Shorts(w, r)
	default:
		Error(w, http.StatusNotFound, "not found", fmt.Errorf("method %s with subpath %q was not registered in the video api", r.Method, r.URL.Path))
	}
}

type respVideo struct {
	ID              string    `json:"id"`
	ChannelID       string    `json:"channelId"`
	Title           string    `json:"title"`
	ViewCount       int64     `json:"viewCount"`
	LikeCount       int64     `json:"likeCount"`
	PublishedAt     time.Time `json:"publishedAt"`
	DurationSeconds int       `json:"durationSeconds"`
	IsShort         bool      `json:"isShort"`
	Notified        bool      `json:"notified"`
}

func toRespVideo(video *model.Video) respVideo {
	return respVideo{
		ID:              string(video.ID),
		ChannelID:       string(video.ChannelID),
		Title:           video.Title,
		ViewCount:       video.ViewCount,
		LikeCount:       video.LikeCount,
		PublishedAt:     video.PublishedAt,
		DurationSeconds: video.DurationSeconds,
		IsShort:         video.IsShort,
		Notified:        video.Notified(),
	}
}

// Shorts lists the shorts of all channels published in the last hours,
// newest first.
func (v *VideoAPI) Shorts(w http.ResponseWriter, r *http.Request) {
	hours, err := intParam(r, "hours", defaultShortsHours)
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid hours", err)
		return
	}
	limit, err := intParam(r, "limit", defaultShortsLimit)
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid limit", err)
		return
	}

	since := v.now().UTC().Add(-time.Duration(hours) * time.Hour)
	videos, err := v.videoRepo.FindShortsSince(r.Context(), since, limit)
	if err != nil {
		v.logger.Error("could not list shorts", slog.String("err", err.Error()))
		Error(w, http.StatusInternalServerError, "could not list shorts", err)
		return
	}

	resp := make([]respVideo, 0, len(videos))
	for _, video := range videos {
		resp = append(resp, toRespVideo(video))
	}
	JSON(w, http.StatusOK, resp)
}
