package model

import "time"

type VideoStatus string

// A video starts out tracked once it has been seen in an uploads playlist and
// moves to notified exactly once. There is no way back.
const (
	StatusTracked  VideoStatus = "tracked"
	StatusNotified VideoStatus = "notified"
)

type YoutubeVideoID string

type Video struct {
	ID              YoutubeVideoID
	ChannelID       YoutubeChannelID
	Status          VideoStatus
	Title           string
	Description     string
	ThumbnailURL    string
	PublishedAt     time.Time
	DurationSeconds int
	IsShort         bool
	ViewCount       int64
	LikeCount       int64
	CommentCount    int64
	FirstSeen       time.Time
	LastUpdated     time.Time
}

func (v *Video) Notified() bool {
	return v.Status == StatusNotified
}

// Age returns the time since publication. PublishedAt is always read as UTC,
// whatever location the store handed back.
func (v *Video) Age(now time.Time) time.Duration {
	return now.UTC().Sub(v.PublishedAt.UTC())
}

func (v *Video) HoursOld(now time.Time) float64 {
	return v.Age(now).Hours()
}

// Statistics is the mutable part of a video as reported by the API.
type Statistics struct {
	ViewCount       int64
	LikeCount       int64
	CommentCount    int64
	DurationSeconds int
}

// ApplyStatistics copies fresh counters onto the video. The short
// classification is left alone, it is fixed at ingestion.
func (v *Video) ApplyStatistics(s Statistics, now time.Time) {
	v.ViewCount = s.ViewCount
	v.LikeCount = s.LikeCount
	v.CommentCount = s.CommentCount
	v.LastUpdated = now
}

type ViewSnapshot struct {
	VideoID          YoutubeVideoID
	ViewCount        int64
	Timestamp        time.Time
	HoursSinceUpload float64
}
