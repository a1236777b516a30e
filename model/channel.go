package model

import "time"

type YoutubeChannelID string

type Channel struct {
	ID              YoutubeChannelID
	Title           string
	Description     string
	SubscriberCount int64
	VideoCount      int64
	ThumbnailURL    string
	UploadsFeedID   string
	CreatedAt       time.Time
	LastChecked     time.Time
	Active          bool
}

// ChannelInfo is the channel metadata as returned by channels.list.
type ChannelInfo struct {
	ID              YoutubeChannelID
	Title           string
	Description     string
	SubscriberCount int64
	VideoCount      int64
	ThumbnailURL    string
	UploadsFeedID   string
}

// ApplyInfo updates the channel field by field. The active flag and creation
// time are owned by us, not by the API.
func (c *Channel) ApplyInfo(info ChannelInfo, now time.Time) {
	c.Title = info.Title
	c.Description = info.Description
	c.SubscriberCount = info.SubscriberCount
	c.VideoCount = info.VideoCount
	c.ThumbnailURL = info.ThumbnailURL
	c.UploadsFeedID = info.UploadsFeedID
	c.LastChecked = now
}

type ChannelBaseline struct {
	ID           int64
	ChannelID    YoutubeChannelID
	ComputedAt   time.Time
	SampleSize   int
	AvgViews24h  float64
	AvgViews7d   float64
	AvgViews30d  float64
	Percentile75 float64
	Percentile90 float64
}

// Percentile returns the stored band for p, falling back to the 75th.
func (b *ChannelBaseline) Percentile(p int) float64 {
	if p >= 90 {
		return b.Percentile90
	}
	return b.Percentile75
}
