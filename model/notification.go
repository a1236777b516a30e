package model

import (
	"time"

	"github.com/google/uuid"
)

type Performance struct {
	HoursOld         float64
	ViewsPerHour     float64
	NormalizedViews  float64
	ChannelAverage   float64
	PerformanceRatio float64
	IsAboveAverage   bool
	PercentileRank   float64
	RecentVideos     int
	Threshold        float64
	Reason           string
}

type NotificationEvent struct {
	ID          uuid.UUID
	Video       Video
	Channel     Channel
	Performance Performance
	Policy      string
	Summary     string
	CreatedAt   time.Time
}
