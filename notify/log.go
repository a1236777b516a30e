package notify

import (
	"context"

	"ewintr.nl/shortwatch/model"
	"golang.org/x/exp/slog"
)

// Log writes events to the logger. It stands in for Discord when no bot
// token is configured.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Notify(_ context.Context, event model.NotificationEvent) error {
	l.logger.Info("notification",
		slog.String("event", event.ID.String()),
		slog.String("videoid", string(event.Video.ID)),
		slog.String("title", event.Video.Title),
		slog.String("channel", event.Channel.Title),
		slog.Int64("views", event.Video.ViewCount),
		slog.Float64("ratio", event.Performance.PerformanceRatio),
		slog.String("reason", event.Performance.Reason),
		slog.String("url", VideoURL(event.Video.ID)),
	)
	return nil
}
