// Package notify delivers notification events to the outside world.
package notify

import (
	"context"
	"fmt"
	"time"

	"ewintr.nl/shortwatch/model"
	"github.com/bwmarrin/discordgo"
	"golang.org/x/exp/slog"
)

const colorViral = 0xFF0000

// EmbedSender is the part of a discordgo session we need.
type EmbedSender interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

type Discord struct {
	session   EmbedSender
	channelID string
	logger    *slog.Logger
}

func NewDiscord(session EmbedSender, channelID string, logger *slog.Logger) *Discord {
	return &Discord{
		session:   session,
		channelID: channelID,
		logger:    logger,
	}
}

// NewDiscordSession creates a bot session for sending only. No gateway
// connection is opened.
func NewDiscordSession(token string) (*discordgo.Session, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("error creating discord session: %w", err)
	}
	return s, nil
}

func (d *Discord) Notify(ctx context.Context, event model.NotificationEvent) error {
	if _, err := d.session.ChannelMessageSendEmbed(d.channelID, Embed(event), discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("could not send discord message: %w", err)
	}
	d.logger.Info("sent discord notification", slog.String("videoid", string(event.Video.ID)), slog.String("channel", d.channelID))

	return nil
}

func Embed(event model.NotificationEvent) *discordgo.MessageEmbed {
	v, p := event.Video, event.Performance

	embed := &discordgo.MessageEmbed{
		Title:       v.Title,
		URL:         VideoURL(v.ID),
		Description: event.Summary,
		Color:       colorViral,
		Timestamp:   event.CreatedAt.UTC().Format(time.RFC3339),
		Author: &discordgo.MessageEmbedAuthor{
			Name: event.Channel.Title,
			URL:  fmt.Sprintf("https://www.youtube.com/channel/%s", event.Channel.ID),
		},
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Views", Value: formatCount(v.ViewCount), Inline: true},
			{Name: "Likes", Value: formatCount(v.LikeCount), Inline: true},
			{Name: "Comments", Value: formatCount(v.CommentCount), Inline: true},
			{Name: "Duration", Value: fmt.Sprintf("%ds", v.DurationSeconds), Inline: true},
			{Name: "Age", Value: fmt.Sprintf("%.1fh", p.HoursOld), Inline: true},
			{Name: "Views/hour", Value: formatCount(int64(p.ViewsPerHour)), Inline: true},
			{Name: "Performance", Value: fmt.Sprintf("%.2fx channel average", p.PerformanceRatio), Inline: true},
			{Name: "Percentile", Value: fmt.Sprintf("%.0f", p.PercentileRank), Inline: true},
			{Name: "Reason", Value: p.Reason},
		},
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("policy: %s", event.Policy),
		},
	}
	if v.ThumbnailURL != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: v.ThumbnailURL}
	}

	return embed
}

func VideoURL(id model.YoutubeVideoID) string {
	return fmt.Sprintf("https://www.youtube.com/shorts/%s", id)
}

// formatCount renders 1234567 as 1,234,567.
func formatCount(n int64) string {
	s := fmt.Sprintf("%d", n)
	neg := false
	if n < 0 {
		neg = true
		s = s[1:]
	}
	out := make([]byte, 0, len(s)+len(s)/3)
	for i := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, s[i])
	}
	if neg {
		return "-" + string(out)
	}
	return string(out)
}
