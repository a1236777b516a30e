package storage

import (
	"context"
	"errors"
	"time"

	"ewintr.nl/shortwatch/model"
)

var ErrNotFound = errors.New("not found")

type ChannelRepository interface {
	SaveChannel(ctx context.Context, channel *model.Channel) error
	FindChannel(ctx context.Context, id model.YoutubeChannelID) (*model.Channel, error)
	FindChannels(ctx context.Context, activeOnly bool) ([]*model.Channel, error)
	DeleteChannel(ctx context.Context, id model.YoutubeChannelID) error
}

type VideoRepository interface {
	SaveVideo(ctx context.Context, video *model.Video) error
	FindVideo(ctx context.Context, id model.YoutubeVideoID) (*model.Video, error)
	// FindVideosSince returns the channel's videos published at or after
	// since, newest first.
	FindVideosSince(ctx context.Context, channelID model.YoutubeChannelID, since time.Time) ([]*model.Video, error)
	// FindRecentShorts returns at most limit shorts of the channel, newest
	// first. Long-form uploads are left out.
	FindRecentShorts(ctx context.Context, channelID model.YoutubeChannelID, limit int) ([]*model.Video, error)
	// FindShortsSince returns shorts of all channels published at or after
	// since, newest first. A limit of zero or less means no limit.
	FindShortsSince(ctx context.Context, since time.Time, limit int) ([]*model.Video, error)
	// MarkNotified moves a tracked video to notified. It reports false when
	// the video was already notified.
	MarkNotified(ctx context.Context, id model.YoutubeVideoID) (bool, error)
}

type SnapshotRepository interface {
	AppendSnapshot(ctx context.Context, snapshot model.ViewSnapshot) error
	FindSnapshots(ctx context.Context, ids []model.YoutubeVideoID) (map[model.YoutubeVideoID][]model.ViewSnapshot, error)
}

type BaselineRepository interface {
	AppendBaseline(ctx context.Context, baseline *model.ChannelBaseline) error
	LatestBaseline(ctx context.Context, channelID model.YoutubeChannelID) (*model.ChannelBaseline, error)
}

type CredentialRepository interface {
	FindAllCredentials(ctx context.Context) ([]*model.Credential, error)
	SaveCredential(ctx context.Context, credential *model.Credential) error
}

// Store bundles all repositories of one backend.
type Store interface {
	ChannelRepository
	VideoRepository
	SnapshotRepository
	BaselineRepository
	CredentialRepository
}
