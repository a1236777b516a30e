package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"ewintr.nl/shortwatch/model"
)

// Memory is a process local Store. It backs dry runs and tests.
type Memory struct {
	mu          sync.RWMutex
	channels    map[model.YoutubeChannelID]model.Channel
	videos      map[model.YoutubeVideoID]model.Video
	snapshots   map[model.YoutubeVideoID][]model.ViewSnapshot
	baselines   map[model.YoutubeChannelID][]model.ChannelBaseline
	credentials map[int]model.Credential
	nextID      int64
}

func NewMemory() *Memory {
	return &Memory{
		channels:    make(map[model.YoutubeChannelID]model.Channel),
		videos:      make(map[model.YoutubeVideoID]model.Video),
		snapshots:   make(map[model.YoutubeVideoID][]model.ViewSnapshot),
		baselines:   make(map[model.YoutubeChannelID][]model.ChannelBaseline),
		credentials: make(map[int]model.Credential),
	}
}

func (m *Memory) SaveChannel(_ context.Context, channel *model.Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := *channel
	if old, ok := m.channels[c.ID]; ok {
		c.CreatedAt = old.CreatedAt
	}
	m.channels[c.ID] = c

	return nil
}

func (m *Memory) FindChannel(_ context.Context, id model.YoutubeChannelID) (*model.Channel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.channels[id]
	if !ok {
		return nil, ErrNotFound
	}

	return &c, nil
}

func (m *Memory) FindChannels(_ context.Context, activeOnly bool) ([]*model.Channel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	channels := []*model.Channel{}
	for _, c := range m.channels {
		if activeOnly && !c.Active {
			continue
		}
		c := c
		channels = append(channels, &c)
	}
	sort.Slice(channels, func(i, j int) bool {
		if !channels[i].CreatedAt.Equal(channels[j].CreatedAt) {
			return channels[i].CreatedAt.Before(channels[j].CreatedAt)
		}
		return channels[i].ID < channels[j].ID
	})

	return channels, nil
}

// DeleteChannel removes the channel and everything hanging off it.
func (m *Memory) DeleteChannel(_ context.Context, id model.YoutubeChannelID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.channels[id]; !ok {
		return ErrNotFound
	}
	delete(m.channels, id)
	delete(m.baselines, id)
	for vid, v := range m.videos {
		if v.ChannelID == id {
			delete(m.videos, vid)
			delete(m.snapshots, vid)
		}
	}

	return nil
}

func (m *Memory) SaveVideo(_ context.Context, video *model.Video) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	v := *video
	if old, ok := m.videos[v.ID]; ok {
		v.Status = old.Status
		v.IsShort = old.IsShort
		v.DurationSeconds = old.DurationSeconds
		v.PublishedAt = old.PublishedAt
		v.FirstSeen = old.FirstSeen
	}
	if v.Status == "" {
		v.Status = model.StatusTracked
	}
	m.videos[v.ID] = v

	return nil
}

func (m *Memory) FindVideo(_ context.Context, id model.YoutubeVideoID) (*model.Video, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.videos[id]
	if !ok {
		return nil, ErrNotFound
	}

	return &v, nil
}

func (m *Memory) FindVideosSince(_ context.Context, channelID model.YoutubeChannelID, since time.Time) ([]*model.Video, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	videos := m.channelVideos(channelID)
	filtered := []*model.Video{}
	for _, v := range videos {
		if !v.PublishedAt.Before(since) {
			filtered = append(filtered, v)
		}
	}

	return filtered, nil
}

func (m *Memory) FindRecentShorts(_ context.Context, channelID model.YoutubeChannelID, limit int) ([]*model.Video, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	shorts := []*model.Video{}
	for _, v := range m.channelVideos(channelID) {
		if limit > 0 && len(shorts) == limit {
			break
		}
		if v.IsShort {
			shorts = append(shorts, v)
		}
	}

	return shorts, nil
}

func (m *Memory) FindShortsSince(_ context.Context, since time.Time, limit int) ([]*model.Video, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	shorts := []*model.Video{}
	for _, v := range m.videos {
		if !v.IsShort || v.PublishedAt.Before(since) {
			continue
		}
		v := v
		shorts = append(shorts, &v)
	}
	sort.Slice(shorts, func(i, j int) bool {
		return shorts[i].PublishedAt.After(shorts[j].PublishedAt)
	})
	if limit > 0 && len(shorts) > limit {
		shorts = shorts[:limit]
	}

	return shorts, nil
}

// channelVideos returns copies, newest first. Caller holds the lock.
func (m *Memory) channelVideos(channelID model.YoutubeChannelID) []*model.Video {
	videos := []*model.Video{}
	for _, v := range m.videos {
		if v.ChannelID != channelID {
			continue
		}
		v := v
		videos = append(videos, &v)
	}
	sort.Slice(videos, func(i, j int) bool {
		return videos[i].PublishedAt.After(videos[j].PublishedAt)
	})

	return videos
}

func (m *Memory) MarkNotified(_ context.Context, id model.YoutubeVideoID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.videos[id]
	if !ok {
		return false, ErrNotFound
	}
	if v.Status == model.StatusNotified {
		return false, nil
	}
	v.Status = model.StatusNotified
	m.videos[id] = v

	return true, nil
}

func (m *Memory) AppendSnapshot(_ context.Context, snapshot model.ViewSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.snapshots[snapshot.VideoID] = append(m.snapshots[snapshot.VideoID], snapshot)

	return nil
}

func (m *Memory) FindSnapshots(_ context.Context, ids []model.YoutubeVideoID) (map[model.YoutubeVideoID][]model.ViewSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	res := make(map[model.YoutubeVideoID][]model.ViewSnapshot, len(ids))
	for _, id := range ids {
		if s, ok := m.snapshots[id]; ok {
			res[id] = append([]model.ViewSnapshot{}, s...)
		}
	}

	return res, nil
}

func (m *Memory) AppendBaseline(_ context.Context, baseline *model.ChannelBaseline) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	baseline.ID = m.nextID
	m.baselines[baseline.ChannelID] = append(m.baselines[baseline.ChannelID], *baseline)

	return nil
}

func (m *Memory) LatestBaseline(_ context.Context, channelID model.YoutubeChannelID) (*model.ChannelBaseline, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	history := m.baselines[channelID]
	if len(history) == 0 {
		return nil, ErrNotFound
	}
	b := history[len(history)-1]

	return &b, nil
}

// Baselines returns the full history for a channel, oldest first.
func (m *Memory) Baselines(channelID model.YoutubeChannelID) []model.ChannelBaseline {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]model.ChannelBaseline{}, m.baselines[channelID]...)
}

func (m *Memory) FindAllCredentials(_ context.Context) ([]*model.Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	creds := []*model.Credential{}
	for _, c := range m.credentials {
		c := c
		creds = append(creds, &c)
	}
	sort.Slice(creds, func(i, j int) bool { return creds[i].Index < creds[j].Index })

	return creds, nil
}

func (m *Memory) SaveCredential(_ context.Context, credential *model.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := *credential
	c.Secret = ""
	m.credentials[c.Index] = c

	return nil
}
