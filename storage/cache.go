package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ewintr.nl/shortwatch/model"
	"github.com/redis/go-redis/v9"
	"golang.org/x/exp/slog"
)

const BaselineCacheTTL = 30 * time.Minute

// BaselineCache is a cache-aside layer in front of the baseline history. With
// a nil client every call is a no-op and reads always miss.
type BaselineCache struct {
	rdb    *redis.Client
	logger *slog.Logger
}

func NewBaselineCache(redisURL string, logger *slog.Logger) *BaselineCache {
	if redisURL == "" {
		logger.Info("redis not configured, baseline cache disabled")
		return &BaselineCache{logger: logger}
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Warn("invalid redis url, baseline cache disabled", slog.String("error", err.Error()))
		return &BaselineCache{logger: logger}
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unreachable, baseline cache disabled", slog.String("error", err.Error()))
		return &BaselineCache{logger: logger}
	}

	logger.Info("redis connected, baseline cache enabled")
	return &BaselineCache{rdb: rdb, logger: logger}
}

func NewBaselineCacheWithClient(rdb *redis.Client, logger *slog.Logger) *BaselineCache {
	return &BaselineCache{rdb: rdb, logger: logger}
}

func (c *BaselineCache) Get(ctx context.Context, channelID model.YoutubeChannelID) (*model.ChannelBaseline, bool) {
	if c == nil || c.rdb == nil {
		return nil, false
	}
	data, err := c.rdb.Get(ctx, baselineKey(channelID)).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.logger.Warn("baseline cache get failed", slog.String("channelid", string(channelID)), slog.String("error", err.Error()))
		return nil, false
	}
	var b model.ChannelBaseline
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, false
	}

	return &b, true
}

func (c *BaselineCache) Set(ctx context.Context, b *model.ChannelBaseline) {
	if c == nil || c.rdb == nil {
		return
	}
	data, err := json.Marshal(b)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, baselineKey(b.ChannelID), data, BaselineCacheTTL).Err(); err != nil {
		c.logger.Warn("baseline cache set failed", slog.String("channelid", string(b.ChannelID)), slog.String("error", err.Error()))
	}
}

func (c *BaselineCache) Invalidate(ctx context.Context, channelID model.YoutubeChannelID) {
	if c == nil || c.rdb == nil {
		return
	}
	if err := c.rdb.Del(ctx, baselineKey(channelID)).Err(); err != nil {
		c.logger.Warn("baseline cache invalidate failed", slog.String("channelid", string(channelID)), slog.String("error", err.Error()))
	}
}

func (c *BaselineCache) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}

func baselineKey(channelID model.YoutubeChannelID) string {
	return fmt.Sprintf("baseline:%s", channelID)
}
