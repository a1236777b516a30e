package storage

var pgMigration = []string{
	`CREATE TABLE channel (
id VARCHAR(64) PRIMARY KEY,
title VARCHAR(255) NOT NULL DEFAULT '',
description TEXT NOT NULL DEFAULT '',
subscriber_count BIGINT NOT NULL DEFAULT 0,
video_count BIGINT NOT NULL DEFAULT 0,
thumbnail_url VARCHAR(512) NOT NULL DEFAULT '',
uploads_feed_id VARCHAR(64) NOT NULL DEFAULT '',
created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
last_checked TIMESTAMPTZ,
active BOOLEAN NOT NULL DEFAULT TRUE
)`,
	`CREATE TYPE video_status AS ENUM ('tracked', 'notified')`,
	`CREATE TABLE video (
id VARCHAR(32) PRIMARY KEY,
channel_id VARCHAR(64) NOT NULL REFERENCES channel(id) ON DELETE CASCADE,
status video_status NOT NULL DEFAULT 'tracked',
title VARCHAR(255) NOT NULL DEFAULT '',
description TEXT NOT NULL DEFAULT '',
thumbnail_url VARCHAR(512) NOT NULL DEFAULT '',
published_at TIMESTAMPTZ NOT NULL,
duration_seconds INTEGER NOT NULL DEFAULT 0,
is_short BOOLEAN NOT NULL DEFAULT FALSE,
view_count BIGINT NOT NULL DEFAULT 0,
like_count BIGINT NOT NULL DEFAULT 0,
comment_count BIGINT NOT NULL DEFAULT 0,
first_seen TIMESTAMPTZ NOT NULL DEFAULT NOW(),
last_updated TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	`CREATE INDEX video_channel_published_idx ON video (channel_id, published_at DESC)`,
	`CREATE TABLE view_snapshot (
id BIGSERIAL PRIMARY KEY,
video_id VARCHAR(32) NOT NULL REFERENCES video(id) ON DELETE CASCADE,
view_count BIGINT NOT NULL,
taken_at TIMESTAMPTZ NOT NULL,
hours_since_upload DOUBLE PRECISION NOT NULL
)`,
	`CREATE INDEX view_snapshot_video_idx ON view_snapshot (video_id, taken_at)`,
	`CREATE TABLE channel_baseline (
id BIGSERIAL PRIMARY KEY,
channel_id VARCHAR(64) NOT NULL REFERENCES channel(id) ON DELETE CASCADE,
computed_at TIMESTAMPTZ NOT NULL,
sample_size INTEGER NOT NULL,
avg_views_24h DOUBLE PRECISION NOT NULL,
avg_views_7d DOUBLE PRECISION NOT NULL,
avg_views_30d DOUBLE PRECISION NOT NULL,
percentile_75 DOUBLE PRECISION NOT NULL,
percentile_90 DOUBLE PRECISION NOT NULL
)`,
	`CREATE INDEX channel_baseline_channel_idx ON channel_baseline (channel_id, computed_at DESC)`,
	`CREATE TABLE api_credential (
idx INTEGER PRIMARY KEY,
identifier VARCHAR(16) NOT NULL,
quota_used INTEGER NOT NULL DEFAULT 0,
last_reset TIMESTAMPTZ NOT NULL,
active BOOLEAN NOT NULL DEFAULT TRUE,
error_count INTEGER NOT NULL DEFAULT 0,
last_used TIMESTAMPTZ,
last_error TIMESTAMPTZ
)`,
}
