package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"ewintr.nl/shortwatch/model"
	"github.com/lib/pq"
)

const videoColumns = `id, channel_id, status, title, description, thumbnail_url, published_at,
duration_seconds, is_short, view_count, like_count, comment_count, first_seen, last_updated`

// SaveVideo inserts a new video or refreshes the mutable fields of a known
// one. Status and the short classification are never touched on update.
func (p *Postgres) SaveVideo(ctx context.Context, video *model.Video) error {
	status := video.Status
	if status == "" {
		status = model.StatusTracked
	}
	query := `INSERT INTO video (` + videoColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (id)
DO UPDATE SET
  title = EXCLUDED.title,
  description = EXCLUDED.description,
  thumbnail_url = EXCLUDED.thumbnail_url,
  view_count = EXCLUDED.view_count,
  like_count = EXCLUDED.like_count,
  comment_count = EXCLUDED.comment_count,
  last_updated = EXCLUDED.last_updated`
	_, err := p.db.ExecContext(ctx, query,
		video.ID,
		video.ChannelID,
		status,
		video.Title,
		video.Description,
		video.ThumbnailURL,
		video.PublishedAt.UTC(),
		video.DurationSeconds,
		video.IsShort,
		video.ViewCount,
		video.LikeCount,
		video.CommentCount,
		video.FirstSeen.UTC(),
		video.LastUpdated.UTC(),
	)

	return err
}

func (p *Postgres) FindVideo(ctx context.Context, id model.YoutubeVideoID) (*model.Video, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+videoColumns+` FROM video WHERE id = $1`, id)
	video, err := scanVideo(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	return video, err
}

func (p *Postgres) FindVideosSince(ctx context.Context, channelID model.YoutubeChannelID, since time.Time) ([]*model.Video, error) {
	return p.queryVideos(ctx, `SELECT `+videoColumns+` FROM video
WHERE channel_id = $1 AND published_at >= $2
ORDER BY published_at DESC`, channelID, since.UTC())
}

func (p *Postgres) FindRecentShorts(ctx context.Context, channelID model.YoutubeChannelID, limit int) ([]*model.Video, error) {
	return p.queryVideos(ctx, `SELECT `+videoColumns+` FROM video
WHERE channel_id = $1 AND is_short
ORDER BY published_at DESC
LIMIT $2`, channelID, limit)
}

func (p *Postgres) FindShortsSince(ctx context.Context, since time.Time, limit int) ([]*model.Video, error) {
	query := `SELECT ` + videoColumns + ` FROM video
WHERE is_short AND published_at >= $1
ORDER BY published_at DESC`
	if limit > 0 {
		return p.queryVideos(ctx, query+` LIMIT $2`, since.UTC(), limit)
	}

	return p.queryVideos(ctx, query, since.UTC())
}

func (p *Postgres) MarkNotified(ctx context.Context, id model.YoutubeVideoID) (bool, error) {
	res, err := p.db.ExecContext(ctx, `UPDATE video SET status = 'notified'
WHERE id = $1 AND status <> 'notified'`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}
	if _, err := p.FindVideo(ctx, id); err != nil {
		return false, err
	}

	return false, nil
}

func (p *Postgres) queryVideos(ctx context.Context, query string, args ...any) ([]*model.Video, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	videos := []*model.Video{}
	for rows.Next() {
		video, err := scanVideo(rows)
		if err != nil {
			return nil, err
		}
		videos = append(videos, video)
	}

	return videos, rows.Err()
}

func scanVideo(s scanner) (*model.Video, error) {
	var v model.Video
	if err := s.Scan(
		&v.ID,
		&v.ChannelID,
		&v.Status,
		&v.Title,
		&v.Description,
		&v.ThumbnailURL,
		&v.PublishedAt,
		&v.DurationSeconds,
		&v.IsShort,
		&v.ViewCount,
		&v.LikeCount,
		&v.CommentCount,
		&v.FirstSeen,
		&v.LastUpdated,
	); err != nil {
		return nil, err
	}
	v.PublishedAt = v.PublishedAt.UTC()
	v.FirstSeen = v.FirstSeen.UTC()
	v.LastUpdated = v.LastUpdated.UTC()

	return &v, nil
}

func (p *Postgres) AppendSnapshot(ctx context.Context, snapshot model.ViewSnapshot) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO view_snapshot
(video_id, view_count, taken_at, hours_since_upload)
VALUES ($1, $2, $3, $4)`,
		snapshot.VideoID,
		snapshot.ViewCount,
		snapshot.Timestamp.UTC(),
		snapshot.HoursSinceUpload,
	)

	return err
}

func (p *Postgres) FindSnapshots(ctx context.Context, ids []model.YoutubeVideoID) (map[model.YoutubeVideoID][]model.ViewSnapshot, error) {
	snapshots := make(map[model.YoutubeVideoID][]model.ViewSnapshot, len(ids))
	if len(ids) == 0 {
		return snapshots, nil
	}
	strIDs := make([]string, len(ids))
	for i, id := range ids {
		strIDs[i] = string(id)
	}

	rows, err := p.db.QueryContext(ctx, `SELECT video_id, view_count, taken_at, hours_since_upload
FROM view_snapshot
WHERE video_id = ANY($1)
ORDER BY video_id, taken_at`, pq.Array(strIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var s model.ViewSnapshot
		if err := rows.Scan(&s.VideoID, &s.ViewCount, &s.Timestamp, &s.HoursSinceUpload); err != nil {
			return nil, err
		}
		s.Timestamp = s.Timestamp.UTC()
		snapshots[s.VideoID] = append(snapshots[s.VideoID], s)
	}

	return snapshots, rows.Err()
}
