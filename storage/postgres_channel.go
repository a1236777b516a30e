package storage

import (
	"context"
	"database/sql"
	"errors"

	"ewintr.nl/shortwatch/model"
)

const channelColumns = `id, title, description, subscriber_count, video_count, thumbnail_url,
uploads_feed_id, created_at, last_checked, active`

func (p *Postgres) SaveChannel(ctx context.Context, channel *model.Channel) error {
	query := `INSERT INTO channel (` + channelColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (id)
DO UPDATE SET
  title = EXCLUDED.title,
  description = EXCLUDED.description,
  subscriber_count = EXCLUDED.subscriber_count,
  video_count = EXCLUDED.video_count,
  thumbnail_url = EXCLUDED.thumbnail_url,
  uploads_feed_id = EXCLUDED.uploads_feed_id,
  last_checked = EXCLUDED.last_checked,
  active = EXCLUDED.active`
	_, err := p.db.ExecContext(ctx, query,
		channel.ID,
		channel.Title,
		channel.Description,
		channel.SubscriberCount,
		channel.VideoCount,
		channel.ThumbnailURL,
		channel.UploadsFeedID,
		channel.CreatedAt.UTC(),
		toNullTime(channel.LastChecked),
		channel.Active,
	)

	return err
}

func (p *Postgres) FindChannel(ctx context.Context, id model.YoutubeChannelID) (*model.Channel, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+channelColumns+` FROM channel WHERE id = $1`, id)
	channel, err := scanChannel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	return channel, err
}

func (p *Postgres) FindChannels(ctx context.Context, activeOnly bool) ([]*model.Channel, error) {
	query := `SELECT ` + channelColumns + ` FROM channel`
	if activeOnly {
		query += ` WHERE active`
	}
	query += ` ORDER BY created_at, id`

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	channels := []*model.Channel{}
	for rows.Next() {
		channel, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		channels = append(channels, channel)
	}

	return channels, rows.Err()
}

func (p *Postgres) DeleteChannel(ctx context.Context, id model.YoutubeChannelID) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM channel WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}

	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanChannel(s scanner) (*model.Channel, error) {
	var (
		c           model.Channel
		lastChecked sql.NullTime
	)
	if err := s.Scan(
		&c.ID,
		&c.Title,
		&c.Description,
		&c.SubscriberCount,
		&c.VideoCount,
		&c.ThumbnailURL,
		&c.UploadsFeedID,
		&c.CreatedAt,
		&lastChecked,
		&c.Active,
	); err != nil {
		return nil, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	if lastChecked.Valid {
		c.LastChecked = lastChecked.Time.UTC()
	}

	return &c, nil
}
