package storage

import (
	"context"
	"database/sql"
	"errors"

	"ewintr.nl/shortwatch/model"
)

func (p *Postgres) AppendBaseline(ctx context.Context, baseline *model.ChannelBaseline) error {
	return p.db.QueryRowContext(ctx, `INSERT INTO channel_baseline
(channel_id, computed_at, sample_size, avg_views_24h, avg_views_7d, avg_views_30d, percentile_75, percentile_90)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id`,
		baseline.ChannelID,
		baseline.ComputedAt.UTC(),
		baseline.SampleSize,
		baseline.AvgViews24h,
		baseline.AvgViews7d,
		baseline.AvgViews30d,
		baseline.Percentile75,
		baseline.Percentile90,
	).Scan(&baseline.ID)
}

func (p *Postgres) LatestBaseline(ctx context.Context, channelID model.YoutubeChannelID) (*model.ChannelBaseline, error) {
	var b model.ChannelBaseline
	err := p.db.QueryRowContext(ctx, `SELECT id, channel_id, computed_at, sample_size, avg_views_24h,
avg_views_7d, avg_views_30d, percentile_75, percentile_90
FROM channel_baseline
WHERE channel_id = $1
ORDER BY computed_at DESC, id DESC
LIMIT 1`, channelID).Scan(
		&b.ID,
		&b.ChannelID,
		&b.ComputedAt,
		&b.SampleSize,
		&b.AvgViews24h,
		&b.AvgViews7d,
		&b.AvgViews30d,
		&b.Percentile75,
		&b.Percentile90,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	b.ComputedAt = b.ComputedAt.UTC()

	return &b, nil
}

func (p *Postgres) FindAllCredentials(ctx context.Context) ([]*model.Credential, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT idx, identifier, quota_used, last_reset, active,
error_count, last_used, last_error
FROM api_credential
ORDER BY idx`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	creds := []*model.Credential{}
	for rows.Next() {
		var (
			c                   model.Credential
			lastUsed, lastError sql.NullTime
		)
		if err := rows.Scan(&c.Index, &c.Identifier, &c.QuotaUsed, &c.LastReset, &c.Active, &c.ErrorCount, &lastUsed, &lastError); err != nil {
			return nil, err
		}
		c.LastReset = c.LastReset.UTC()
		c.LastUsed = nullTimeToPtr(lastUsed)
		c.LastError = nullTimeToPtr(lastError)
		creds = append(creds, &c)
	}

	return creds, rows.Err()
}

// SaveCredential stores the usage ledger. The secret itself is never written.
func (p *Postgres) SaveCredential(ctx context.Context, c *model.Credential) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO api_credential
(idx, identifier, quota_used, last_reset, active, error_count, last_used, last_error)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (idx)
DO UPDATE SET
  identifier = EXCLUDED.identifier,
  quota_used = EXCLUDED.quota_used,
  last_reset = EXCLUDED.last_reset,
  active = EXCLUDED.active,
  error_count = EXCLUDED.error_count,
  last_used = EXCLUDED.last_used,
  last_error = EXCLUDED.last_error`,
		c.Index,
		c.Identifier,
		c.QuotaUsed,
		c.LastReset.UTC(),
		c.Active,
		c.ErrorCount,
		ptrToNullTime(c.LastUsed),
		ptrToNullTime(c.LastError),
	)

	return err
}
