// Package quota keeps the per-key usage ledger for the YouTube Data API and
// decides which key the next request is made with.
package quota

import (
	"time"

	"ewintr.nl/shortwatch/model"
)

type Operation string

const (
	OpChannelsList      Operation = "channels.list"
	OpPlaylistItemsList Operation = "playlistItems.list"
	OpVideosList        Operation = "videos.list"
	OpSearchList        Operation = "search.list"
)

// DefaultCosts is the published unit cost of each call we make.
var DefaultCosts = map[Operation]int{
	OpChannelsList:      1,
	OpPlaylistItemsList: 1,
	OpVideosList:        1,
	OpSearchList:        100,
}

const DefaultDailyLimit = 10000

type Tracker struct {
	dailyLimit int
	costs      map[Operation]int
}

func NewTracker(dailyLimit int, costs map[Operation]int) *Tracker {
	if dailyLimit <= 0 {
		dailyLimit = DefaultDailyLimit
	}
	if costs == nil {
		costs = DefaultCosts
	}
	return &Tracker{
		dailyLimit: dailyLimit,
		costs:      costs,
	}
}

func (t *Tracker) DailyLimit() int {
	return t.dailyLimit
}

// Cost returns the units charged for op. Unknown operations count as a list
// call.
func (t *Tracker) Cost(op Operation) int {
	if c, ok := t.costs[op]; ok {
		return c
	}
	return 1
}

// Reset zeroes usage and errors when the credential was last reset on an
// earlier UTC calendar day. It reports whether anything changed.
func (t *Tracker) Reset(c *model.Credential, now time.Time) bool {
	today := utcDay(now)
	if !utcDay(c.LastReset).Before(today) {
		return false
	}
	c.QuotaUsed = 0
	c.ErrorCount = 0
	c.LastReset = today
	return true
}

func (t *Tracker) Add(c *model.Credential, units int, now time.Time) {
	t.Reset(c, now)
	c.QuotaUsed += units
	used := now
	c.LastUsed = &used
}

// Exhaust clamps usage to the daily limit so the key is not picked again
// before the next reset.
func (t *Tracker) Exhaust(c *model.Credential) {
	if c.QuotaUsed < t.dailyLimit {
		c.QuotaUsed = t.dailyLimit
	}
}

func (t *Tracker) Remaining(c *model.Credential) int {
	if r := t.dailyLimit - c.QuotaUsed; r > 0 {
		return r
	}
	return 0
}

func utcDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
