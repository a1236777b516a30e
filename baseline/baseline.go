// Package baseline computes what a channel's videos normally reach, so a new
// upload can be compared against its own channel instead of a global number.
package baseline

import (
	"math"
	"sort"
	"time"

	"ewintr.nl/shortwatch/model"
)

const (
	dayHours     = 24.0
	horizonHours = 168.0
)

// NormalizedViews estimates the views a video had, or will have, at 24 hours
// old. An early snapshot beats extrapolating from the current count, and
// videos older than a day are scaled down linearly, but never by more than a
// week's worth. A video without any age yet is taken at its current count.
func NormalizedViews(v *model.Video, snapshots []model.ViewSnapshot, now time.Time) float64 {
	if s, ok := earlySnapshot(snapshots); ok {
		return float64(s.ViewCount) / s.HoursSinceUpload * dayHours
	}

	hours := v.HoursOld(now)
	switch {
	case hours <= 0:
		return float64(v.ViewCount)
	case hours < dayHours:
		return float64(v.ViewCount) / hours * dayHours
	}

	return float64(v.ViewCount) * dayHours / math.Min(hours, horizonHours)
}

// earlySnapshot returns the latest snapshot taken during the first day.
func earlySnapshot(snapshots []model.ViewSnapshot) (model.ViewSnapshot, bool) {
	var (
		best  model.ViewSnapshot
		found bool
	)
	for _, s := range snapshots {
		if s.HoursSinceUpload <= 0 || s.HoursSinceUpload > dayHours {
			continue
		}
		if !found || s.HoursSinceUpload > best.HoursSinceUpload {
			best = s
			found = true
		}
	}

	return best, found
}

func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Percentile interpolates linearly between the closest ranks of an ascending
// slice.
func Percentile(sorted []float64, p float64) float64 {
	switch len(sorted) {
	case 0:
		return 0
	case 1:
		return sorted[0]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (sorted[hi]-sorted[lo])*(rank-float64(lo))
}

// PercentileRank is the share of values strictly below x, as a percentage.
func PercentileRank(values []float64, x float64) float64 {
	if len(values) == 0 {
		return 0
	}
	below := 0
	for _, v := range values {
		if v < x {
			below++
		}
	}
	return float64(below) / float64(len(values)) * 100
}

func sortedCopy(values []float64) []float64 {
	s := append([]float64{}, values...)
	sort.Float64s(s)
	return s
}
