package model

import (
	"testing"
	"time"
)

func TestVideoAge(t *testing.T) {
	amsterdam := time.FixedZone("CET", 3600)
	v := &Video{PublishedAt: time.Date(2024, 3, 10, 13, 0, 0, 0, amsterdam)}
	now := time.Date(2024, 3, 10, 15, 0, 0, 0, time.UTC)

	if act := v.HoursOld(now); act != 3 {
		t.Errorf("exp 3 hours, got %.2f", act)
	}
}

func TestApplyStatistics(t *testing.T) {
	now := time.Date(2024, 3, 10, 15, 0, 0, 0, time.UTC)
	v := &Video{IsShort: true, DurationSeconds: 30}

	v.ApplyStatistics(Statistics{ViewCount: 10, LikeCount: 2, CommentCount: 1, DurationSeconds: 300}, now)
	if !v.IsShort || v.DurationSeconds != 30 {
		t.Errorf("exp classification untouched, got %+v", v)
	}
	if v.ViewCount != 10 || v.LikeCount != 2 || v.CommentCount != 1 || !v.LastUpdated.Equal(now) {
		t.Errorf("exp counters applied, got %+v", v)
	}
}

func TestBaselinePercentile(t *testing.T) {
	b := &ChannelBaseline{Percentile75: 1, Percentile90: 2}

	for _, tc := range []struct {
		p   int
		exp float64
	}{
		{p: 75, exp: 1},
		{p: 90, exp: 2},
		{p: 95, exp: 2},
		{p: 50, exp: 1},
	} {
		if act := b.Percentile(tc.p); act != tc.exp {
			t.Errorf("p%d: exp %.0f, got %.0f", tc.p, tc.exp, act)
		}
	}
}

func TestFingerprint(t *testing.T) {
	for _, tc := range []struct {
		secret string
		exp    string
	}{
		{secret: "AIzaSyExampleKey123456", exp: "123456"},
		{secret: "short", exp: "short"},
	} {
		if act := Fingerprint(tc.secret); act != tc.exp {
			t.Errorf("exp %s, got %s", tc.exp, act)
		}
	}
}
