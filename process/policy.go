package process

import (
	"fmt"

	"ewintr.nl/shortwatch/model"
)

const (
	PolicyRelative = "relative"
	PolicyAbsolute = "absolute"
)

// Policy decides whether a video that passed all preconditions is worth a
// notification. Decide fills in the threshold and reason on perf.
type Policy interface {
	Name() string
	NeedsBaseline() bool
	Decide(video *model.Video, perf *model.Performance, b *model.ChannelBaseline) bool
}

type PolicyConfig struct {
	Name              string
	AbsoluteThreshold int64
	Percentile        int
	AverageMultiple   float64
}

func NewPolicy(cfg PolicyConfig) (Policy, error) {
	switch cfg.Name {
	case PolicyAbsolute:
		if cfg.AbsoluteThreshold <= 0 {
			return nil, fmt.Errorf("absolute policy needs a positive threshold, got %d", cfg.AbsoluteThreshold)
		}
		return &AbsolutePolicy{Threshold: cfg.AbsoluteThreshold}, nil
	case PolicyRelative, "":
		p := cfg.Percentile
		if p != 90 {
			p = 75
		}
		return &RelativePolicy{Percentile: p, AverageMultiple: cfg.AverageMultiple}, nil
	default:
		return nil, fmt.Errorf("unknown notification policy %q", cfg.Name)
	}
}

// AbsolutePolicy fires on a fixed view count, whatever the channel.
type AbsolutePolicy struct {
	Threshold int64
}

func (a *AbsolutePolicy) Name() string        { return PolicyAbsolute }
func (a *AbsolutePolicy) NeedsBaseline() bool { return false }

func (a *AbsolutePolicy) Decide(video *model.Video, perf *model.Performance, _ *model.ChannelBaseline) bool {
	perf.Threshold = float64(a.Threshold)
	if video.ViewCount < a.Threshold {
		return false
	}
	perf.Reason = fmt.Sprintf("%d views reached the fixed threshold of %d", video.ViewCount, a.Threshold)
	return true
}

// RelativePolicy fires when the normalized views beat the channel's stored
// percentile, or when the raw views are a multiple of the recent average.
type RelativePolicy struct {
	Percentile      int
	AverageMultiple float64
}

func (r *RelativePolicy) Name() string        { return PolicyRelative }
func (r *RelativePolicy) NeedsBaseline() bool { return true }

func (r *RelativePolicy) Decide(video *model.Video, perf *model.Performance, b *model.ChannelBaseline) bool {
	if b == nil {
		return false
	}
	threshold := b.Percentile(r.Percentile)
	perf.Threshold = threshold

	if threshold > 0 && perf.NormalizedViews > threshold {
		perf.Reason = fmt.Sprintf("normalized views %.0f above the channel p%d of %.0f", perf.NormalizedViews, r.Percentile, threshold)
		return true
	}
	if r.AverageMultiple > 0 && perf.ChannelAverage > 0 && float64(video.ViewCount) > r.AverageMultiple*perf.ChannelAverage {
		perf.Reason = fmt.Sprintf("views at %.1fx the recent average of %.0f", perf.PerformanceRatio, perf.ChannelAverage)
		return true
	}

	return false
}
