package process

import (
	"context"

	"ewintr.nl/shortwatch/model"
	"golang.org/x/exp/slog"
)

// Enricher adds optional detail to an event before it is delivered.
type Enricher interface {
	Name() string
	Enrich(ctx context.Context, event *model.NotificationEvent) error
}

type Enrichers struct {
	procs  []Enricher
	logger *slog.Logger
}

func NewEnrichers(logger *slog.Logger, procs ...Enricher) *Enrichers {
	return &Enrichers{
		procs:  procs,
		logger: logger,
	}
}

// Run applies every enricher in order. A failing enricher is logged and
// skipped, delivery never waits on it.
func (e *Enrichers) Run(ctx context.Context, event *model.NotificationEvent) {
	if e == nil {
		return
	}
	for _, p := range e.procs {
		if err := p.Enrich(ctx, event); err != nil {
			e.logger.Warn("failed to enrich event",
				slog.String("videoid", string(event.Video.ID)),
				slog.String("enricher", p.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}
		e.logger.Debug("enriched event", slog.String("videoid", string(event.Video.ID)), slog.String("enricher", p.Name()))
	}
}
