package handler

import (
	"fmt"
	"net/http"

	"ewintr.nl/shortwatch/model"
	"golang.org/x/exp/slog"
)

type QuotaReporter interface {
	Status() []model.QuotaStatus
}

type QuotaAPI struct {
	pool   QuotaReporter
	logger *slog.Logger
}

func NewQuotaAPI(pool QuotaReporter, logger *slog.Logger) *QuotaAPI {
	return &QuotaAPI{
		pool:   pool,
		logger: logger,
	}
}

func (q *QuotaAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sub, _ := ShiftPath(r.URL.Path)

	switch {
	case r.Method == http.MethodGet && sub == "":
		q.Status(w, r)
	default:
		Error(w, http.StatusNotFound, "not found", fmt.Errorf("method %s with subpath %q was not registered in the quota api", r.Method, sub))
	}
}

// Status reports every key with its usage, so an operator can see when the
// whole pool is exhausted.
func (q *QuotaAPI) Status(w http.ResponseWriter, _ *http.Request) {
	status := q.pool.Status()

	var used, remaining, active int
	for _, s := range status {
		used += s.Used
		if s.Active {
			active++
			remaining += s.Remaining
		}
	}

	JSON(w, http.StatusOK, struct {
		Keys           []model.QuotaStatus `json:"keys"`
		TotalUsed      int                 `json:"totalUsed"`
		TotalRemaining int                 `json:"totalRemaining"`
		ActiveKeys     int                 `json:"activeKeys"`
		Exhausted      bool                `json:"exhausted"`
	}{
		Keys:           status,
		TotalUsed:      used,
		TotalRemaining: remaining,
		ActiveKeys:     active,
		Exhausted:      remaining == 0 || active == 0,
	})
}
