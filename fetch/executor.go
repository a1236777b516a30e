package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"ewintr.nl/shortwatch/metrics"
	"ewintr.nl/shortwatch/quota"
	"golang.org/x/exp/slog"
	"google.golang.org/api/googleapi"
)

// Call performs one API request with the given key.
type Call func(ctx context.Context, apiKey string) error

// Executor runs calls against the credential pool. A call is tried at most
// once per credential plus one, whatever the mix of failures. There is no
// backoff, moving to another key is the only mitigation.
type Executor struct {
	pool    *quota.Pool
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewExecutor(pool *quota.Pool, m *metrics.Metrics, logger *slog.Logger) *Executor {
	return &Executor{
		pool:    pool,
		metrics: m,
		logger:  logger,
	}
}

func (e *Executor) Pool() *quota.Pool {
	return e.pool
}

// Do executes call, rotating keys as failures demand. Charging the cost of a
// successful call is up to the caller, the executor does not know it.
func (e *Executor) Do(ctx context.Context, op quota.Operation, call Call) error {
	maxAttempts := e.pool.Len() + 1
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		key, index, err := e.pool.Current()
		if err != nil {
			e.metrics.ObserveAttempt("exhausted")
			return fmt.Errorf("%w: %v", ErrQuotaExhausted, err)
		}

		err = call(ctx, key)
		if err == nil {
			e.pool.RecordSuccess()
			e.metrics.ObserveAttempt("success")
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		lastErr = err

		kind := Classify(err)
		e.metrics.ObserveAttempt(kind.String())
		e.logger.Warn("api call failed",
			slog.String("op", string(op)),
			slog.Int("key", index),
			slog.Int("attempt", attempt),
			slog.String("kind", kind.String()),
			slog.String("error", err.Error()),
		)

		switch kind {
		case quota.ErrorNotFound:
			e.pool.RecordError(kind)
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		case quota.ErrorQuotaExceeded, quota.ErrorInvalidCredential:
			if !e.pool.RecordError(kind) {
				return fmt.Errorf("%w: %v", ErrQuotaExhausted, err)
			}
		default:
			e.pool.RecordError(kind)
		}
	}

	return &RequestFailedError{Attempts: maxAttempts, Err: lastErr}
}

var (
	quotaReasons = map[string]bool{
		"quotaExceeded":           true,
		"dailyLimitExceeded":      true,
		"dailyLimitExceededUnreg": true,
	}
	invalidReasons = map[string]bool{
		"keyInvalid":          true,
		"keyExpired":          true,
		"accessNotConfigured": true,
	}
)

// Classify maps an API error to how the credential pool should react to it.
// Anything that is not a recognised API error is transient.
func Classify(err error) quota.ErrorKind {
	var gErr *googleapi.Error
	if !errors.As(err, &gErr) {
		return quota.ErrorTransient
	}

	for _, item := range gErr.Errors {
		if quotaReasons[item.Reason] {
			return quota.ErrorQuotaExceeded
		}
		if invalidReasons[item.Reason] {
			return quota.ErrorInvalidCredential
		}
	}

	switch gErr.Code {
	case http.StatusNotFound:
		return quota.ErrorNotFound
	case http.StatusBadRequest, http.StatusForbidden:
		if strings.Contains(gErr.Message, "API key not valid") {
			return quota.ErrorInvalidCredential
		}
		if strings.Contains(strings.ToLower(gErr.Message), "quota") {
			return quota.ErrorQuotaExceeded
		}
	}

	return quota.ErrorTransient
}
