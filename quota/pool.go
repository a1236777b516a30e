package quota

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"ewintr.nl/shortwatch/model"
	"golang.org/x/exp/slog"
)

var ErrNoCredentials = errors.New("no usable api credentials")

type ErrorKind int

const (
	ErrorTransient ErrorKind = iota
	ErrorQuotaExceeded
	ErrorInvalidCredential
	ErrorNotFound
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorQuotaExceeded:
		return "quota_exceeded"
	case ErrorInvalidCredential:
		return "invalid_credential"
	case ErrorNotFound:
		return "not_found"
	default:
		return "transient"
	}
}

type PoolConfig struct {
	WarningThreshold   int
	EmergencyThreshold int
	MaxErrors          int
}

func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		WarningThreshold:   8000,
		EmergencyThreshold: 9500,
		MaxErrors:          3,
	}
}

type CredentialStore interface {
	FindAllCredentials(ctx context.Context) ([]*model.Credential, error)
	SaveCredential(ctx context.Context, c *model.Credential) error
}

// Pool owns the ordered credentials and the index of the one in use. All
// access goes through mu, so the monitor and the status API can share it.
type Pool struct {
	mu      sync.Mutex
	creds   []*model.Credential
	current int
	dirty   map[int]struct{}
	tracker *Tracker
	cfg     PoolConfig
	logger  *slog.Logger
	now     func() time.Time
}

func NewPool(creds []*model.Credential, tracker *Tracker, cfg PoolConfig, logger *slog.Logger) (*Pool, error) {
	if len(creds) == 0 {
		return nil, ErrNoCredentials
	}
	if cfg.MaxErrors <= 0 {
		cfg.MaxErrors = DefaultPoolConfig().MaxErrors
	}
	sorted := make([]*model.Credential, len(creds))
	copy(sorted, creds)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	p := &Pool{
		creds:   sorted,
		dirty:   make(map[int]struct{}),
		tracker: tracker,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
	p.mu.Lock()
	if !p.usable(p.creds[0], false) {
		p.current = len(p.creds) - 1
		p.rotateLocked(false)
	}
	p.mu.Unlock()

	return p, nil
}

func (p *Pool) Len() int {
	return len(p.creds)
}

func (p *Pool) Tracker() *Tracker {
	return p.tracker
}

// Current returns the secret and index of the credential to use for the next
// call. A credential at or above the emergency threshold never serves a call,
// the pool rotates away from it or reports that none is left.
func (p *Pool) Current() (string, int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	c := p.creds[p.current]
	p.touch(c)
	if p.usable(c, false) {
		return c.Secret, c.Index, nil
	}
	if !p.rotateLocked(false) {
		return "", -1, ErrNoCredentials
	}
	c = p.creds[p.current]
	return c.Secret, c.Index, nil
}

// MarkUsed charges units to the current credential. A successful call also
// clears its error streak. Crossing the warning threshold triggers a best
// effort rotation.
func (p *Pool) MarkUsed(units int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	c := p.creds[p.current]
	p.tracker.Add(c, units, p.now())
	c.ErrorCount = 0
	p.markDirty(c)

	p.logger.Debug("quota used",
		slog.String("key", c.Identifier),
		slog.Int("units", units),
		slog.Int("used", c.QuotaUsed),
		slog.Int("limit", p.tracker.DailyLimit()),
	)

	if c.QuotaUsed >= p.cfg.WarningThreshold {
		p.logger.Info("quota warning threshold reached, rotating", slog.String("key", c.Identifier), slog.Int("used", c.QuotaUsed))
		if !p.rotateLocked(false) {
			p.logger.Warn("no key to rotate to, continuing on current", slog.String("key", c.Identifier))
		}
	}
}

func (p *Pool) RecordSuccess() {
	p.mu.Lock()
	defer p.mu.Unlock()

	c := p.creds[p.current]
	if c.ErrorCount != 0 {
		c.ErrorCount = 0
		p.markDirty(c)
	}
}

// RecordError registers a failed call on the current credential and reports
// whether the pool moved to another usable credential.
func (p *Pool) RecordError(kind ErrorKind) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	c := p.creds[p.current]
	p.touch(c)
	c.LastError = &now
	p.markDirty(c)

	switch kind {
	case ErrorQuotaExceeded:
		p.tracker.Exhaust(c)
		p.logger.Warn("quota exceeded", slog.String("key", c.Identifier))
		return p.rotateLocked(false)
	case ErrorInvalidCredential:
		c.Active = false
		p.logger.Error("invalid api key, disabling", slog.String("key", c.Identifier))
		return p.rotateLocked(false)
	case ErrorNotFound:
		return false
	default:
		c.ErrorCount++
		if c.ErrorCount >= p.cfg.MaxErrors {
			p.logger.Warn("too many consecutive errors, rotating", slog.String("key", c.Identifier), slog.Int("errors", c.ErrorCount))
			return p.rotateLocked(false)
		}
		return false
	}
}

func (p *Pool) Rotate(force bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.rotateLocked(force)
}

// rotateLocked walks forward from the current index, wrapping once, and
// selects the first active credential below the emergency threshold. With
// force the threshold is ignored.
func (p *Pool) rotateLocked(force bool) bool {
	from := p.current
	n := len(p.creds)
	for i := 1; i <= n; i++ {
		idx := (from + i) % n
		c := p.creds[idx]
		p.touch(c)
		if !p.usable(c, force) {
			continue
		}
		p.current = idx
		p.logger.Info("rotated api key",
			slog.Int("from", p.creds[from].Index),
			slog.Int("to", c.Index),
			slog.Int("used", c.QuotaUsed),
			slog.Int("limit", p.tracker.DailyLimit()),
		)
		return true
	}

	p.logger.Error("no api keys with remaining quota")
	return false
}

func (p *Pool) usable(c *model.Credential, force bool) bool {
	if !c.Active {
		return false
	}
	return force || c.QuotaUsed < p.cfg.EmergencyThreshold
}

// touch applies the lazy day rollover.
func (p *Pool) touch(c *model.Credential) {
	if p.tracker.Reset(c, p.now()) {
		p.markDirty(c)
		p.logger.Info("quota reset for new day", slog.String("key", c.Identifier))
	}
}

func (p *Pool) markDirty(c *model.Credential) {
	p.dirty[c.Index] = struct{}{}
}

func (p *Pool) Status() []model.QuotaStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	status := make([]model.QuotaStatus, 0, len(p.creds))
	for i, c := range p.creds {
		p.touch(c)
		var lastUsed *time.Time
		if c.LastUsed != nil {
			lu := *c.LastUsed
			lastUsed = &lu
		}
		status = append(status, model.QuotaStatus{
			Index:      c.Index,
			Identifier: c.Identifier,
			Used:       c.QuotaUsed,
			Remaining:  p.tracker.Remaining(c),
			Active:     c.Active,
			Current:    i == p.current,
			LastUsed:   lastUsed,
			ErrorCount: c.ErrorCount,
		})
	}

	return status
}

// Flush writes every credential changed since the last flush. Counters live
// in memory between flushes.
func (p *Pool) Flush(ctx context.Context, store CredentialStore) error {
	p.mu.Lock()
	pending := make([]model.Credential, 0, len(p.dirty))
	for _, c := range p.creds {
		if _, ok := p.dirty[c.Index]; ok {
			pending = append(pending, *c)
		}
	}
	p.dirty = make(map[int]struct{})
	p.mu.Unlock()

	for i := range pending {
		if err := store.SaveCredential(ctx, &pending[i]); err != nil {
			p.mu.Lock()
			for _, c := range pending[i:] {
				p.dirty[c.Index] = struct{}{}
			}
			p.mu.Unlock()
			return fmt.Errorf("could not save credential %s: %w", pending[i].Identifier, err)
		}
	}

	return nil
}

// LoadCredentials matches configured secrets to stored ledgers by position.
// A ledger whose fingerprint no longer matches the secret at its position is
// started over.
func LoadCredentials(ctx context.Context, store CredentialStore, secrets []string, now time.Time) ([]*model.Credential, error) {
	existing, err := store.FindAllCredentials(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not load credentials: %w", err)
	}
	byIndex := make(map[int]*model.Credential, len(existing))
	for _, c := range existing {
		byIndex[c.Index] = c
	}

	creds := []*model.Credential{}
	for i, secret := range secrets {
		secret = strings.TrimSpace(secret)
		if secret == "" {
			continue
		}
		fp := model.Fingerprint(secret)
		c, ok := byIndex[i]
		if !ok || c.Identifier != fp {
			c = &model.Credential{
				Index:      i,
				Identifier: fp,
				LastReset:  utcDay(now),
				Active:     true,
			}
			if err := store.SaveCredential(ctx, c); err != nil {
				return nil, fmt.Errorf("could not create credential %s: %w", fp, err)
			}
		}
		c.Secret = secret
		creds = append(creds, c)
	}
	if len(creds) == 0 {
		return nil, ErrNoCredentials
	}

	return creds, nil
}
