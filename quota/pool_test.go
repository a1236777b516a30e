package quota

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"ewintr.nl/shortwatch/model"
	"ewintr.nl/shortwatch/storage"
	"golang.org/x/exp/slog"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func newCreds(now time.Time, used ...int) []*model.Credential {
	creds := make([]*model.Credential, len(used))
	for i, u := range used {
		secret := []string{"AIzaSy-key-aaaaaa", "AIzaSy-key-bbbbbb", "AIzaSy-key-cccccc", "AIzaSy-key-dddddd"}[i]
		creds[i] = &model.Credential{
			Index:      i,
			Secret:     secret,
			Identifier: model.Fingerprint(secret),
			QuotaUsed:  u,
			LastReset:  utcDay(now),
			Active:     true,
		}
	}
	return creds
}

func newTestPool(t *testing.T, now time.Time, creds []*model.Credential) *Pool {
	t.Helper()
	p, err := NewPool(creds, NewTracker(10000, nil), DefaultPoolConfig(), testLogger)
	if err != nil {
		t.Fatalf("exp nil, got %v", err)
	}
	p.now = func() time.Time { return now }
	return p
}

func currentIndex(t *testing.T, p *Pool) int {
	t.Helper()
	_, idx, err := p.Current()
	if err != nil {
		t.Fatalf("exp nil, got %v", err)
	}
	return idx
}

func TestNewPool(t *testing.T) {
	now := time.Now().UTC()

	t.Run("empty", func(t *testing.T) {
		if _, err := NewPool(nil, NewTracker(0, nil), DefaultPoolConfig(), testLogger); !errors.Is(err, ErrNoCredentials) {
			t.Errorf("exp ErrNoCredentials, got %v", err)
		}
	})

	t.Run("starts at first usable", func(t *testing.T) {
		creds := newCreds(now, 9700, 100)
		p := newTestPool(t, now, creds)
		if idx := currentIndex(t, p); idx != 1 {
			t.Errorf("exp 1, got %d", idx)
		}
	})
}

func TestPoolPreemptiveRotation(t *testing.T) {
	now := time.Now().UTC()
	creds := newCreds(now, 0, 0)
	p := newTestPool(t, now, creds)
	creds[0].QuotaUsed = 9600

	p.MarkUsed(500)

	if creds[0].QuotaUsed != 10100 {
		t.Errorf("exp 10100, got %d", creds[0].QuotaUsed)
	}
	if idx := currentIndex(t, p); idx != 1 {
		t.Errorf("exp rotation to 1, got %d", idx)
	}
}

func TestPoolPreemptiveRotationBestEffort(t *testing.T) {
	now := time.Now().UTC()
	creds := newCreds(now, 0)
	p := newTestPool(t, now, creds)
	creds[0].QuotaUsed = 8500

	p.MarkUsed(1)

	secret, idx, err := p.Current()
	if err != nil {
		t.Fatalf("exp current key still in use, got %v", err)
	}
	if idx != 0 || secret != creds[0].Secret {
		t.Errorf("exp key 0, got %d", idx)
	}
}

func TestPoolCurrentEmergencyStop(t *testing.T) {
	now := time.Now().UTC()

	for _, tc := range []struct {
		name   string
		used   []int
		expErr bool
		expIdx int
	}{
		{name: "below emergency", used: []int{9499, 0}, expIdx: 0},
		{name: "at emergency moves on", used: []int{9500, 10}, expIdx: 1},
		{name: "all at emergency", used: []int{9600, 9600}, expErr: true},
		{name: "all between emergency and limit", used: []int{9500, 9999}, expErr: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			creds := newCreds(now, 0, 0)
			p := newTestPool(t, now, creds)
			for i, u := range tc.used {
				creds[i].QuotaUsed = u
			}

			_, idx, err := p.Current()
			if tc.expErr {
				if !errors.Is(err, ErrNoCredentials) {
					t.Errorf("exp ErrNoCredentials, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("exp nil, got %v", err)
			}
			if idx != tc.expIdx {
				t.Errorf("exp key %d, got %d", tc.expIdx, idx)
			}
		})
	}
}

func TestPoolRotate(t *testing.T) {
	now := time.Now().UTC()

	for _, tc := range []struct {
		name     string
		used     []int
		inactive []int
		current  int
		force    bool
		exp      bool
		expIdx   int
	}{
		{
			name:   "next in line",
			used:   []int{0, 0, 0},
			exp:    true,
			expIdx: 1,
		},
		{
			name:     "skips inactive",
			used:     []int{0, 0, 0},
			inactive: []int{1},
			exp:      true,
			expIdx:   2,
		},
		{
			name:   "skips emergency",
			used:   []int{0, 9500, 100},
			exp:    true,
			expIdx: 2,
		},
		{
			name:    "wraps around",
			used:    []int{0, 9999, 9600},
			current: 2,
			exp:     true,
			expIdx:  0,
		},
		{
			name:    "falls back to current",
			used:    []int{9600, 9600, 10},
			current: 2,
			exp:     true,
			expIdx:  2,
		},
		{
			name:    "all at emergency",
			used:    []int{9500, 9800, 9999},
			current: 0,
			exp:     false,
			expIdx:  0,
		},
		{
			name:    "force ignores emergency",
			used:    []int{9500, 9800, 9999},
			current: 0,
			force:   true,
			exp:     true,
			expIdx:  1,
		},
		{
			name:     "force never picks inactive",
			used:     []int{9500, 0},
			inactive: []int{1},
			current:  0,
			force:    true,
			exp:      true,
			expIdx:   0,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			creds := newCreds(now, tc.used...)
			p := newTestPool(t, now, creds)
			for _, i := range tc.inactive {
				creds[i].Active = false
			}
			p.current = tc.current

			if act := p.Rotate(tc.force); act != tc.exp {
				t.Errorf("exp %v, got %v", tc.exp, act)
			}
			if p.current != tc.expIdx {
				t.Errorf("exp current %d, got %d", tc.expIdx, p.current)
			}
		})
	}
}

func TestPoolRecordError(t *testing.T) {
	now := time.Now().UTC()

	t.Run("quota exceeded", func(t *testing.T) {
		creds := newCreds(now, 10, 20)
		p := newTestPool(t, now, creds)

		if !p.RecordError(ErrorQuotaExceeded) {
			t.Errorf("exp rotation")
		}
		if creds[0].QuotaUsed != 10000 {
			t.Errorf("exp usage clamped to limit, got %d", creds[0].QuotaUsed)
		}
		if creds[0].LastError == nil {
			t.Errorf("exp last error set")
		}
		if idx := currentIndex(t, p); idx != 1 {
			t.Errorf("exp 1, got %d", idx)
		}
	})

	t.Run("quota exceeded on last key", func(t *testing.T) {
		creds := newCreds(now, 10)
		p := newTestPool(t, now, creds)

		if p.RecordError(ErrorQuotaExceeded) {
			t.Errorf("exp no rotation")
		}
		if _, _, err := p.Current(); !errors.Is(err, ErrNoCredentials) {
			t.Errorf("exp ErrNoCredentials, got %v", err)
		}
	})

	t.Run("invalid credential", func(t *testing.T) {
		creds := newCreds(now, 10, 20)
		p := newTestPool(t, now, creds)

		if !p.RecordError(ErrorInvalidCredential) {
			t.Errorf("exp rotation")
		}
		if creds[0].Active {
			t.Errorf("exp key disabled")
		}
		// a new day does not bring it back
		p.now = func() time.Time { return now.Add(24 * time.Hour) }
		if p.Rotate(true) && p.current == 0 {
			t.Errorf("exp disabled key never selected")
		}
	})

	t.Run("transient errors", func(t *testing.T) {
		creds := newCreds(now, 10, 20)
		p := newTestPool(t, now, creds)

		for i := 1; i < 3; i++ {
			if p.RecordError(ErrorTransient) {
				t.Errorf("exp no rotation after %d errors", i)
			}
		}
		if creds[0].ErrorCount != 2 {
			t.Errorf("exp 2 errors, got %d", creds[0].ErrorCount)
		}
		if !p.RecordError(ErrorTransient) {
			t.Errorf("exp rotation on third error")
		}
		if idx := currentIndex(t, p); idx != 1 {
			t.Errorf("exp 1, got %d", idx)
		}
	})

	t.Run("success clears streak", func(t *testing.T) {
		creds := newCreds(now, 10, 20)
		p := newTestPool(t, now, creds)

		p.RecordError(ErrorTransient)
		p.RecordError(ErrorTransient)
		p.RecordSuccess()
		if creds[0].ErrorCount != 0 {
			t.Errorf("exp 0, got %d", creds[0].ErrorCount)
		}
		if p.RecordError(ErrorTransient) {
			t.Errorf("exp no rotation after streak was broken")
		}
	})

	t.Run("not found", func(t *testing.T) {
		creds := newCreds(now, 10, 20)
		p := newTestPool(t, now, creds)

		if p.RecordError(ErrorNotFound) {
			t.Errorf("exp no rotation")
		}
		if creds[0].ErrorCount != 0 {
			t.Errorf("exp no error counted, got %d", creds[0].ErrorCount)
		}
	})
}

func TestPoolDayRollover(t *testing.T) {
	now := time.Date(2024, 3, 10, 23, 0, 0, 0, time.UTC)
	creds := newCreds(now, 0, 0)
	p := newTestPool(t, now, creds)
	creds[0].QuotaUsed = 10000
	creds[0].ErrorCount = 2
	creds[1].QuotaUsed = 9900

	if _, _, err := p.Current(); !errors.Is(err, ErrNoCredentials) {
		t.Fatalf("exp ErrNoCredentials before midnight, got %v", err)
	}

	p.now = func() time.Time { return now.Add(2 * time.Hour) }
	_, idx, err := p.Current()
	if err != nil {
		t.Fatalf("exp nil after midnight, got %v", err)
	}
	if idx != 0 {
		t.Errorf("exp key 0 back in use, got %d", idx)
	}
	if creds[0].QuotaUsed != 0 || creds[0].ErrorCount != 0 {
		t.Errorf("exp counters reset, got used %d errors %d", creds[0].QuotaUsed, creds[0].ErrorCount)
	}
	// untouched keys reset lazily
	if creds[1].QuotaUsed != 9900 {
		t.Errorf("exp key 1 untouched, got %d", creds[1].QuotaUsed)
	}
	status := p.Status()
	if status[1].Used != 0 {
		t.Errorf("exp key 1 reset once touched, got %d", status[1].Used)
	}
}

func TestPoolStatus(t *testing.T) {
	now := time.Now().UTC()
	creds := newCreds(now, 100, 10500)
	creds[1].Active = false
	p := newTestPool(t, now, creds)

	status := p.Status()
	if len(status) != 2 {
		t.Fatalf("exp 2, got %d", len(status))
	}
	if !status[0].Current || status[1].Current {
		t.Errorf("exp key 0 current, got %+v", status)
	}
	if status[0].Remaining != 9900 {
		t.Errorf("exp 9900, got %d", status[0].Remaining)
	}
	if status[1].Remaining != 0 {
		t.Errorf("exp remaining clamped at 0, got %d", status[1].Remaining)
	}
	if status[1].Active {
		t.Errorf("exp inactive")
	}
	if status[0].Identifier != "aaaaaa" {
		t.Errorf("exp fingerprint, got %q", status[0].Identifier)
	}
}

type failingStore struct {
	*storage.Memory
	fail bool
}

func (f *failingStore) SaveCredential(ctx context.Context, c *model.Credential) error {
	if f.fail {
		return errors.New("unavailable")
	}
	return f.Memory.SaveCredential(ctx, c)
}

func TestPoolFlush(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	store := &failingStore{Memory: storage.NewMemory()}
	creds := newCreds(now, 0, 0)
	p := newTestPool(t, now, creds)

	p.MarkUsed(7)

	store.fail = true
	if err := p.Flush(ctx, store); err == nil {
		t.Errorf("exp error")
	}
	stored, _ := store.FindAllCredentials(ctx)
	if len(stored) != 0 {
		t.Errorf("exp nothing stored, got %d", len(stored))
	}

	store.fail = false
	if err := p.Flush(ctx, store); err != nil {
		t.Errorf("exp nil, got %v", err)
	}
	stored, _ = store.FindAllCredentials(ctx)
	if len(stored) != 1 {
		t.Fatalf("exp 1, got %d", len(stored))
	}
	if stored[0].QuotaUsed != 7 {
		t.Errorf("exp 7, got %d", stored[0].QuotaUsed)
	}
	if stored[0].Secret != "" {
		t.Errorf("exp secret not persisted")
	}
}

func TestLoadCredentials(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	store := storage.NewMemory()

	t.Run("none", func(t *testing.T) {
		if _, err := LoadCredentials(ctx, store, []string{" ", ""}, now); !errors.Is(err, ErrNoCredentials) {
			t.Errorf("exp ErrNoCredentials, got %v", err)
		}
	})

	t.Run("first start", func(t *testing.T) {
		creds, err := LoadCredentials(ctx, store, []string{"secret-one-111111", "secret-two-222222"}, now)
		if err != nil {
			t.Fatalf("exp nil, got %v", err)
		}
		if len(creds) != 2 {
			t.Fatalf("exp 2, got %d", len(creds))
		}
		if creds[1].Identifier != "222222" || creds[1].Secret != "secret-two-222222" {
			t.Errorf("exp second key, got %+v", creds[1])
		}
		if !creds[0].Active || creds[0].QuotaUsed != 0 {
			t.Errorf("exp fresh active ledger, got %+v", creds[0])
		}
	})

	t.Run("restart keeps usage", func(t *testing.T) {
		stored, _ := store.FindAllCredentials(ctx)
		stored[0].QuotaUsed = 1234
		if err := store.SaveCredential(ctx, stored[0]); err != nil {
			t.Fatalf("exp nil, got %v", err)
		}

		creds, err := LoadCredentials(ctx, store, []string{"secret-one-111111", "secret-two-222222"}, now)
		if err != nil {
			t.Fatalf("exp nil, got %v", err)
		}
		if creds[0].QuotaUsed != 1234 {
			t.Errorf("exp 1234, got %d", creds[0].QuotaUsed)
		}
		if creds[0].Secret != "secret-one-111111" {
			t.Errorf("exp secret attached")
		}
	})

	t.Run("replaced key starts over", func(t *testing.T) {
		creds, err := LoadCredentials(ctx, store, []string{"secret-new-333333", "secret-two-222222"}, now)
		if err != nil {
			t.Fatalf("exp nil, got %v", err)
		}
		if creds[0].Identifier != "333333" || creds[0].QuotaUsed != 0 {
			t.Errorf("exp fresh ledger, got %+v", creds[0])
		}
	})
}
