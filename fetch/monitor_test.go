package fetch

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"ewintr.nl/shortwatch/baseline"
	"ewintr.nl/shortwatch/model"
	"ewintr.nl/shortwatch/storage"
)

type fakeReader struct {
	infos   map[model.YoutubeChannelID]model.ChannelInfo
	errs    map[model.YoutubeChannelID]error
	entries map[string][]PlaylistEntry
	stats   map[model.YoutubeVideoID]model.Statistics
	search  map[string]model.YoutubeChannelID
	asked   []model.YoutubeChannelID
	// onStats runs before statistics are returned, ctxErr records the state
	// of the call context afterwards.
	onStats func()
	ctxErr  error
}

func newFakeReader() *fakeReader {
	return &fakeReader{
		infos:   make(map[model.YoutubeChannelID]model.ChannelInfo),
		errs:    make(map[model.YoutubeChannelID]error),
		entries: make(map[string][]PlaylistEntry),
		stats:   make(map[model.YoutubeVideoID]model.Statistics),
		search:  make(map[string]model.YoutubeChannelID),
	}
}

func (f *fakeReader) ChannelInfo(_ context.Context, id model.YoutubeChannelID) (model.ChannelInfo, error) {
	f.asked = append(f.asked, id)
	if err, ok := f.errs[id]; ok {
		return model.ChannelInfo{}, err
	}
	info, ok := f.infos[id]
	if !ok {
		return model.ChannelInfo{}, fmt.Errorf("%w: %s", ErrChannelNotFound, id)
	}
	return info, nil
}

func (f *fakeReader) PlaylistVideos(_ context.Context, playlistID string, limit int) ([]PlaylistEntry, error) {
	entries := f.entries[playlistID]
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (f *fakeReader) VideoStatistics(ctx context.Context, ids []model.YoutubeVideoID) (map[model.YoutubeVideoID]model.Statistics, error) {
	if f.onStats != nil {
		f.onStats()
		f.ctxErr = ctx.Err()
	}
	res := make(map[model.YoutubeVideoID]model.Statistics)
	for _, id := range ids {
		if s, ok := f.stats[id]; ok {
			res[id] = s
		}
	}
	return res, nil
}

func (f *fakeReader) SearchChannel(_ context.Context, query string) (model.YoutubeChannelID, error) {
	id, ok := f.search[query]
	if !ok {
		return "", ErrChannelNotFound
	}
	return id, nil
}

type fakeEvaluator struct {
	evaluated []model.YoutubeChannelID
	events    map[model.YoutubeChannelID][]model.NotificationEvent
}

func (f *fakeEvaluator) EvaluateChannel(_ context.Context, id model.YoutubeChannelID) ([]model.NotificationEvent, error) {
	f.evaluated = append(f.evaluated, id)
	return f.events[id], nil
}

type monitorFixture struct {
	store     *storage.Memory
	reader    *fakeReader
	evaluator *fakeEvaluator
	monitor   *Monitor
	now       time.Time
}

func newMonitorFixture(t *testing.T) *monitorFixture {
	t.Helper()
	pool, _ := newTestPool(t, 1)
	store := storage.NewMemory()
	reader := newFakeReader()
	evaluator := &fakeEvaluator{events: make(map[model.YoutubeChannelID][]model.NotificationEvent)}
	engine := baseline.NewEngine(store, store, store, nil, baseline.DefaultConfig(), testLogger)
	cfg := DefaultMonitorConfig()
	cfg.ChannelPause = 0

	return &monitorFixture{
		store:     store,
		reader:    reader,
		evaluator: evaluator,
		monitor:   NewMonitor(store, pool, reader, engine, evaluator, cfg, nil, testLogger),
		now:       time.Now().UTC(),
	}
}

// addChannel registers a channel both in the store and in the fake API.
func (f *monitorFixture) addChannel(t *testing.T, id model.YoutubeChannelID, order int) {
	t.Helper()
	f.reader.infos[id] = model.ChannelInfo{
		ID:            id,
		Title:         "title " + string(id),
		UploadsFeedID: "UU" + string(id),
	}
	if err := f.store.SaveChannel(context.Background(), &model.Channel{
		ID:        id,
		CreatedAt: f.now.Add(time.Duration(order) * time.Minute),
		Active:    true,
	}); err != nil {
		t.Fatalf("exp nil, got %v", err)
	}
}

func (f *monitorFixture) addUpload(channelID model.YoutubeChannelID, videoID model.YoutubeVideoID, age time.Duration, seconds int, views int64) {
	playlist := "UU" + string(channelID)
	f.reader.entries[playlist] = append(f.reader.entries[playlist], PlaylistEntry{
		ID:          videoID,
		Title:       "video " + string(videoID),
		PublishedAt: f.now.Add(-age),
	})
	f.reader.stats[videoID] = model.Statistics{ViewCount: views, DurationSeconds: seconds}
}

func TestMonitorRefreshChannel(t *testing.T) {
	f := newMonitorFixture(t)
	ctx := context.Background()
	f.addChannel(t, "UCone", 0)
	f.addUpload("UCone", "short1", 2*time.Hour, 30, 1000)
	f.addUpload("UCone", "long1", 5*time.Hour, 300, 5000)
	f.addUpload("UCone", "old1", 10*24*time.Hour, 20, 80000)

	if _, err := f.monitor.RefreshChannel(ctx, "UCone"); err != nil {
		t.Fatalf("exp nil, got %v", err)
	}

	ch, err := f.store.FindChannel(ctx, "UCone")
	if err != nil {
		t.Fatalf("exp nil, got %v", err)
	}
	if ch.Title != "title UCone" || ch.LastChecked.IsZero() {
		t.Errorf("exp channel info applied, got %+v", ch)
	}

	for _, tc := range []struct {
		id        model.YoutubeVideoID
		short     bool
		snapshots int
	}{
		{id: "short1", short: true, snapshots: 1},
		{id: "long1", short: false, snapshots: 1},
		{id: "old1", short: true, snapshots: 0},
	} {
		v, err := f.store.FindVideo(ctx, tc.id)
		if err != nil {
			t.Fatalf("exp nil, got %v", err)
		}
		if v.IsShort != tc.short {
			t.Errorf("%s: exp short %v, got %v", tc.id, tc.short, v.IsShort)
		}
		if v.Status != model.StatusTracked {
			t.Errorf("%s: exp tracked, got %s", tc.id, v.Status)
		}
		snaps, _ := f.store.FindSnapshots(ctx, []model.YoutubeVideoID{tc.id})
		if len(snaps[tc.id]) != tc.snapshots {
			t.Errorf("%s: exp %d snapshots, got %d", tc.id, tc.snapshots, len(snaps[tc.id]))
		}
	}

	if len(f.store.Baselines("UCone")) != 1 {
		t.Errorf("exp a baseline to be stored")
	}
	if len(f.evaluator.evaluated) != 1 {
		t.Errorf("exp channel to be evaluated once, got %d", len(f.evaluator.evaluated))
	}

	t.Run("classification is fixed", func(t *testing.T) {
		f.reader.stats["short1"] = model.Statistics{ViewCount: 3000, DurationSeconds: 90}
		if _, err := f.monitor.RefreshChannel(ctx, "UCone"); err != nil {
			t.Fatalf("exp nil, got %v", err)
		}
		v, _ := f.store.FindVideo(ctx, "short1")
		if !v.IsShort {
			t.Errorf("exp video to stay a short")
		}
		if v.ViewCount != 3000 {
			t.Errorf("exp 3000 views, got %d", v.ViewCount)
		}
		snaps, _ := f.store.FindSnapshots(ctx, []model.YoutubeVideoID{"short1"})
		if len(snaps["short1"]) != 2 {
			t.Errorf("exp 2 snapshots, got %d", len(snaps["short1"]))
		}
		if len(f.store.Baselines("UCone")) != 2 {
			t.Errorf("exp baseline history to grow")
		}
	})
}

func TestMonitorRefreshMissingChannel(t *testing.T) {
	f := newMonitorFixture(t)
	ctx := context.Background()
	f.addChannel(t, "UCgone", 0)
	delete(f.reader.infos, "UCgone")

	if _, err := f.monitor.RefreshChannel(ctx, "UCgone"); !errors.Is(err, ErrChannelNotFound) {
		t.Fatalf("exp ErrChannelNotFound, got %v", err)
	}
	ch, _ := f.store.FindChannel(ctx, "UCgone")
	if ch.Active {
		t.Errorf("exp channel deactivated")
	}
}

func TestMonitorRunCycle(t *testing.T) {
	for _, tc := range []struct {
		name      string
		errB      error
		cancel    bool
		expReport CycleReport
		expAsked  int
	}{
		{
			name:      "all fine",
			expReport: CycleReport{Channels: 3, Checked: 3, Notified: 1},
			expAsked:  3,
		},
		{
			name:      "failing channel is skipped",
			errB:      errors.New("backend error"),
			expReport: CycleReport{Channels: 3, Checked: 2, Failed: 1, Notified: 1},
			expAsked:  3,
		},
		{
			name:      "quota ends the cycle",
			errB:      fmt.Errorf("%w: no keys", ErrQuotaExhausted),
			expReport: CycleReport{Channels: 3, Checked: 1, Notified: 1, QuotaExhausted: true},
			expAsked:  2,
		},
		{
			name:      "cancelled",
			cancel:    true,
			expReport: CycleReport{Channels: 3, Cancelled: true},
			expAsked:  0,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newMonitorFixture(t)
			f.addChannel(t, "UCa", 0)
			f.addChannel(t, "UCb", 1)
			f.addChannel(t, "UCc", 2)
			f.addUpload("UCa", "a1", time.Hour, 30, 100)
			f.evaluator.events["UCa"] = []model.NotificationEvent{{Policy: "relative"}}
			if tc.errB != nil {
				f.reader.errs["UCb"] = tc.errB
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			if tc.cancel {
				cancel()
			}

			report, err := f.monitor.RunCycle(ctx)
			if err != nil {
				t.Fatalf("exp nil, got %v", err)
			}
			report.Duration = 0
			if report != tc.expReport {
				t.Errorf("exp %+v, got %+v", tc.expReport, report)
			}
			if len(f.reader.asked) != tc.expAsked {
				t.Errorf("exp %d channels asked, got %v", tc.expAsked, f.reader.asked)
			}
		})
	}
}

func TestMonitorCancelFinishesChannel(t *testing.T) {
	f := newMonitorFixture(t)
	f.addChannel(t, "UCa", 0)
	f.addChannel(t, "UCb", 1)
	f.addUpload("UCa", "a1", time.Hour, 30, 100)
	f.addUpload("UCb", "b1", time.Hour, 30, 100)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.reader.onStats = cancel

	report, err := f.monitor.RunCycle(ctx)
	if err != nil {
		t.Fatalf("exp nil, got %v", err)
	}
	report.Duration = 0
	exp := CycleReport{Channels: 2, Checked: 1, Cancelled: true}
	if report != exp {
		t.Errorf("exp %+v, got %+v", exp, report)
	}
	if f.reader.ctxErr != nil {
		t.Errorf("exp call context to survive cancellation, got %v", f.reader.ctxErr)
	}
	if len(f.reader.asked) != 1 || f.reader.asked[0] != "UCa" {
		t.Errorf("exp only UCa asked, got %v", f.reader.asked)
	}
	if len(f.evaluator.evaluated) != 1 || f.evaluator.evaluated[0] != "UCa" {
		t.Errorf("exp UCa evaluated, got %v", f.evaluator.evaluated)
	}
	snapshots, err := f.store.FindSnapshots(context.Background(), []model.YoutubeVideoID{"a1", "b1"})
	if err != nil {
		t.Fatalf("exp nil, got %v", err)
	}
	if len(snapshots["a1"]) != 1 {
		t.Errorf("exp snapshot for a1, got %v", snapshots["a1"])
	}
	if len(snapshots["b1"]) != 0 {
		t.Errorf("exp no snapshot for b1, got %v", snapshots["b1"])
	}
}

func TestMonitorEmergencyQuotaSkipsChannel(t *testing.T) {
	fake, srv := newFakeAPI()
	defer srv.Close()
	yt, creds := newTestYoutube(t, 2, srv)
	creds[0].QuotaUsed = 9600
	creds[1].QuotaUsed = 9600

	store := storage.NewMemory()
	if err := store.SaveChannel(context.Background(), &model.Channel{ID: "UCknown", CreatedAt: time.Now().UTC(), Active: true}); err != nil {
		t.Fatalf("exp nil, got %v", err)
	}
	evaluator := &fakeEvaluator{}
	engine := baseline.NewEngine(store, store, store, nil, baseline.DefaultConfig(), testLogger)
	cfg := DefaultMonitorConfig()
	cfg.ChannelPause = 0
	monitor := NewMonitor(store, yt.exec.Pool(), yt, engine, evaluator, cfg, nil, testLogger)

	report, err := monitor.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("exp nil, got %v", err)
	}
	report.Duration = 0
	exp := CycleReport{Channels: 1, QuotaExhausted: true}
	if report != exp {
		t.Errorf("exp %+v, got %+v", exp, report)
	}
	if calls := fake.keysFor("/youtube/v3/channels"); len(calls) != 0 {
		t.Errorf("exp no requests, got %v", calls)
	}
	if len(evaluator.evaluated) != 0 {
		t.Errorf("exp no evaluation, got %v", evaluator.evaluated)
	}
	if creds[0].QuotaUsed != 9600 || creds[1].QuotaUsed != 9600 {
		t.Errorf("exp usage unchanged, got %d and %d", creds[0].QuotaUsed, creds[1].QuotaUsed)
	}
}

func TestMonitorSkipsInactiveChannels(t *testing.T) {
	f := newMonitorFixture(t)
	ctx := context.Background()
	f.addChannel(t, "UCa", 0)
	f.addChannel(t, "UCb", 1)
	ch, _ := f.store.FindChannel(ctx, "UCb")
	ch.Active = false
	if err := f.store.SaveChannel(ctx, ch); err != nil {
		t.Fatalf("exp nil, got %v", err)
	}

	report, err := f.monitor.RunCycle(ctx)
	if err != nil {
		t.Fatalf("exp nil, got %v", err)
	}
	if report.Channels != 1 || report.Checked != 1 {
		t.Errorf("exp only the active channel, got %+v", report)
	}
}

func TestMonitorChannelManagement(t *testing.T) {
	f := newMonitorFixture(t)
	ctx := context.Background()
	f.reader.infos["UCnew"] = model.ChannelInfo{ID: "UCnew", Title: "New", UploadsFeedID: "UUnew"}
	f.reader.search["new creator"] = "UCnew"

	t.Run("add by query", func(t *testing.T) {
		ch, err := f.monitor.AddChannelByQuery(ctx, "new creator")
		if err != nil {
			t.Fatalf("exp nil, got %v", err)
		}
		if ch.ID != "UCnew" || !ch.Active || ch.CreatedAt.IsZero() {
			t.Errorf("exp active new channel, got %+v", ch)
		}
	})

	t.Run("unknown query", func(t *testing.T) {
		if _, err := f.monitor.AddChannelByQuery(ctx, "nobody"); !errors.Is(err, ErrChannelNotFound) {
			t.Errorf("exp ErrChannelNotFound, got %v", err)
		}
	})

	t.Run("re-add reactivates", func(t *testing.T) {
		ch, _ := f.store.FindChannel(ctx, "UCnew")
		created := ch.CreatedAt
		ch.Active = false
		_ = f.store.SaveChannel(ctx, ch)

		ch, err := f.monitor.AddChannel(ctx, "UCnew")
		if err != nil {
			t.Fatalf("exp nil, got %v", err)
		}
		if !ch.Active || !ch.CreatedAt.Equal(created) {
			t.Errorf("exp reactivated channel with original creation time, got %+v", ch)
		}
	})

	t.Run("remove", func(t *testing.T) {
		if err := f.monitor.RemoveChannel(ctx, "UCnew"); err != nil {
			t.Fatalf("exp nil, got %v", err)
		}
		if _, err := f.store.FindChannel(ctx, "UCnew"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("exp ErrNotFound, got %v", err)
		}
		if err := f.monitor.RemoveChannel(ctx, "UCnew"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("exp ErrNotFound on second remove, got %v", err)
		}
	})
}
