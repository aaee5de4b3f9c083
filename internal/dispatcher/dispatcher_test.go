package dispatcher

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/garimto81/ggm-timeline/internal/config"
	"github.com/garimto81/ggm-timeline/internal/ledger"
	"github.com/garimto81/ggm-timeline/internal/timeline"
)

type fakeRows struct {
	mu   sync.Mutex
	rows []map[string]any
	err  error
}

func (f *fakeRows) set(rows []map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = rows
}

func (f *fakeRows) FetchRows(context.Context) ([]map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows, f.err
}

type fakeClock struct {
	mu  sync.Mutex
	sec float64
	err error
}

func (f *fakeClock) set(sec float64, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sec, f.err = sec, err
}

func (f *fakeClock) Timecode(context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sec, f.err
}

type fakeSink struct {
	mu    sync.Mutex
	codes []int
	err   error
}

func (f *fakeSink) Send(_ context.Context, code int, _ timeline.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.codes = append(f.codes, code)
	return nil
}

func (f *fakeSink) sent() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, len(f.codes))
	copy(out, f.codes)
	return out
}

type recordingNotifier struct {
	NopNotifier
	mu     sync.Mutex
	fired  []timeline.Event
	late   []bool
	failed []string
}

func (r *recordingNotifier) EventFired(ev timeline.Event, _ float64, late bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fired = append(r.fired, ev)
	r.late = append(r.late, late)
}

func (r *recordingNotifier) EventFailed(_ timeline.Event, _ float64, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, reason)
}

func (r *recordingNotifier) failures() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.failed))
	copy(out, r.failed)
	return out
}

func newTestDispatcher(t *testing.T, rows *fakeRows, clock *fakeClock, sink *fakeSink) (*Dispatcher, *recordingNotifier) {
	t.Helper()
	cfg := config.Default()
	rec := &recordingNotifier{}
	d := New(cfg, ledger.New(), rows, clock, sink, rec)
	return d, rec
}

// One heads-up row at 12:00:00 compiles to a single Hero-opens event at
// day-second 43200.
func heroOpensRows() []map[string]any {
	return []map[string]any{
		{"CommandType": "GTO-W", "Hand": "7", "Seat": "1", "Time1": "2024-05-01 12:00:00"},
	}
}

const heroOpensAt = 12 * 3600.0

func TestTickFiresWithinTolerance(t *testing.T) {
	rows := &fakeRows{rows: heroOpensRows()}
	clock := &fakeClock{sec: heroOpensAt + 0.4}
	sink := &fakeSink{}
	d, rec := newTestDispatcher(t, rows, clock, sink)

	ctx := context.Background()
	d.refresh(ctx)
	d.tick(ctx)

	if got := sink.sent(); len(got) != 1 || got[0] != timeline.CodeHeroOpens {
		t.Fatalf("sink received %v, want [%d]", got, timeline.CodeHeroOpens)
	}

	// Subsequent ticks must not fire the same event again.
	d.tick(ctx)
	d.tick(ctx)
	if got := sink.sent(); len(got) != 1 {
		t.Errorf("event fired %d times, want 1", len(got))
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.fired) != 1 {
		t.Errorf("notifier saw %d fires, want 1", len(rec.fired))
	}
}

func TestTickDoesNotFireEarly(t *testing.T) {
	rows := &fakeRows{rows: heroOpensRows()}
	clock := &fakeClock{sec: heroOpensAt - 2}
	sink := &fakeSink{}
	d, _ := newTestDispatcher(t, rows, clock, sink)

	ctx := context.Background()
	d.refresh(ctx)
	d.tick(ctx)

	if got := sink.sent(); len(got) != 0 {
		t.Errorf("sink received %v before the event was due", got)
	}
}

func TestTickCatchUpFiresLate(t *testing.T) {
	rows := &fakeRows{rows: heroOpensRows()}
	clock := &fakeClock{sec: heroOpensAt + 4} // past tolerance, inside catch-up
	sink := &fakeSink{}
	d, _ := newTestDispatcher(t, rows, clock, sink)

	ctx := context.Background()
	d.refresh(ctx)
	d.tick(ctx)

	if got := sink.sent(); len(got) != 1 {
		t.Fatalf("catch-up did not fire: sink received %v", got)
	}
}

func TestTickMissedPastCatchUp(t *testing.T) {
	rows := &fakeRows{rows: heroOpensRows()}
	clock := &fakeClock{sec: heroOpensAt + 6} // past the catch-up window
	sink := &fakeSink{}
	d, rec := newTestDispatcher(t, rows, clock, sink)

	ctx := context.Background()
	d.refresh(ctx)
	d.tick(ctx)
	d.tick(ctx)

	if got := sink.sent(); len(got) != 0 {
		t.Errorf("missed event still fired: sink received %v", got)
	}
	if got := rec.failures(); len(got) != 1 || got[0] != "missed" {
		t.Errorf("notifier failures = %v, want one %q", got, "missed")
	}
}

func TestToleranceBoundaries(t *testing.T) {
	tests := []struct {
		name     string
		clock    float64
		fired    bool
		late     bool
		failures int
	}{
		{"exactly at tolerance", heroOpensAt + 0.6, true, false, 0},
		{"just past tolerance", heroOpensAt + 0.8, true, true, 0},
		{"at catch-up limit", heroOpensAt + 5.0, true, true, 0},
		{"past catch-up limit", heroOpensAt + 5.2, false, false, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows := &fakeRows{rows: heroOpensRows()}
			sink := &fakeSink{}
			d, rec := newTestDispatcher(t, rows, &fakeClock{sec: tt.clock}, sink)

			ctx := context.Background()
			d.refresh(ctx)
			d.tick(ctx)

			if got := len(sink.sent()); (got == 1) != tt.fired {
				t.Errorf("fired %d times, want fired=%v", got, tt.fired)
			}
			if got := len(rec.failures()); got != tt.failures {
				t.Errorf("got %d failures, want %d", got, tt.failures)
			}
			rec.mu.Lock()
			defer rec.mu.Unlock()
			if tt.fired && len(rec.fired) == 1 {
				if rec.late[0] != tt.late {
					t.Errorf("late = %v, want %v", rec.late[0], tt.late)
				}
				_, states := d.Snapshot()
				if !states[rec.fired[0].Key].Executed {
					t.Error("fired event not marked executed")
				}
			}
		})
	}
}

func TestTickPaused(t *testing.T) {
	rows := &fakeRows{rows: heroOpensRows()}
	clock := &fakeClock{sec: heroOpensAt}
	sink := &fakeSink{}
	d, _ := newTestDispatcher(t, rows, clock, sink)

	ctx := context.Background()
	d.refresh(ctx)

	d.SetRunning(false)
	d.tick(ctx)
	if got := sink.sent(); len(got) != 0 {
		t.Fatalf("paused dispatcher fired %v", got)
	}

	d.SetRunning(true)
	d.tick(ctx)
	if got := sink.sent(); len(got) != 1 {
		t.Errorf("resumed dispatcher fired %d events, want 1", len(got))
	}
}

func TestTickFiresInTimeOrder(t *testing.T) {
	rows := &fakeRows{rows: []map[string]any{
		{"CommandType": "BlindsUp", "Hand": "b1", "Time1": "2024-05-01 12:00:00.2"},
		{"CommandType": "BreakSkip", "Hand": "b2", "Time1": "2024-05-01 11:59:59.8"},
	}}
	clock := &fakeClock{sec: heroOpensAt}
	sink := &fakeSink{}
	d, _ := newTestDispatcher(t, rows, clock, sink)

	ctx := context.Background()
	d.refresh(ctx)
	d.tick(ctx)

	want := []int{timeline.CodeBreakSkip, timeline.CodeBlindsUp}
	got := sink.sent()
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("fire order = %v, want %v", got, want)
	}
}

func TestDeletedBlockRearmsAndRefires(t *testing.T) {
	rows := &fakeRows{rows: heroOpensRows()}
	clock := &fakeClock{sec: heroOpensAt}
	sink := &fakeSink{}
	d, _ := newTestDispatcher(t, rows, clock, sink)

	ctx := context.Background()
	d.refresh(ctx)
	d.tick(ctx)
	if got := sink.sent(); len(got) != 1 {
		t.Fatalf("initial fire: sink received %v", got)
	}

	// The block comes back flagged deleted. Its events leave the timeline
	// and the ledger records reset, even though the source spells the
	// command type with an alias.
	deleted := heroOpensRows()
	deleted[0]["Delete"] = true
	rows.set(deleted)
	d.refresh(ctx)

	events, _ := d.Snapshot()
	if len(events) != 0 {
		t.Fatalf("deleted block still published %d events", len(events))
	}

	// The block reappears clean: same key, armed again.
	rows.set(heroOpensRows())
	d.refresh(ctx)
	d.tick(ctx)

	if got := sink.sent(); len(got) != 2 {
		t.Errorf("event fired %d times across delete/rearm cycle, want 2", len(got))
	}
}

func TestSinkFailureRetriesWhileInWindow(t *testing.T) {
	rows := &fakeRows{rows: heroOpensRows()}
	clock := &fakeClock{sec: heroOpensAt}
	sink := &fakeSink{err: errors.New("panel offline")}
	d, rec := newTestDispatcher(t, rows, clock, sink)

	ctx := context.Background()
	d.refresh(ctx)
	d.tick(ctx)

	if got := sink.sent(); len(got) != 0 {
		t.Fatalf("failing sink recorded sends: %v", got)
	}
	if got := rec.failures(); len(got) == 0 {
		t.Fatal("notifier saw no failure for failing sink")
	}

	// Sink recovers while the event is still inside the catch-up window.
	sink.mu.Lock()
	sink.err = nil
	sink.mu.Unlock()
	clock.set(heroOpensAt+2, nil)
	d.tick(ctx)

	if got := sink.sent(); len(got) != 1 {
		t.Errorf("recovered sink fired %d events, want 1", len(got))
	}
}

func TestCurrentTimeQuantizesReading(t *testing.T) {
	clock := &fakeClock{sec: 500.07}
	d, _ := newTestDispatcher(t, &fakeRows{}, clock, &fakeSink{})

	if got := d.CurrentTime(context.Background()); got != 500.0 {
		t.Errorf("CurrentTime = %v, want 500.0", got)
	}
}

func TestCurrentTimeUsesCachedReadingWhileStale(t *testing.T) {
	clock := &fakeClock{sec: 500}
	d, _ := newTestDispatcher(t, &fakeRows{}, clock, &fakeSink{})

	ctx := context.Background()
	if got := d.CurrentTime(ctx); got != 500 {
		t.Fatalf("CurrentTime = %v, want 500", got)
	}

	clock.set(0, errors.New("device gone"))
	if got := d.CurrentTime(ctx); got != 500 {
		t.Errorf("CurrentTime after fresh failure = %v, want cached 500", got)
	}
}

func TestCurrentTimeFallsBackToLocalClock(t *testing.T) {
	clock := &fakeClock{err: errors.New("device gone")}
	d, _ := newTestDispatcher(t, &fakeRows{}, clock, &fakeSink{})

	got := d.CurrentTime(context.Background())
	want := timeline.LocalDaySeconds(time.Now(), 0, d.cfg.Dispatcher.QuantStep)
	if math.Abs(got-want) > 1.0 {
		t.Errorf("CurrentTime = %v, want local clock around %v", got, want)
	}
}

func TestRefreshKeepsTimelineOnFetchError(t *testing.T) {
	rows := &fakeRows{rows: heroOpensRows()}
	clock := &fakeClock{sec: heroOpensAt}
	d, _ := newTestDispatcher(t, rows, clock, &fakeSink{})

	ctx := context.Background()
	d.refresh(ctx)
	before, _ := d.Snapshot()
	if len(before) != 1 {
		t.Fatalf("published %d events, want 1", len(before))
	}

	rows.mu.Lock()
	rows.err = errors.New("gateway down")
	rows.mu.Unlock()
	d.refresh(ctx)

	after, _ := d.Snapshot()
	if len(after) != 1 {
		t.Errorf("fetch failure replaced the timeline: %d events", len(after))
	}

	health := d.HealthSnapshot()
	if health["rows"].Failures == 0 {
		t.Error("rows collaborator failure not recorded")
	}
}

func TestHealthSnapshotStatuses(t *testing.T) {
	rows := &fakeRows{err: errors.New("gateway down")}
	d, _ := newTestDispatcher(t, rows, &fakeClock{sec: 1}, &fakeSink{})

	ctx := context.Background()
	if st := d.HealthSnapshot()["rows"].Status; st != StatusHealthy {
		t.Errorf("initial rows status = %q, want %q", st, StatusHealthy)
	}

	d.refresh(ctx)
	if st := d.HealthSnapshot()["rows"].Status; st != StatusDegraded {
		t.Errorf("after one failure rows status = %q, want %q", st, StatusDegraded)
	}

	for i := 0; i < d.cfg.Dispatcher.HealthWarningThreshold; i++ {
		d.refresh(ctx)
	}
	if st := d.HealthSnapshot()["rows"].Status; st != StatusFailed {
		t.Errorf("after repeated failures rows status = %q, want %q", st, StatusFailed)
	}
}
