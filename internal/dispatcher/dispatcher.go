// Package dispatcher owns the runtime core: a slow refresh loop that
// recompiles the event timeline from fresh rows and a fast tick loop that
// matches events against the replay timecode and fires each at most once.
// The two loops share an atomically-swapped event snapshot and a
// mutex-guarded execution ledger.
package dispatcher

import (
	"context"
	"log"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/garimto81/ggm-timeline/internal/config"
	"github.com/garimto81/ggm-timeline/internal/ledger"
	"github.com/garimto81/ggm-timeline/internal/timeline"
)

type Dispatcher struct {
	cfg      *config.Config
	led      *ledger.Ledger
	rows     RowSource
	timecode TimecodeSource
	sink     CommandSink
	notifier Notifier
	seats    timeline.SeatMap

	// events holds the published snapshot, replaced wholesale on every
	// successful refresh. The tick loop always observes a complete set.
	events  atomic.Pointer[[]timeline.Event]
	running atomic.Bool

	// Cached replay timecode for the stale-reading window between a
	// device hiccup and the local-clock fallback.
	clockMu    sync.Mutex
	lastSec    float64
	lastSecAt  time.Time
	haveSec    bool
	usingLocal bool

	health map[string]*collabHealth
}

func New(cfg *config.Config, led *ledger.Ledger, rows RowSource, timecode TimecodeSource, sink CommandSink, notifier Notifier) *Dispatcher {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	seats := timeline.DefaultSeatMap()
	if len(cfg.Seats) > 0 {
		seats = timeline.SeatMap(cfg.Seats)
	}
	d := &Dispatcher{
		cfg:      cfg,
		led:      led,
		rows:     rows,
		timecode: timecode,
		sink:     sink,
		notifier: notifier,
		seats:    seats,
		health: map[string]*collabHealth{
			collabRows:     newCollabHealth(),
			collabTimecode: newCollabHealth(),
			collabSink:     newCollabHealth(),
		},
	}
	d.running.Store(true)
	return d
}

// SetNotifier replaces the notifier. Call before Run; the broadcaster is
// wired here because it needs the dispatcher as its snapshot source.
func (d *Dispatcher) SetNotifier(n Notifier) {
	if n != nil {
		d.notifier = n
	}
}

// Run drives both loops until ctx is cancelled. In-flight fires complete;
// no new ticks are scheduled after cancellation.
func (d *Dispatcher) Run(ctx context.Context) {
	log.Printf("Dispatcher started (poll=%s tick=%s tol=%.1fs catchup=%.1fs)",
		d.cfg.Dispatcher.PollInterval, d.cfg.Dispatcher.TickInterval,
		d.cfg.Dispatcher.Tolerance, d.cfg.Dispatcher.CatchupTolerance)

	// Initial refresh so the first ticks have a timeline to evaluate.
	d.refresh(ctx)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		ticker := time.NewTicker(d.cfg.Dispatcher.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.refresh(ctx)
			}
		}
	}()

	go func() {
		defer wg.Done()
		ticker := time.NewTicker(d.cfg.Dispatcher.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.tick(ctx)
			}
		}
	}()

	wg.Wait()
	log.Println("Dispatcher stopped")
}

// SetRunning pauses or resumes fire evaluation. Both loops keep running
// so the timeline and clock stay current while paused.
func (d *Dispatcher) SetRunning(running bool) {
	d.running.Store(running)
	log.Printf("Dispatcher running=%v", running)
}

func (d *Dispatcher) Running() bool {
	return d.running.Load()
}

// refresh fetches a fresh row batch, recompiles the timeline, rearms
// deleted blocks, and atomically publishes the new event set. A fetch
// failure leaves the previously published set authoritative.
func (d *Dispatcher) refresh(ctx context.Context) {
	fctx, cancel := context.WithTimeout(ctx, d.cfg.Sources.FetchTimeout)
	raw, err := d.rows.FetchRows(fctx)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Printf("[%s] fetch error: %v", collabRows, err)
		d.health[collabRows].recordFailure(err)
		d.emitHealth(collabRows)
		return
	}
	d.health[collabRows].recordSuccess()
	d.emitHealth(collabRows)

	rows := timeline.Ingest(raw)
	blocks, deleted := timeline.Partition(rows)

	comp := &timeline.Compiler{
		Step:      d.cfg.Dispatcher.QuantStep,
		OffsetSec: d.cfg.OffsetSec(),
		Seats:     d.seats,
	}
	events, warnings := comp.Compile(blocks)
	for _, w := range warnings {
		log.Printf("[compile] skipped %s", w)
	}

	sort.SliceStable(events, func(i, j int) bool { return events[i].Time < events[j].Time })

	if rearmed := d.led.Rearm(canonicalBlockKeys(deleted)); rearmed > 0 {
		log.Printf("[compile] rearmed %d events across %d deleted blocks", rearmed, len(deleted))
	}

	d.events.Store(&events)
	log.Printf("[compile] published %d events from %d rows (%d blocks, %d deleted)",
		len(events), len(rows), len(blocks), len(deleted))

	keys := make([]timeline.EventKey, len(events))
	for i, ev := range events {
		keys[i] = ev.Key
	}
	d.notifier.TimelinePublished(events, d.led.Snapshot(keys), warnings)
}

// canonicalBlockKeys rewrites deleted-block keys onto the canonical kind
// namespace used by event keys, so rearm matches regardless of which
// command-type alias the source row used.
func canonicalBlockKeys(deleted map[timeline.BlockKey]bool) map[timeline.BlockKey]bool {
	out := make(map[timeline.BlockKey]bool, len(deleted))
	for k := range deleted {
		if kind, ok := timeline.KindOf(k.CommandType); ok {
			out[timeline.BlockKey{BlockID: k.BlockID, CommandType: string(kind)}] = true
		}
	}
	return out
}

// tick evaluates every pending event against the current clock, firing
// due ones in ascending time order. Events already executed are never
// fired again; events past the catch-up window are marked failed so a
// stale backlog cannot flood the control surface after a clock jump.
func (d *Dispatcher) tick(ctx context.Context) {
	if !d.running.Load() {
		return
	}
	evsPtr := d.events.Load()
	if evsPtr == nil {
		return
	}
	now := d.CurrentTime(ctx)

	tol := d.cfg.Dispatcher.Tolerance
	catchup := d.cfg.Dispatcher.CatchupTolerance

	for _, ev := range *evsPtr {
		if ctx.Err() != nil {
			return
		}
		st := d.led.GetOrCreate(ev.Key)
		if !st.Enabled || st.Executed {
			continue
		}
		delta := now - ev.Time
		switch {
		case math.Abs(delta) <= tol:
			d.fire(ctx, ev, now, false)
		case delta > tol && delta <= catchup:
			d.fire(ctx, ev, now, true)
		case delta > catchup:
			if !st.Failed {
				d.led.MarkFailed(ev.Key)
				log.Printf("[tick] missed %s code=%d due=%.1f now=%.1f", ev.Key, ev.Code, ev.Time, now)
				d.notifier.EventFailed(ev, now, "missed")
			}
		}
	}
}

func (d *Dispatcher) fire(ctx context.Context, ev timeline.Event, at float64, late bool) {
	sctx, cancel := context.WithTimeout(ctx, d.cfg.Sources.SinkTimeout)
	err := d.sink.Send(sctx, ev.Code, ev)
	cancel()
	if err != nil {
		d.led.MarkFailed(ev.Key)
		d.health[collabSink].recordFailure(err)
		d.emitHealth(collabSink)
		log.Printf("[%s] send failed %s code=%d: %v", collabSink, ev.Key, ev.Code, err)
		d.notifier.EventFailed(ev, at, err.Error())
		return
	}
	d.health[collabSink].recordSuccess()
	d.emitHealth(collabSink)

	if d.led.MarkExecuted(ev.Key, time.Now()) {
		suffix := ""
		if late {
			suffix = " (catch-up)"
		}
		log.Printf("[%s] fired %s code=%d %q at %s%s", collabSink, ev.Key, ev.Code, ev.Label,
			timeline.FormatDaySeconds(at), suffix)
		d.notifier.EventFired(ev, at, late)
	}
}

// CurrentTime returns the clock the tick loop compares events against:
// the replay timecode when fresh, the last good reading while inside the
// stale window, and the offset local clock otherwise.
func (d *Dispatcher) CurrentTime(ctx context.Context) float64 {
	step := d.cfg.Dispatcher.QuantStep
	tctx, cancel := context.WithTimeout(ctx, d.cfg.Sources.TimecodeTimeout)
	sec, err := d.timecode.Timecode(tctx)
	cancel()

	now := time.Now()
	d.clockMu.Lock()
	defer d.clockMu.Unlock()

	if err == nil {
		d.health[collabTimecode].recordSuccess()
		d.emitHealth(collabTimecode)
		sec = timeline.Quantize(sec, step)
		d.lastSec = sec
		d.lastSecAt = now
		d.haveSec = true
		d.usingLocal = false
		return sec
	}

	d.health[collabTimecode].recordFailure(err)
	d.emitHealth(collabTimecode)

	if d.haveSec && now.Sub(d.lastSecAt) <= d.cfg.Dispatcher.TimecodeStaleAfter {
		return d.lastSec
	}
	if !d.usingLocal {
		log.Printf("[%s] unavailable, using local clock: %v", collabTimecode, err)
		d.usingLocal = true
	}
	return timeline.LocalDaySeconds(now, d.cfg.OffsetSec(), step)
}

func (d *Dispatcher) emitHealth(name string) {
	status, failures, lastErr, changed := d.health[name].snapshotAndEmit(d.cfg.Dispatcher.HealthWarningThreshold)
	if !changed {
		return
	}
	log.Printf("[%s] health: %s (failures=%d)", name, status, failures)
	d.notifier.CollaboratorHealth(name, status, failures, lastErr)
}

// Snapshot returns the published events alongside their ledger state,
// for the HTTP API and WS snapshot broadcasts.
func (d *Dispatcher) Snapshot() ([]timeline.Event, map[timeline.EventKey]ledger.State) {
	evsPtr := d.events.Load()
	if evsPtr == nil {
		return nil, map[timeline.EventKey]ledger.State{}
	}
	events := *evsPtr
	keys := make([]timeline.EventKey, len(events))
	for i, ev := range events {
		keys[i] = ev.Key
	}
	return events, d.led.Snapshot(keys)
}

// HealthSnapshot reports each collaborator's current status.
func (d *Dispatcher) HealthSnapshot() map[string]CollaboratorState {
	out := make(map[string]CollaboratorState, len(d.health))
	for name, h := range d.health {
		status, failures, lastErr := h.snapshot(d.cfg.Dispatcher.HealthWarningThreshold)
		out[name] = CollaboratorState{Status: status, Failures: failures, LastError: lastErr}
	}
	return out
}
