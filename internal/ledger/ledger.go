// Package ledger tracks per-event execution state for the dispatcher:
// whether an event is enabled, has fired, or has failed. State records are
// never deleted; deleting a source block re-arms its records instead, so a
// block that is deleted and later restored can fire again.
package ledger

import (
	"sync"
	"time"

	"github.com/garimto81/ggm-timeline/internal/timeline"
)

// State is one event's execution record.
type State struct {
	Enabled  bool      `json:"enabled"`
	Executed bool      `json:"executed"`
	Failed   bool      `json:"failed"`
	FiredAt  time.Time `json:"firedAt,omitzero"`
}

type Ledger struct {
	mu     sync.Mutex
	states map[timeline.EventKey]*State
}

func New() *Ledger {
	return &Ledger{states: make(map[timeline.EventKey]*State)}
}

// GetOrCreate returns the state for key, creating an enabled, unexecuted
// record on first sight. The returned value is a copy.
func (l *Ledger) GetOrCreate(key timeline.EventKey) State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return *l.getLocked(key)
}

func (l *Ledger) getLocked(key timeline.EventKey) *State {
	st, ok := l.states[key]
	if !ok {
		st = &State{Enabled: true}
		l.states[key] = st
	}
	return st
}

// MarkExecuted records a successful fire at the given instant. Returns
// false without modifying anything if the event already executed; this is
// the at-most-once guarantee between rearms.
func (l *Ledger) MarkExecuted(key timeline.EventKey, at time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.getLocked(key)
	if st.Executed {
		return false
	}
	st.Executed = true
	st.Failed = false
	st.FiredAt = at
	return true
}

// MarkFailed flags an event as failed. A failed event is still retried by
// the dispatcher's catch-up path while its window is open.
func (l *Ledger) MarkFailed(key timeline.EventKey) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.getLocked(key).Failed = true
}

// SetEnabled toggles whether the dispatcher may fire an event at all.
func (l *Ledger) SetEnabled(key timeline.EventKey, enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.getLocked(key).Enabled = enabled
}

// Rearm clears executed/failed for every record whose block key is in
// blocks. Rearming blocks with no records is a no-op. Returns the number
// of records reset.
func (l *Ledger) Rearm(blocks map[timeline.BlockKey]bool) int {
	if len(blocks) == 0 {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for key, st := range l.states {
		if !blocks[key.Block()] {
			continue
		}
		if st.Executed || st.Failed {
			n++
		}
		st.Executed = false
		st.Failed = false
		st.FiredAt = time.Time{}
	}
	return n
}

// Snapshot copies the states for the given keys, creating records for
// unseen keys. Used to pair a published event set with its current state.
func (l *Ledger) Snapshot(keys []timeline.EventKey) map[timeline.EventKey]State {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[timeline.EventKey]State, len(keys))
	for _, k := range keys {
		out[k] = *l.getLocked(k)
	}
	return out
}
