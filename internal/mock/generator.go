// Package mock provides scripted stand-ins for the external collaborators
// so the server can run a full demo loop without a sheet gateway, a vMix
// instance, or a Companion panel.
package mock

import (
	"context"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/garimto81/ggm-timeline/internal/timeline"
)

// scriptedHand describes one synthetic block. Offsets are seconds from
// generator start; the generator turns them into wall-clock timestamps so
// the demo fires in real time.
type scriptedHand struct {
	blockID     string
	commandType string
	seats       []string // heads-up actor order, or multiway selectors
	startOffset float64
	gap         float64 // seconds between actions
	deleteAfter float64 // seconds after which the block is flagged deleted (0 = never)
}

var demoScript = []scriptedHand{
	{blockID: "101", commandType: "HeadsUpHand", seats: []string{"3", "7", "7", "3"}, startOffset: 10, gap: 4},
	{blockID: "102", commandType: "MultiwayOverlay", seats: []string{"-1", "2", "5", "99"}, startOffset: 40, gap: 5},
	{blockID: "103", commandType: "BlindsUp", seats: []string{""}, startOffset: 70, gap: 0},
	// Re-fires once: flagged deleted two minutes in, then served again clean.
	{blockID: "104", commandType: "HeadsUpHand", seats: []string{"1", "8"}, startOffset: 90, gap: 6, deleteAfter: 120},
	{blockID: "105", commandType: "BreakSkip", seats: []string{""}, startOffset: 130, gap: 0},
}

// RowGenerator serves the demo script as hand-history rows. Each fetch
// returns every block whose start has come within the lookahead window,
// so the timeline grows the way a live sheet does.
type RowGenerator struct {
	mu      sync.Mutex
	start   time.Time
	script  []scriptedHand
	rearmed map[string]bool
}

func NewRowGenerator() *RowGenerator {
	return &RowGenerator{
		start:   time.Now(),
		script:  demoScript,
		rearmed: make(map[string]bool),
	}
}

const lookahead = 20 * time.Second

func (g *RowGenerator) FetchRows(context.Context) ([]map[string]any, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	elapsed := time.Since(g.start).Seconds()
	horizon := elapsed + lookahead.Seconds()

	var rows []map[string]any
	for _, hand := range g.script {
		if hand.startOffset > horizon {
			continue
		}
		deleted := hand.deleteAfter > 0 && elapsed >= hand.deleteAfter && !g.rearmed[hand.blockID]
		if deleted && elapsed >= hand.deleteAfter+30 {
			// Past the deletion window: serve the block clean again so the
			// rearmed events fire a second time.
			g.rearmed[hand.blockID] = true
			deleted = false
		}
		rows = append(rows, g.handRows(hand, deleted)...)
	}
	return rows, nil
}

func (g *RowGenerator) handRows(hand scriptedHand, deleted bool) []map[string]any {
	rows := make([]map[string]any, 0, len(hand.seats))
	for i, seat := range hand.seats {
		at := g.start.Add(time.Duration((hand.startOffset + float64(i)*hand.gap) * float64(time.Second)))
		row := map[string]any{
			"Hand":   hand.blockID,
			"Time1":  at.Format("2006-01-02 15:04:05.9"),
			"Seat":   seat,
			"Action": "bet " + seat,
		}
		// Only the first row names the command type; the rest inherit.
		if i == 0 {
			row["CommandType"] = hand.commandType
		}
		if i == len(hand.seats)-1 && hand.gap > 0 {
			end := at.Add(time.Duration(hand.gap * float64(time.Second)))
			row["Time2"] = end.Format("2006-01-02 15:04:05.9")
		}
		if deleted {
			row["Delete"] = true
		}
		rows = append(rows, row)
	}
	return rows
}

// Clock is a timecode source backed by the local wall clock, jittered
// slightly so the quantizer has something to do.
type Clock struct {
	offsetSec int
}

func NewClock(offsetSec int) *Clock {
	return &Clock{offsetSec: offsetSec}
}

func (c *Clock) Timecode(context.Context) (float64, error) {
	sec := timeline.LocalDaySeconds(time.Now(), c.offsetSec, 0)
	return sec + rand.Float64()*0.05, nil
}

// Sink logs command presses instead of contacting a panel.
type Sink struct{}

func (Sink) Send(_ context.Context, code int, ev timeline.Event) error {
	log.Printf("[mock-sink] code=%d %s %q", code, ev.Key, ev.Label)
	return nil
}
