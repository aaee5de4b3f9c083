package dispatcher

import (
	"context"

	"github.com/garimto81/ggm-timeline/internal/ledger"
	"github.com/garimto81/ggm-timeline/internal/timeline"
)

// RowSource fetches the current row batch from the sheet-transform
// service. Rows are raw field-mappings; the ingestor normalizes them.
type RowSource interface {
	FetchRows(ctx context.Context) ([]map[string]any, error)
}

// TimecodeSource reports the replay device's current playback position as
// seconds-of-day. Implementations must respect ctx deadlines; the
// dispatcher falls back to its local clock when a reading is unavailable.
type TimecodeSource interface {
	Timecode(ctx context.Context) (float64, error)
}

// CommandSink delivers one fired command to the control surface.
// Errors are non-fatal: the dispatcher logs, marks the event failed, and
// lets the catch-up path retry while the window is open.
type CommandSink interface {
	Send(ctx context.Context, code int, ev timeline.Event) error
}

// Notifier receives dispatcher lifecycle events for observability.
// Implementations must not block; the WS broadcaster queues internally.
type Notifier interface {
	TimelinePublished(events []timeline.Event, states map[timeline.EventKey]ledger.State, warnings []timeline.Warning)
	EventFired(ev timeline.Event, at float64, late bool)
	EventFailed(ev timeline.Event, at float64, reason string)
	CollaboratorHealth(name string, status HealthStatus, failures int, lastErr string)
}

// NopNotifier discards all notifications. Useful in tests and headless runs.
type NopNotifier struct{}

func (NopNotifier) TimelinePublished([]timeline.Event, map[timeline.EventKey]ledger.State, []timeline.Warning) {
}
func (NopNotifier) EventFired(timeline.Event, float64, bool)             {}
func (NopNotifier) EventFailed(timeline.Event, float64, string)          {}
func (NopNotifier) CollaboratorHealth(string, HealthStatus, int, string) {}
