package ws

import (
	"github.com/garimto81/ggm-timeline/internal/dispatcher"
	"github.com/garimto81/ggm-timeline/internal/ledger"
	"github.com/garimto81/ggm-timeline/internal/timeline"
)

type MessageType string

const (
	MsgSnapshot MessageType = "snapshot"
	MsgFired    MessageType = "fired"
	MsgFailed   MessageType = "failed"
	MsgHealth   MessageType = "health"
	MsgError    MessageType = "error"
)

type WSMessage struct {
	Type    MessageType `json:"type"`
	Payload interface{} `json:"payload"`
}

// EventView joins an event with its execution state for the wire.
type EventView struct {
	timeline.Event
	State ledger.State `json:"state"`
}

type SnapshotPayload struct {
	Events  []EventView `json:"events"`
	Running bool        `json:"running"`
}

type FiredPayload struct {
	Event   timeline.Event `json:"event"`
	FiredAt float64        `json:"firedAt"`
	Late    bool           `json:"late"`
}

type FailedPayload struct {
	Event    timeline.Event `json:"event"`
	FailedAt float64        `json:"failedAt"`
	Reason   string         `json:"reason"`
}

type HealthPayload struct {
	Name     string                  `json:"name"`
	Status   dispatcher.HealthStatus `json:"status"`
	Failures int                     `json:"failures"`
	LastErr  string                  `json:"lastError,omitempty"`
}

// MakeEventViews pairs events with their states, preserving event order.
func MakeEventViews(events []timeline.Event, states map[timeline.EventKey]ledger.State) []EventView {
	views := make([]EventView, len(events))
	for i, ev := range events {
		views[i] = EventView{Event: ev, State: states[ev.Key]}
	}
	return views
}
