package ws

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/garimto81/ggm-timeline/internal/dispatcher"
	"github.com/garimto81/ggm-timeline/internal/ledger"
	"github.com/garimto81/ggm-timeline/internal/timeline"
	"github.com/gorilla/websocket"
)

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func newClient(conn *websocket.Conn) *client {
	c := &client{
		conn: conn,
		send: make(chan []byte, 64),
	}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *client) close() {
	close(c.send)
}

// SnapshotSource provides the data for snapshot frames. Satisfied by the
// dispatcher.
type SnapshotSource interface {
	Snapshot() ([]timeline.Event, map[timeline.EventKey]ledger.State)
	Running() bool
}

// Broadcaster fans dispatcher notifications out to connected websocket
// clients. Timeline republishes are throttled so a burst of refreshes
// collapses into one snapshot frame; fired/failed/health frames go out
// immediately.
type Broadcaster struct {
	mu             sync.RWMutex
	clients        map[*client]bool
	source         SnapshotSource
	throttle       time.Duration
	snapshotTicker *time.Ticker
	flushTimer     *time.Timer
	flushMu        sync.Mutex
}

func NewBroadcaster(source SnapshotSource, throttle, snapshotInterval time.Duration) *Broadcaster {
	b := &Broadcaster{
		clients:  make(map[*client]bool),
		source:   source,
		throttle: throttle,
	}

	b.snapshotTicker = time.NewTicker(snapshotInterval)
	go b.snapshotLoop()

	return b
}

func (b *Broadcaster) AddClient(conn *websocket.Conn) *client {
	c := newClient(conn)

	b.mu.Lock()
	b.clients[c] = true
	b.mu.Unlock()

	data, _ := json.Marshal(b.snapshotMessage())

	select {
	case c.send <- data:
	default:
		// Client too slow, drop the snapshot
	}

	return c
}

func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		c.close()
	}
	b.mu.Unlock()
}

// TimelinePublished schedules a throttled snapshot frame. The payload is
// rebuilt from the source at flush time, so the frame always reflects the
// latest publish.
func (b *Broadcaster) TimelinePublished([]timeline.Event, map[timeline.EventKey]ledger.State, []timeline.Warning) {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	if b.flushTimer == nil {
		b.flushTimer = time.AfterFunc(b.throttle, b.flush)
	}
}

func (b *Broadcaster) EventFired(ev timeline.Event, at float64, late bool) {
	b.broadcast(WSMessage{
		Type:    MsgFired,
		Payload: FiredPayload{Event: ev, FiredAt: at, Late: late},
	})
}

func (b *Broadcaster) EventFailed(ev timeline.Event, at float64, reason string) {
	b.broadcast(WSMessage{
		Type:    MsgFailed,
		Payload: FailedPayload{Event: ev, FailedAt: at, Reason: reason},
	})
}

func (b *Broadcaster) CollaboratorHealth(name string, status dispatcher.HealthStatus, failures int, lastErr string) {
	b.broadcast(WSMessage{
		Type:    MsgHealth,
		Payload: HealthPayload{Name: name, Status: status, Failures: failures, LastErr: lastErr},
	})
}

func (b *Broadcaster) flush() {
	b.flushMu.Lock()
	b.flushTimer = nil
	b.flushMu.Unlock()

	b.broadcast(b.snapshotMessage())
}

func (b *Broadcaster) snapshotLoop() {
	for range b.snapshotTicker.C {
		b.broadcast(b.snapshotMessage())
	}
}

func (b *Broadcaster) snapshotMessage() WSMessage {
	events, states := b.source.Snapshot()
	return WSMessage{
		Type: MsgSnapshot,
		Payload: SnapshotPayload{
			Events:  MakeEventViews(events, states),
			Running: b.source.Running(),
		},
	}
}

func (b *Broadcaster) broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("broadcast marshal error: %v", err)
		return
	}

	b.mu.RLock()
	clients := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- data:
		default:
			// Client can't keep up, disconnect it
			log.Printf("ws client too slow, disconnecting")
			b.RemoveClient(c)
		}
	}
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}
