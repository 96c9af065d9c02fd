// Package sse implements a Server-Sent Events broker for real-time updates.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/starford/spices/internal/harvester"
	"github.com/starford/spices/internal/installer"
	"github.com/starford/spices/internal/models"
)

// Event represents an SSE event to broadcast.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Event types.
const (
	TypeInstalled      = "spice.installed"
	TypeUpgraded       = "spice.upgraded"
	TypeUninstalled    = "spice.uninstalled"
	TypeLocalChanged   = "spice.local_changed"
	TypeCacheRefreshed = "cache.refreshed"
	TypeUpdatesChanged = "updates.changed"
)

// spiceEventReq is a change to the installed set of one type.
type spiceEventReq struct {
	eventType string
	kind      models.PackageType
	data      any
}

var _ harvester.Notifier = (*Broker)(nil)

// Broker manages SSE client connections and broadcasts events.
//
// A single internal event loop (goroutine) owns mutable state (clients and
// the per-type updates.changed throttle). Public methods talk to it through
// channels.
type Broker struct {
	updatesMin time.Duration

	subscribeCh   chan chan []byte
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	spiceEventCh  chan spiceEventReq
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker that emits updates.changed at most once per
// throttle interval and type.
func NewBroker(throttle time.Duration) *Broker {
	if throttle <= 0 {
		throttle = 2 * time.Second
	}

	b := &Broker{
		updatesMin:    throttle,
		subscribeCh:   make(chan chan []byte),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		spiceEventCh:  make(chan spiceEventReq, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]struct{})
	lastUpdates := make(map[models.PackageType]time.Time)

	broadcast := func(event Event) {
		payload, err := json.Marshal(event.Data)
		if err != nil {
			return
		}
		msg := fmt.Sprintf("event: %s\ndata: %s\n\n", event.Type, payload)
		raw := []byte(msg)

		for ch := range clients {
			select {
			case ch <- raw:
			default:
				// Client buffer full; skip to avoid blocking broker loop.
			}
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case ch := <-b.subscribeCh:
			clients[ch] = struct{}{}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case event := <-b.publishCh:
			broadcast(event)

		case req := <-b.spiceEventCh:
			broadcast(Event{Type: req.eventType, Data: req.data})

			now := time.Now()
			if now.Sub(lastUpdates[req.kind]) >= b.updatesMin {
				lastUpdates[req.kind] = now
				broadcast(Event{Type: TypeUpdatesChanged, Data: map[string]string{"type": req.kind.String()}})
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close gracefully stops broker loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a new client and returns its channel.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- ch:
	case <-b.stopped:
		close(ch)
	}

	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an event to all connected clients.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

func (b *Broker) publishSpiceEvent(req spiceEventReq) {
	if b.closed.Load() {
		return
	}
	select {
	case b.spiceEventCh <- req:
	case <-b.stopped:
	}
}

// SpiceChanged announces a completed install, upgrade or uninstall so the
// desktop can reload the spice, followed by a throttled updates.changed.
func (b *Broker) SpiceChanged(res *installer.Result) {
	t := TypeInstalled
	switch res.Action {
	case installer.ActionUpgrade:
		t = TypeUpgraded
	case installer.ActionUninstall:
		t = TypeUninstalled
	}
	b.publishSpiceEvent(spiceEventReq{eventType: t, kind: res.Type, data: res})
}

// LocalChanged announces that the install dirs of kind changed on disk.
func (b *Broker) LocalChanged(kind models.PackageType) {
	b.publishSpiceEvent(spiceEventReq{
		eventType: TypeLocalChanged,
		kind:      kind,
		data:      map[string]string{"type": kind.String()},
	})
}

// CacheRefreshed publishes the summary of a refresh.
func (b *Broker) CacheRefreshed(report *harvester.RefreshReport) {
	b.publishSpiceEvent(spiceEventReq{eventType: TypeCacheRefreshed, kind: report.Type, data: report})
}

// ServeHTTP is the SSE endpoint handler (GET /api/events).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
