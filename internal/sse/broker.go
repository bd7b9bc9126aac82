// Package sse streams page lifecycle events to browsers as Server-Sent Events.
package sse

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"
)

// Event types.
const (
	TypePageCreated  = "page.created"
	TypePageUpdated  = "page.updated"
	TypePageArchived = "page.archived"
	TypePageDeleted  = "page.deleted"
	TypeTagsUpdated  = "tags.updated"
)

var pageEventTypes = map[string]string{
	"created":  TypePageCreated,
	"updated":  TypePageUpdated,
	"archived": TypePageArchived,
	"deleted":  TypePageDeleted,
}

// Event is one SSE message.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type pageEvent struct {
	kind string
	slug string
}

// Broker fans events out to connected clients.
//
// A single goroutine owns the client set and the tags.updated throttle;
// public methods talk to it over channels.
type Broker struct {
	tagsMin   time.Duration
	heartbeat time.Duration

	subscribeCh   chan chan []byte
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	pageCh        chan pageEvent
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker starts a broker. Every page event is followed by a tags.updated
// event at most once per tagsThrottle. Idle streams get a comment line every
// heartbeat; zero disables it.
func NewBroker(tagsThrottle, heartbeat time.Duration) *Broker {
	if tagsThrottle <= 0 {
		tagsThrottle = 2 * time.Second
	}
	b := &Broker{
		tagsMin:       tagsThrottle,
		heartbeat:     heartbeat,
		subscribeCh:   make(chan chan []byte),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		pageCh:        make(chan pageEvent, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	go b.run()
	return b
}

func encode(event Event) ([]byte, error) {
	payload, err := json.Marshal(event.Data)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event.Type, payload)), nil
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]struct{})
	var lastTags time.Time

	broadcast := func(event Event) {
		raw, err := encode(event)
		if err != nil {
			slog.Warn("sse: encode event", slog.String("type", event.Type), slog.Any("err", err))
			return
		}
		for ch := range clients {
			select {
			case ch <- raw:
			default:
				// slow client; drop
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

		case ev := <-b.pageCh:
			typ, ok := pageEventTypes[ev.kind]
			if !ok {
				continue
			}
			broadcast(Event{Type: typ, Data: map[string]string{"slug": ev.slug}})

			now := time.Now()
			if now.Sub(lastTags) >= b.tagsMin {
				lastTags = now
				broadcast(Event{Type: TypeTagsUpdated, Data: map[string]string{}})
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close stops the loop and closes every client channel.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a client and returns its channel.
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

// PublishPageEvent broadcasts page.<kind> for slug and a throttled
// tags.updated. Unknown kinds are ignored.
func (b *Broker) PublishPageEvent(kind, slug string) {
	if b.closed.Load() {
		return
	}
	select {
	case b.pageCh <- pageEvent{kind: kind, slug: slug}:
	case <-b.stopped:
	}
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
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	var beat <-chan time.Time
	if b.heartbeat > 0 {
		t := time.NewTicker(b.heartbeat)
		defer t.Stop()
		beat = t.C
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-beat:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
