// Package stream fans run execution events out to SSE subscribers.
package stream

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
)

// Event is one server-sent event. RunID lets subscribers follow a
// single run; an empty RunID event is delivered to everyone.
type Event struct {
	Type  string `json:"type"`
	RunID string `json:"run_id,omitempty"`
	Data  any    `json:"data"`
}

type subscriber struct {
	runID string // empty means all runs
	ch    chan Event
}

// Broker routes run events to SSE subscribers. Slow subscribers drop
// events rather than stalling the run.
type Broker struct {
	mu   sync.RWMutex
	subs map[string]*subscriber
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[string]*subscriber)}
}

// Subscribe registers a subscription. A non-empty runID narrows the
// subscription to that run's events.
func (b *Broker) Subscribe(id, runID string) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &subscriber{runID: runID, ch: make(chan Event, 64)}
	b.subs[id] = sub
	return sub.ch
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broker) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		close(sub.ch)
		delete(b.subs, id)
	}
}

// Publish delivers an event to every matching subscriber.
func (b *Broker) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.runID != "" && evt.RunID != "" && sub.runID != evt.RunID {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
		}
	}
}

// SSEHandler streams events to the client. A run_id query parameter
// narrows the stream to a single run.
func (b *Broker) SSEHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		id := uuid.NewString()
		ch := b.Subscribe(id, r.URL.Query().Get("run_id"))
		defer b.Unsubscribe(id)

		for {
			select {
			case evt, ok := <-ch:
				if !ok {
					return
				}
				data, _ := json.Marshal(evt)
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, data)
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	}
}
