// Package ws streams the event feed to live observers. The hub fans
// every published event out to subscriber buffers; a subscriber that
// cannot keep up loses events rather than slowing the tick loop.
package ws

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"vivarium/internal/domain/event"
)

// subscriberBuffer is how many marshalled events a slow client may lag
// before the hub starts dropping for it.
const subscriberBuffer = 256

type subscriber struct {
	id  uint64
	out chan []byte
}

type Hub struct {
	log    *zap.Logger
	mu     sync.RWMutex
	subs   map[uint64]*subscriber
	closed bool

	nextID  atomic.Uint64
	dropped atomic.Uint64
}

func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		log:  log,
		subs: make(map[uint64]*subscriber),
	}
}

// Publish marshals once and fans out without blocking. Implements the
// event publisher port; called from the tick loop, so it must return
// immediately no matter how slow the subscribers are.
func (h *Hub) Publish(evt event.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed || len(h.subs) == 0 {
		return
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		h.log.Warn("event not streamable", zap.String("type", evt.Type), zap.Error(err))
		return
	}

	for _, sub := range h.subs {
		select {
		case sub.out <- payload:
		default:
			h.dropped.Add(1)
		}
	}
}

func (h *Hub) subscribe() *subscriber {
	sub := &subscriber{
		id:  h.nextID.Add(1),
		out: make(chan []byte, subscriberBuffer),
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(sub.out)
		return sub
	}
	h.subs[sub.id] = sub
	return sub
}

func (h *Hub) unsubscribe(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub.id]; !ok {
		return
	}
	delete(h.subs, sub.id)
	close(sub.out)
}

// Close disconnects every subscriber. Publish becomes a no-op.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		delete(h.subs, id)
		close(sub.out)
	}
}

func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped reports how many events were discarded for lagging
// subscribers since start.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}
