package store

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	EntityMeal   = "meal"
	EntityWeight = "weight"

	OpInsert = "insert"
	OpUpdate = "update"
	OpDelete = "delete"
)

// ChangeEvent is broadcast after every successful ledger write.
type ChangeEvent struct {
	Entity string    `json:"entity"`
	Op     string    `json:"op"`
	ID     int64     `json:"id"`
	At     time.Time `json:"at"`
}

type subscriber struct {
	ch       chan ChangeEvent
	entities map[string]struct{}
}

func (s *subscriber) wants(entity string) bool {
	if len(s.entities) == 0 {
		return true
	}
	_, ok := s.entities[entity]
	return ok
}

// Notifier fans change events out to subscribers. Publish never blocks: a
// subscriber whose buffer is full misses the event, which is counted.
type Notifier struct {
	mu      sync.RWMutex
	subs    map[uint64]*subscriber
	nextID  uint64
	closed  bool
	dropped atomic.Uint64
}

func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[uint64]*subscriber)}
}

// Subscribe registers a listener for the given entities (all when none are
// given). The returned func unsubscribes and closes the channel; it is safe
// to call more than once.
func (n *Notifier) Subscribe(buffer int, entities ...string) (<-chan ChangeEvent, func()) {
	if buffer < 1 {
		buffer = 1
	}
	sub := &subscriber{ch: make(chan ChangeEvent, buffer)}
	if len(entities) > 0 {
		sub.entities = make(map[string]struct{}, len(entities))
		for _, e := range entities {
			sub.entities[e] = struct{}{}
		}
	}

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	id := n.nextID
	n.nextID++
	n.subs[id] = sub
	n.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			if s, ok := n.subs[id]; ok {
				delete(n.subs, id)
				close(s.ch)
			}
		})
	}
}

func (n *Notifier) Publish(ev ChangeEvent) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return
	}
	for _, sub := range n.subs {
		if !sub.wants(ev.Entity) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			n.dropped.Add(1)
		}
	}
}

// Dropped returns how many deliveries were skipped because a buffer was full.
func (n *Notifier) Dropped() uint64 {
	return n.dropped.Load()
}

// Close ends every subscription. Later publishes are ignored.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	for id, sub := range n.subs {
		delete(n.subs, id)
		close(sub.ch)
	}
}
