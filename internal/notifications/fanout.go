// Package notifications provides real-time change fan-out and delivery.
package notifications

import (
	"context"
	"sync"
	"sync/atomic"

	"stride/internal/models"
	"stride/internal/observability"
)

// DefaultSubscriberBuffer is the per-subscriber channel capacity.
const DefaultSubscriberBuffer = 256

// FanOut broadcasts relationship-change events to subscribers. Delivery
// guarantees: per-pair causal order (a blocked event for a pair never
// arrives before an earlier added event for the same pair), at-least-once
// when the subscriber keeps up. Under backpressure, queued events for the
// same pair coalesce last-write-wins, so subscribers must treat events
// idempotently. No cross-pair ordering is promised.
type FanOut struct {
	mu   sync.RWMutex
	subs map[string]*subscriber
	seq  atomic.Uint64
}

type subscriber struct {
	id string
	ch chan models.RelationshipEvent

	mu      sync.Mutex
	queued  map[string]int // pair key -> index into order
	order   []models.RelationshipEvent
	closed  bool
	kick    chan struct{}
	stopped chan struct{}
}

// NewFanOut creates an empty fan-out.
func NewFanOut() *FanOut {
	return &FanOut{subs: make(map[string]*subscriber)}
}

// Subscribe registers a consumer and returns its event channel and an
// unsubscribe function. The channel closes on unsubscribe.
func (f *FanOut) Subscribe(id string, buffer int) (<-chan models.RelationshipEvent, func()) {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	sub := &subscriber{
		id:      id,
		ch:      make(chan models.RelationshipEvent, buffer),
		queued:  make(map[string]int),
		kick:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}

	f.mu.Lock()
	if old, ok := f.subs[id]; ok {
		old.stop()
	}
	f.subs[id] = sub
	f.mu.Unlock()

	go sub.dispatch()

	return sub.ch, func() {
		f.mu.Lock()
		if f.subs[id] == sub {
			delete(f.subs, id)
		}
		f.mu.Unlock()
		sub.stop()
	}
}

// Publish stamps the event with a sequence number and hands it to every
// subscriber. Never blocks the caller.
func (f *FanOut) Publish(event models.RelationshipEvent) {
	event.Sequence = f.seq.Add(1)
	observability.EventsPublished.WithLabelValues(string(event.Type)).Inc()

	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, sub := range f.subs {
		sub.enqueue(event)
	}
}

// SubscriberCount returns the number of active subscribers.
func (f *FanOut) SubscriberCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}

// Shutdown stops every subscriber and closes their channels.
func (f *FanOut) Shutdown(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, sub := range f.subs {
		sub.stop()
		delete(f.subs, id)
	}
	return nil
}

// enqueue adds the event to the subscriber's ordered backlog. A backlog
// entry for the same pair is replaced in place (last-write-wins), which
// keeps per-pair order while bounding the backlog at the pair count.
func (s *subscriber) enqueue(event models.RelationshipEvent) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	key := event.PairKey()
	if idx, ok := s.queued[key]; ok {
		s.order[idx] = event
		s.mu.Unlock()
		observability.FanoutCoalesced.WithLabelValues(s.id).Inc()
		return
	}
	s.queued[key] = len(s.order)
	s.order = append(s.order, event)
	s.mu.Unlock()

	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// dispatch moves backlog events into the buffered channel in order. The
// blocking send is outside the lock so Publish never stalls behind a slow
// consumer.
func (s *subscriber) dispatch() {
	for {
		s.mu.Lock()
		if len(s.order) == 0 {
			if s.closed {
				s.mu.Unlock()
				close(s.ch)
				return
			}
			s.mu.Unlock()
			select {
			case <-s.kick:
				continue
			case <-s.stopped:
				continue
			}
		}
		event := s.order[0]
		s.order = s.order[1:]
		delete(s.queued, event.PairKey())
		for key := range s.queued {
			s.queued[key]--
		}
		s.mu.Unlock()

		select {
		case s.ch <- event:
		case <-s.stopped:
			// Drain remaining backlog into the channel best-effort, then
			// let the loop observe closed and finish.
			select {
			case s.ch <- event:
			default:
			}
		}
	}
}

func (s *subscriber) stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	close(s.stopped)
	select {
	case s.kick <- struct{}{}:
	default:
	}
}
