// Package eventbus implements a thread-safe, priority-ordered
// publish/subscribe bus with synchronous and queued delivery modes.
//
// # Copy-under-lock
//
// Every dispatch path follows the same rule: take the subscriber-map lock
// just long enough to snapshot the handlers for a channel, release it, then
// invoke callbacks outside the lock. A callback is free to call Subscribe,
// Unsubscribe, or Publish again without deadlocking the bus; a re-entrant
// Subscribe only affects subsequent dispatches, never the one in flight,
// because the in-flight dispatch is already working off its own snapshot.
//
// # Delivery modes
//
// Publish dispatches synchronously on the caller's goroutine, in (priority
// descending, insertion order) sequence, and returns every handler error it
// collected. PublishAsync fires each handler on its own goroutine for
// callers that don't want to block.
// Enqueue/ProcessQueue defer dispatch: events accumulate in one FIFO queue
// shared across all channels, and ProcessQueue drains it in submission
// order (channel is not part of the ordering key).
package eventbus

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Handler receives an Event. A returned error is reported to Publish's
// caller (or to the bus's error sink for PublishAsync/ProcessQueue) but
// never aborts delivery to the remaining handlers.
type Handler func(Event) error

// Event is a single published message. Payload carries a tagged value:
// Event exposes the concrete type that was published so consumers can
// recover it without an unsafe cast.
type Event struct {
	Channel   string
	Payload   any
	Timestamp int64 // unix nanos; set by Publish/Enqueue
}

// As attempts to recover a typed payload, returning ErrBadPayloadType if the
// stored value is not a T.
func As[T any](e Event) (T, error) {
	v, ok := e.Payload.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: event on %q carries %T", ErrBadPayloadType, e.Channel, e.Payload)
	}
	return v, nil
}

// SubscriptionHandle identifies a single subscription. Handles are
// allocated monotonically and never reused within a Bus's lifetime.
type SubscriptionHandle uint64

type subscription struct {
	handle   SubscriptionHandle
	channel  string
	priority int32
	seq      uint64 // insertion order, for stable priority ties
	handler  Handler
}

// Bus is a priority-ordered, channel-keyed publish/subscribe hub.
type Bus struct {
	mu      sync.RWMutex
	subs    map[string][]*subscription
	byHdl   map[SubscriptionHandle]string // handle -> channel, for O(1) unsubscribe
	nextHdl atomic.Uint64
	nextSeq atomic.Uint64

	queueMu sync.Mutex
	queue   []Event

	errSink func(channel string, err error)
	log     zerolog.Logger
}

// New constructs an empty Bus. log may be the zero value.
func New(log zerolog.Logger) *Bus {
	return &Bus{
		subs:  make(map[string][]*subscription),
		byHdl: make(map[SubscriptionHandle]string),
		log:   log.With().Str("component", "eventbus").Logger(),
	}
}

// SetErrorSink installs a callback invoked whenever a handler returns an
// error or panics during PublishAsync or ProcessQueue. The default sink
// drops the error (logged at debug level only).
func (b *Bus) SetErrorSink(sink func(channel string, err error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errSink = sink
}

// Subscribe registers handler on channel at priority (higher runs first;
// equal priorities preserve insertion order).
func (b *Bus) Subscribe(channel string, priority int32, handler Handler) SubscriptionHandle {
	h := SubscriptionHandle(b.nextHdl.Add(1))
	sub := &subscription{
		handle:   h,
		channel:  channel,
		priority: priority,
		seq:      b.nextSeq.Add(1),
		handler:  handler,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[channel] = insertSorted(b.subs[channel], sub)
	b.byHdl[h] = channel
	return h
}

// Unsubscribe removes a subscription. Idempotent: unknown handles are
// silently ignored.
func (b *Bus) Unsubscribe(handle SubscriptionHandle) {
	b.mu.Lock()
	defer b.mu.Unlock()

	channel, ok := b.byHdl[handle]
	if !ok {
		return
	}
	delete(b.byHdl, handle)

	subs := b.subs[channel]
	for i, s := range subs {
		if s.handle == handle {
			b.subs[channel] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[channel]) == 0 {
		delete(b.subs, channel)
	}
}

// insertSorted keeps subs ordered by (priority desc, seq asc), the ordering
// Publish relies on at dispatch time, so Subscribe pays the sort cost once
// instead of every publish.
func insertSorted(subs []*subscription, sub *subscription) []*subscription {
	idx := len(subs)
	for i, s := range subs {
		if sub.priority > s.priority {
			idx = i
			break
		}
	}
	subs = append(subs, nil)
	copy(subs[idx+1:], subs[idx:])
	subs[idx] = sub
	return subs
}

func (b *Bus) snapshot(channel string) []*subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()
	subs := b.subs[channel]
	out := make([]*subscription, len(subs))
	copy(out, subs)
	return out
}

// Publish dispatches synchronously to every handler currently subscribed to
// channel, in priority order, and returns the aggregated handler errors (nil
// if every handler succeeded). A handler panic is recovered and reported as
// an error for that handler only; it does not stop delivery to the rest.
func (b *Bus) Publish(event Event) []error {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixNano()
	}
	subs := b.snapshot(event.Channel)
	var errs []error
	for _, s := range subs {
		if err := invoke(s.handler, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// PublishAsync fires each handler on its own goroutine and never blocks
// the caller; handler errors and panics go to the error sink.
func (b *Bus) PublishAsync(event Event) {
	subs := b.snapshot(event.Channel)
	for _, s := range subs {
		s := s
		go func() {
			if err := invoke(s.handler, event); err != nil {
				b.reportAsync(event.Channel, err)
			}
		}()
	}
}

func (b *Bus) reportAsync(channel string, err error) {
	b.mu.RLock()
	sink := b.errSink
	b.mu.RUnlock()
	if sink != nil {
		sink(channel, err)
	} else {
		b.log.Debug().Str("channel", channel).Err(err).Msg("async handler error dropped")
	}
}

func invoke(h Handler, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("eventbus: handler panic on %q: %v", event.Channel, r)
		}
	}()
	return h(event)
}

// Enqueue defers event for delivery on the next ProcessQueue call. Events
// across all channels share one FIFO queue; channel is not part of the
// ordering key.
func (b *Bus) Enqueue(event Event) {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixNano()
	}
	b.queueMu.Lock()
	defer b.queueMu.Unlock()
	b.queue = append(b.queue, event)
}

// ProcessQueue drains the queue in FIFO submission order, dispatching each
// event exactly as Publish would (priority order within that event's own
// handler list). Handler errors go to the error sink since there is no
// synchronous caller to return them to.
func (b *Bus) ProcessQueue() {
	b.queueMu.Lock()
	pending := b.queue
	b.queue = nil
	b.queueMu.Unlock()

	for _, event := range pending {
		for _, err := range b.Publish(event) {
			b.reportAsync(event.Channel, err)
		}
	}
}

// QueueLen reports the number of events awaiting ProcessQueue.
func (b *Bus) QueueLen() int {
	b.queueMu.Lock()
	defer b.queueMu.Unlock()
	return len(b.queue)
}
