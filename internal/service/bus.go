package service

import "sync"

// Event represents a resource mutation.
type Event struct {
	Resource string // e.g. "farms"
	Action   string // "created", "updated", "deleted"
	ID       string // resource ID
}

// FieldEvent reports that a geo field of a farm changed.
type FieldEvent struct {
	FarmID string
	Field  string
	Value  string
}

// Bus is a simple fan-out pub/sub.
type Bus[T any] struct {
	mu        sync.RWMutex
	subs      map[chan T]struct{}
	listeners map[int]func(T)
	next      int
}

// NewBus creates a new bus.
func NewBus[T any]() *Bus[T] {
	return &Bus[T]{subs: make(map[chan T]struct{}), listeners: make(map[int]func(T))}
}

// Publish sends an event to all subscribers (non-blocking). Channel
// subscribers that fall behind miss events; listeners see every one.
func (b *Bus[T]) Publish(e T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// subscriber too slow, skip
		}
	}
	for _, fn := range b.listeners {
		fn(e)
	}
}

// Subscribe returns a buffered channel that receives events.
func (b *Bus[T]) Subscribe() chan T {
	ch := make(chan T, 16)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus[T]) Unsubscribe(ch chan T) {
	b.mu.Lock()
	_, ok := b.subs[ch]
	delete(b.subs, ch)
	b.mu.Unlock()
	if ok {
		close(ch)
	}
}

// Listen calls fn for every published event until stop is called. fn runs
// on the publisher's goroutine and must not block.
func (b *Bus[T]) Listen(fn func(T)) (stop func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.listeners[id] = fn
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.listeners, id)
		b.mu.Unlock()
	}
}

type fieldKey struct{ farmID, field string }

// FieldFeed collects field events for a consumer that may fall behind. Only
// the latest value of each farm field is kept, so a slow consumer skips
// intermediate values but always ends on the stored one.
type FieldFeed struct {
	mu     sync.Mutex
	order  []fieldKey
	latest map[fieldKey]FieldEvent
	ready  chan struct{}
	stop   func()
}

// WatchFields starts a FieldFeed on s.Fields. Close it when done.
func (s *FarmService) WatchFields() *FieldFeed {
	f := &FieldFeed{
		latest: make(map[fieldKey]FieldEvent),
		ready:  make(chan struct{}, 1),
	}
	f.stop = s.Fields.Listen(f.put)
	return f
}

func (f *FieldFeed) put(e FieldEvent) {
	k := fieldKey{e.FarmID, e.Field}
	f.mu.Lock()
	if _, ok := f.latest[k]; !ok {
		f.order = append(f.order, k)
	}
	f.latest[k] = e
	f.mu.Unlock()
	select {
	case f.ready <- struct{}{}:
	default:
	}
}

// Ready receives after new events arrive.
func (f *FieldFeed) Ready() <-chan struct{} { return f.ready }

// Take returns the pending events, one per farm field in first-arrival
// order, each carrying the latest value.
func (f *FieldFeed) Take() []FieldEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]FieldEvent, 0, len(f.order))
	for _, k := range f.order {
		out = append(out, f.latest[k])
	}
	f.order = f.order[:0]
	clear(f.latest)
	return out
}

// Close stops collecting events.
func (f *FieldFeed) Close() { f.stop() }
