package events

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/miradorstack/mirador-autoops/internal/metrics"
	"github.com/miradorstack/mirador-autoops/internal/utils"
)

// DefaultBuffer is the per-subscriber backlog past which overflow is reported.
const DefaultBuffer = 256

// Handler consumes events for one subscriber.
type Handler func(Event)

// Publisher is the emitting side of the bus.
type Publisher interface {
	Publish(Event)
}

// Bus fans events out to subscribers. Each subscriber drains its own backlog on its own
// goroutine, so a slow subscriber never delays publishers or other subscribers. Events
// are never dropped; a backlog longer than the buffer is counted and logged.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*subscription
	nextID int
	buffer int
	closed bool
	wg     sync.WaitGroup
	logger *slog.Logger
}

type subscription struct {
	name    string
	types   []Type
	handler Handler
	buffer  int
	wake    chan struct{}

	mu      sync.Mutex
	pending []Event
	closed  bool
}

// push appends event to the backlog. It reports the backlog length, or 0 once closed.
func (s *subscription) push(event Event) int {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0
	}
	s.pending = append(s.pending, event)
	n := len(s.pending)
	s.mu.Unlock()
	s.signal()
	return n
}

func (s *subscription) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.signal()
}

func (s *subscription) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// next blocks until events are queued and takes all of them. It returns false once the
// subscription is closed and fully drained.
func (s *subscription) next() ([]Event, bool) {
	for {
		s.mu.Lock()
		if len(s.pending) > 0 {
			batch := s.pending
			s.pending = nil
			s.mu.Unlock()
			return batch, true
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return nil, false
		}
		<-s.wake
	}
}

// NewBus creates a bus with the given per-subscriber overflow threshold.
func NewBus(buffer int, logger *slog.Logger) *Bus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Bus{
		subs:   make(map[int]*subscription),
		buffer: buffer,
		logger: utils.LoggerOrDefault(logger),
	}
}

// Subscribe registers handler for the given types (all types when none given). The
// returned func unsubscribes and waits for queued events to drain.
func (b *Bus) Subscribe(name string, handler Handler, types ...Type) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}

	id := b.nextID
	b.nextID++
	sub := &subscription{
		name:    name,
		types:   types,
		handler: handler,
		buffer:  b.buffer,
		wake:    make(chan struct{}, 1),
	}
	b.subs[id] = sub

	done := make(chan struct{})
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer close(done)
		b.drain(sub)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				sub.close()
			}
			b.mu.Unlock()
			<-done
		})
	}
}

// Publish queues event for every interested subscriber without blocking.
func (b *Bus) Publish(event Event) {
	if event == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs {
		if len(sub.types) > 0 && !slices.Contains(sub.types, event.Type()) {
			continue
		}
		n := sub.push(event)
		if n <= sub.buffer {
			continue
		}
		metrics.IncEventsOverflow(sub.name)
		if n == sub.buffer+1 {
			b.logger.Warn("subscriber backlog over buffer",
				slog.String("subscriber", sub.name),
				slog.String("type", string(event.Type())),
				slog.Int("buffer", sub.buffer),
			)
		}
	}
}

// Close stops accepting events and waits for subscribers to drain.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		sub.close()
		delete(b.subs, id)
	}
	b.mu.Unlock()
	b.wg.Wait()
}

func (b *Bus) drain(sub *subscription) {
	for {
		batch, ok := sub.next()
		if !ok {
			return
		}
		for _, event := range batch {
			b.dispatch(sub, event)
		}
	}
}

func (b *Bus) dispatch(sub *subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				slog.String("subscriber", sub.name),
				slog.String("type", string(event.Type())),
				slog.Any("panic", r),
			)
		}
	}()
	sub.handler(event)
}

// Discard is a Publisher that drops everything.
type Discard struct{}

// Publish drops the event.
func (Discard) Publish(Event) {}

// PublisherOrDiscard returns p, or Discard when p is nil.
func PublisherOrDiscard(p Publisher) Publisher {
	if p == nil {
		return Discard{}
	}
	return p
}
