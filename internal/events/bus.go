package events

import "sync"

// Handler is a function that handles events.
type Handler func(Event)

// Bus is a goroutine-safe event bus. Publishing never blocks: events are
// queued on a buffered channel and dispatched by a single goroutine, so
// handlers never run on the publisher's goroutine.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
	ch       chan Event
	done     chan struct{}
	once     sync.Once
}

// NewBus creates a new event bus and starts its dispatch goroutine.
func NewBus() *Bus {
	b := &Bus{
		ch:   make(chan Event, 64),
		done: make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *Bus) run() {
	for {
		select {
		case event := <-b.ch:
			b.dispatch(event)
		case <-b.done:
			return
		}
	}
}

func (b *Bus) dispatch(event Event) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, h := range handlers {
		if h != nil {
			h(event)
		}
	}
}

// Subscribe registers a handler. The returned function unsubscribes it.
func (b *Bus) Subscribe(h Handler) func() {
	b.mu.Lock()
	b.handlers = append(b.handlers, h)
	idx := len(b.handlers) - 1
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		// Nil out rather than remove so other indices stay valid.
		if idx < len(b.handlers) {
			b.handlers[idx] = nil
		}
	}
}

// Publish queues an event for dispatch. If the queue is full the event is
// dropped rather than blocking the publisher.
func (b *Bus) Publish(event Event) {
	select {
	case b.ch <- event:
	default:
	}
}

// Close stops the dispatch goroutine. Idempotent.
func (b *Bus) Close() {
	b.once.Do(func() { close(b.done) })
}
