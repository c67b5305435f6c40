package engine

import (
	"sync"

	"github.com/finworks/reportd/internal/model"
)

// eventBufferSize is the channel buffer for each event subscriber.
// Events are dropped if a subscriber falls this far behind.
const eventBufferSize = 256

// Broker fans job lifecycle events out to subscribers. The engine publishes a
// snapshot after every status transition; the audit archive and tests
// subscribe. It is safe for concurrent use.
//
// Once closed, late subscribers receive an already-closed channel instead of
// blocking forever.
type Broker struct {
	mu     sync.Mutex
	subs   map[int]chan *model.Job
	nextID int
	closed bool
}

// NewBroker creates a new event broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[int]chan *model.Job)}
}

// Subscribe returns a channel of job snapshots and an unsubscribe function.
// Snapshots are owned by the broker's publishers; subscribers must not modify
// them. If the broker is already closed, the returned channel is closed.
func (b *Broker) Subscribe() (<-chan *model.Job, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan *model.Job, eventBufferSize)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

// Publish delivers a job snapshot to all subscribers. Snapshots are dropped
// for subscribers whose buffers are full so a slow consumer never blocks the
// worker pool.
func (b *Broker) Publish(job *model.Job) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- job:
		default:
		}
	}
}

// Close closes all subscriber channels. Publish becomes a no-op and future
// Subscribe calls return a closed channel.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}
