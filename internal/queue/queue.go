package queue

import (
	"container/heap"
	"errors"
	"fmt"
	"sync"
)

// ErrFull is returned by Enqueue when the queue is at capacity. Submitters
// must be able to distinguish this from any other failure, so it is a
// sentinel rather than a wrapped error.
var ErrFull = errors.New("queue at capacity")

// ErrClosed is returned once Close has been called. Blocked Dequeue calls
// are woken and receive it.
var ErrClosed = errors.New("queue closed")

// item is one queue slot. seq is assigned at enqueue time and strictly
// increases, giving FIFO order among items of equal priority. index is the
// position in the heap, maintained by the heap interface methods.
type item struct {
	id       string
	priority int
	seq      uint64
	index    int
}

// Queue is a bounded min-priority queue of job ids. It is safe for
// concurrent use. Capacity is fixed at construction.
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  itemHeap
	byID   map[string]*item
	cap    int
	seq    uint64
	closed bool
}

// New creates a queue with the given capacity. Capacity must be at least 1.
func New(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	q := &Queue{
		items: make(itemHeap, 0, capacity),
		byID:  make(map[string]*item, capacity),
		cap:   capacity,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue adds a job id at the given priority (lower value is served first).
// It never blocks: a full queue yields ErrFull immediately.
func (q *Queue) Enqueue(id string, priority int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	if _, ok := q.byID[id]; ok {
		return fmt.Errorf("job %s already queued", id)
	}
	if len(q.items) >= q.cap {
		return ErrFull
	}

	it := &item{id: id, priority: priority, seq: q.seq}
	q.seq++
	heap.Push(&q.items, it)
	q.byID[id] = it

	q.cond.Signal()
	return nil
}

// Dequeue removes and returns the id of the highest-urgency item, blocking
// while the queue is empty. After Close it returns ErrClosed, including to
// callers already blocked.
func (q *Queue) Dequeue() (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return "", ErrClosed
	}

	it := heap.Pop(&q.items).(*item)
	delete(q.byID, it.id)
	return it.id, nil
}

// Remove takes a specific id out of the queue, reporting whether it was
// present. Used to cancel jobs that have not started.
func (q *Queue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.byID[id]
	if !ok {
		return false
	}
	heap.Remove(&q.items, it.index)
	delete(q.byID, id)
	return true
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Cap returns the fixed capacity.
func (q *Queue) Cap() int { return q.cap }

// Close wakes all blocked Dequeue calls. Items still queued are abandoned;
// the registry keeps their records.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.cond.Broadcast()
}

// itemHeap orders by priority ascending, then sequence ascending.
type itemHeap []*item

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *itemHeap) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}
