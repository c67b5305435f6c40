// Package queue provides the bounded priority queue that sits between job
// submission and the worker pool. Enqueue never blocks: when the queue is at
// capacity it fails immediately so the submission layer can report
// backpressure. Dequeue blocks until an item is available and serves the
// lowest priority number first, first-submitted-first within equal priority.
package queue
