// Package engine provides the report job execution engine. It owns the
// bounded priority queue and the fixed worker pool, drives each job through
// its lifecycle by resolving executors via the registry, enforces per-job
// timeouts and cancellation, and persists artifacts through the file store.
package engine
