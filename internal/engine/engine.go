package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/finworks/reportd/internal/executor"
	"github.com/finworks/reportd/internal/filestore"
	"github.com/finworks/reportd/internal/model"
	"github.com/finworks/reportd/internal/queue"
	"github.com/finworks/reportd/internal/registry"
)

// ErrQueueFull is returned by Submit when the queue has no free slot. The
// rejected job still exists in the registry as failed/capacity_exceeded, so
// the id returned alongside this error stays resolvable.
var ErrQueueFull = queue.ErrFull

// ErrInvalidRequest wraps submission validation failures.
var ErrInvalidRequest = errors.New("invalid job request")

// ErrClosed is returned by Submit after the engine has shut down.
var ErrClosed = errors.New("engine is shut down")

// Health status values.
const (
	HealthOK       = "ok"
	HealthDegraded = "degraded"
)

// Config holds the engine's tunables. Zero values fall back to defaults,
// except DefaultPriority where zero is a meaningful (highest urgency) class.
type Config struct {
	Workers         int
	QueueSize       int
	DefaultTimeout  time.Duration
	CancelGrace     time.Duration
	DefaultPriority int
}

func (c Config) withDefaults() Config {
	if c.Workers < 1 {
		c.Workers = 4
	}
	if c.QueueSize < 1 {
		c.QueueSize = 100
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 10 * time.Minute
	}
	if c.CancelGrace <= 0 {
		c.CancelGrace = 5 * time.Second
	}
	return c
}

// SubmitRequest describes a job submission.
type SubmitRequest struct {
	Name          string         `json:"name"`
	DefinitionURI string         `json:"definition_uri"`
	Arguments     map[string]any `json:"arguments,omitempty"`
	Priority      *int           `json:"priority,omitempty"`
	TimeoutS      int            `json:"timeout_s,omitempty"`
	SubmittedBy   string         `json:"submitted_by,omitempty"`
}

func (req *SubmitRequest) validate(execs *executor.Registry) error {
	if strings.TrimSpace(req.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRequest)
	}
	if req.DefinitionURI == "" {
		return fmt.Errorf("%w: definition_uri is required", ErrInvalidRequest)
	}
	if _, err := execs.Resolve(req.DefinitionURI); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if req.TimeoutS < 0 {
		return fmt.Errorf("%w: timeout_s must not be negative", ErrInvalidRequest)
	}
	return nil
}

// Health is the engine's load snapshot served by the health endpoint.
type Health struct {
	Status       string `json:"status"`
	QueueDepth   int    `json:"queue_depth"`
	QueueCap     int    `json:"queue_capacity"`
	WorkersBusy  int    `json:"workers_busy"`
	WorkersTotal int    `json:"workers_total"`
}

// Engine orchestrates report job execution: it accepts submissions into a
// bounded priority queue, runs them on a fixed worker pool, and serves status
// and artifacts back out.
type Engine struct {
	cfg      Config
	registry *registry.Registry
	files    *filestore.Store
	execs    *executor.Registry
	logger   *slog.Logger
	queue    *queue.Queue
	broker   *Broker

	wg      sync.WaitGroup
	busy    atomic.Int64
	started atomic.Bool
	closed  atomic.Bool
}

// New creates an engine. Call Start to launch the worker pool.
func New(cfg Config, reg *registry.Registry, files *filestore.Store, execs *executor.Registry, logger *slog.Logger) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		cfg:      cfg,
		registry: reg,
		files:    files,
		execs:    execs,
		logger:   logger,
		queue:    queue.New(cfg.QueueSize),
		broker:   NewBroker(),
	}
}

// Start launches the worker pool. It returns immediately.
func (e *Engine) Start() {
	if !e.started.CompareAndSwap(false, true) {
		return
	}
	e.logger.Info("engine starting", "workers", e.cfg.Workers, "queue_capacity", e.queue.Cap())
	for i := 0; i < e.cfg.Workers; i++ {
		i := i
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.workerLoop(i)
		}()
	}
}

// Events returns the engine's lifecycle event broker for subscription.
func (e *Engine) Events() *Broker {
	return e.broker
}

// Submit validates the request, registers the job as queued, and enqueues it
// for execution. When the queue is at capacity the job record is finalized as
// failed with cause capacity_exceeded and the snapshot is returned together
// with ErrQueueFull, so callers can still poll the rejected job by id.
func (e *Engine) Submit(req SubmitRequest) (*model.Job, error) {
	if err := req.validate(e.execs); err != nil {
		return nil, err
	}
	if e.closed.Load() {
		return nil, ErrClosed
	}

	priority := e.cfg.DefaultPriority
	if req.Priority != nil {
		priority = *req.Priority
	}

	job := &model.Job{
		ID:            model.NewID(),
		Name:          strings.TrimSpace(req.Name),
		DefinitionURI: req.DefinitionURI,
		Arguments:     req.Arguments,
		Priority:      priority,
		Status:        model.StatusQueued,
		TimeoutS:      req.TimeoutS,
		SubmittedBy:   req.SubmittedBy,
		CreatedAt:     time.Now().UTC(),
	}

	if err := e.registry.Create(job); err != nil {
		return nil, fmt.Errorf("create job record: %w", err)
	}
	e.broker.Publish(job.Clone())

	if err := e.queue.Enqueue(job.ID, job.Priority); err != nil {
		if errors.Is(err, queue.ErrFull) {
			snap := e.rejectSubmission(job.ID, model.CauseCapacityExceeded,
				fmt.Sprintf("queue at capacity (%d slots)", e.queue.Cap()))
			return snap, ErrQueueFull
		}
		// The queue closed mid-submit; the engine is shutting down.
		e.rejectSubmission(job.ID, model.CauseExecution, "engine is shutting down")
		return nil, ErrClosed
	}

	jobsSubmittedTotal.Inc()
	queueDepthGauge.Set(float64(e.queue.Len()))
	e.logger.Info("job submitted", "job_id", job.ID, "name", job.Name, "priority", job.Priority)
	return job, nil
}

// rejectSubmission finalizes a job that never made it into the queue.
func (e *Engine) rejectSubmission(id, cause, message string) *model.Job {
	snap, err := e.registry.Finalize(id, registry.Outcome{
		Status: model.StatusFailed,
		Err:    &model.JobError{Cause: cause, Message: message},
	})
	if err != nil {
		e.logger.Error("finalize rejected job", "job_id", id, "error", err)
		snap, _ = e.registry.Get(id)
		return snap
	}
	e.finish(snap)
	return snap
}

// Status returns the current snapshot of a job.
func (e *Engine) Status(id string) (*model.Job, error) {
	return e.registry.Get(id)
}

// List returns job snapshots newest first, with the total count of matches.
// An empty status matches all jobs.
func (e *Engine) List(status string, limit, offset int) ([]*model.Job, int, error) {
	return e.registry.List(status, limit, offset)
}

// Files returns the artifact listing of a completed job. Jobs in any other
// status have no visible artifacts, and neither do completed jobs whose
// artifacts the retention sweep already purged.
func (e *Engine) Files(id string) ([]model.FileMeta, error) {
	job, err := e.registry.Get(id)
	if err != nil {
		return nil, err
	}
	if job.Status != model.StatusCompleted {
		return nil, nil
	}
	return job.OutputFiles, nil
}

// Download returns one artifact's content and content type. Artifacts are
// only reachable while the job is completed and still advertises the file.
func (e *Engine) Download(id, filename string) ([]byte, string, error) {
	job, err := e.registry.Get(id)
	if err != nil {
		return nil, "", err
	}
	if job.Status != model.StatusCompleted {
		return nil, "", filestore.ErrNotFound
	}

	var meta *model.FileMeta
	for i := range job.OutputFiles {
		if job.OutputFiles[i].Filename == filename {
			meta = &job.OutputFiles[i]
			break
		}
	}
	if meta == nil {
		return nil, "", filestore.ErrNotFound
	}

	data, err := e.files.Get(id, filename)
	if err != nil {
		return nil, "", err
	}
	return data, meta.ContentType, nil
}

// Cancel requests cancellation of a job. Cancelling a terminal job is an
// idempotent no-op that returns the current snapshot. Queued jobs are pulled
// out of the queue and settled immediately; running jobs are signalled and
// settle within the cancel grace period.
func (e *Engine) Cancel(id string) (*model.Job, error) {
	disp, snap, err := e.registry.RequestCancel(id)
	if err != nil {
		return nil, err
	}

	switch disp {
	case registry.CancelDequeue:
		if e.queue.Remove(id) {
			queueDepthGauge.Set(float64(e.queue.Len()))
			final, ferr := e.registry.Finalize(id, registry.Outcome{
				Status:  model.StatusCancelled,
				Message: "cancelled before start",
			})
			if ferr != nil {
				return e.registry.Get(id)
			}
			e.finish(final)
			return final, nil
		}
		// A worker dequeued the job in the meantime. It will observe the
		// cancel flag and settle the job as cancelled.
		return e.registry.Get(id)
	case registry.CancelSignal:
		e.logger.Info("cancel requested", "job_id", id)
		return snap, nil
	default:
		return snap, nil
	}
}

// Stats returns aggregate statistics over the live job records.
func (e *Engine) Stats() *registry.Stats {
	return e.registry.Stats()
}

// Health reports queue and worker load. The engine degrades when the queue
// is full, since the next submission will be rejected.
func (e *Engine) Health() Health {
	depth := e.queue.Len()
	h := Health{
		Status:       HealthOK,
		QueueDepth:   depth,
		QueueCap:     e.queue.Cap(),
		WorkersBusy:  int(e.busy.Load()),
		WorkersTotal: e.cfg.Workers,
	}
	if depth >= e.queue.Cap() {
		h.Status = HealthDegraded
	}
	return h
}

// Close stops accepting work, drains the worker pool, and closes the event
// broker. If the context expires before the workers drain naturally, running
// jobs are cancelled and the drain completes within the cancel grace period.
func (e *Engine) Close(ctx context.Context) error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.logger.Info("engine stopping")
	e.queue.Close()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.logger.Info("engine stopped gracefully")
	case <-ctx.Done():
		n := e.registry.CancelAllRunning()
		e.logger.Warn("engine shutdown timed out, cancelling running jobs", "cancelled", n)
		<-done
	}

	e.broker.Close()
	return nil
}

// finish records metrics, publishes the terminal event, and logs the outcome.
func (e *Engine) finish(snap *model.Job) {
	jobsFinishedTotal.WithLabelValues(snap.Status).Inc()
	if snap.StartedAt != nil && snap.CompletedAt != nil {
		jobDurationSeconds.Observe(snap.CompletedAt.Sub(*snap.StartedAt).Seconds())
	}
	e.broker.Publish(snap)

	attrs := []any{"job_id", snap.ID, "status", snap.Status}
	if snap.Error != nil {
		attrs = append(attrs, "cause", snap.Error.Cause)
	}
	e.logger.Info("job finished", attrs...)
}
