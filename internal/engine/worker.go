package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/finworks/reportd/internal/executor"
	"github.com/finworks/reportd/internal/model"
	"github.com/finworks/reportd/internal/registry"
)

type renderResult struct {
	files []executor.File
	err   error
}

// workerLoop is run by each worker goroutine. It exits when the queue closes.
func (e *Engine) workerLoop(worker int) {
	for {
		id, err := e.queue.Dequeue()
		if err != nil {
			return
		}
		queueDepthGauge.Set(float64(e.queue.Len()))
		e.runJob(worker, id)
	}
}

// runJob drives one job from claim to terminal state. The worker owns the
// timeout timer rather than putting a deadline on the context, so a firing
// timer and an external cancel are distinguishable outcomes. The worker is
// released within timeout+grace regardless of executor behavior.
func (e *Engine) runJob(worker int, id string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	job, err := e.registry.MarkRunning(id, cancel)
	if errors.Is(err, registry.ErrCancelRequested) {
		e.finalize(id, registry.Outcome{Status: model.StatusCancelled, Message: "cancelled before start"})
		return
	}
	if err != nil {
		e.logger.Error("claim job for execution", "job_id", id, "worker", worker, "error", err)
		return
	}

	e.busy.Add(1)
	workersBusyGauge.Inc()
	defer func() {
		e.busy.Add(-1)
		workersBusyGauge.Dec()
	}()

	e.broker.Publish(job)
	e.logger.Info("job started", "job_id", id, "worker", worker, "priority", job.Priority)

	timeout := e.cfg.DefaultTimeout
	if job.TimeoutS > 0 {
		timeout = time.Duration(job.TimeoutS) * time.Second
	}

	exec, err := e.execs.Resolve(job.DefinitionURI)
	if err != nil {
		e.finalize(id, registry.Outcome{
			Status: model.StatusFailed,
			Err:    &model.JobError{Cause: model.CauseExecution, Message: fmt.Sprintf("resolve executor: %v", err)},
		})
		return
	}

	spec := executor.Spec{
		JobID:         job.ID,
		Name:          job.Name,
		DefinitionURI: job.DefinitionURI,
		Arguments:     job.Arguments,
		Progress: func(percent int, message string) {
			if err := e.registry.SetProgress(id, percent, message); err != nil {
				e.logger.Error("record progress", "job_id", id, "error", err)
			}
		},
	}

	// The render runs in its own goroutine so the worker can keep watching
	// the timer and the cancel signal. Panics are recovered at this boundary
	// and become ordinary execution failures.
	done := make(chan renderResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- renderResult{err: fmt.Errorf("executor panic: %v", r)}
			}
		}()
		files, err := exec.Render(ctx, spec)
		done <- renderResult{files: files, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-done:
		e.settle(ctx, job, res)
	case <-timer.C:
		cancel()
		e.awaitRelease(done)
		e.discardArtifacts(id)
		e.finalize(id, registry.Outcome{
			Status: model.StatusFailed,
			Err:    &model.JobError{Cause: model.CauseTimeout, Message: fmt.Sprintf("job exceeded timeout of %s", timeout)},
		})
	case <-ctx.Done():
		e.awaitRelease(done)
		e.discardArtifacts(id)
		e.finalize(id, registry.Outcome{Status: model.StatusCancelled, Message: "job cancelled"})
	}
}

// settle turns a render result into the job's terminal state. A cancel signal
// that fired while the executor was wrapping up wins over the result.
func (e *Engine) settle(ctx context.Context, job *model.Job, res renderResult) {
	id := job.ID

	if ctx.Err() != nil {
		e.discardArtifacts(id)
		e.finalize(id, registry.Outcome{Status: model.StatusCancelled, Message: "job cancelled"})
		return
	}
	if res.err != nil {
		e.finalize(id, registry.Outcome{
			Status: model.StatusFailed,
			Err:    &model.JobError{Cause: model.CauseExecution, Message: res.err.Error()},
		})
		return
	}

	metas := make([]model.FileMeta, 0, len(res.files))
	for _, f := range res.files {
		meta, err := e.files.Put(id, f.Filename, f.Data)
		if err != nil {
			e.discardArtifacts(id)
			e.finalize(id, registry.Outcome{
				Status: model.StatusFailed,
				Err:    &model.JobError{Cause: model.CauseExecution, Message: fmt.Sprintf("write artifact %s: %v", f.Filename, err)},
			})
			return
		}
		if f.ContentType != "" {
			meta.ContentType = f.ContentType
		}
		metas = append(metas, meta)
	}

	e.finalize(id, registry.Outcome{Status: model.StatusCompleted, Files: metas})
}

// awaitRelease gives the render goroutine the cancel grace period to
// acknowledge the signal. After that the worker moves on; an executor that
// ignores its context keeps its goroutine but never a worker slot.
func (e *Engine) awaitRelease(done <-chan renderResult) {
	select {
	case <-done:
	case <-time.After(e.cfg.CancelGrace):
	}
}

// discardArtifacts drops whatever a job wrote before it was interrupted.
func (e *Engine) discardArtifacts(id string) {
	if err := e.files.RemoveJob(id); err != nil {
		e.logger.Error("discard partial artifacts", "job_id", id, "error", err)
	}
}

// finalize applies a terminal outcome. Losing the finalize race means another
// path already settled the job, which is expected when cancellation, timeout,
// and completion collide.
func (e *Engine) finalize(id string, out registry.Outcome) {
	snap, err := e.registry.Finalize(id, out)
	if err != nil {
		e.logger.Debug("job already settled", "job_id", id, "status", out.Status)
		return
	}
	e.finish(snap)
}
