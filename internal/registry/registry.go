package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/finworks/reportd/internal/model"
)

// ErrNotFound is returned when a job is not found.
var ErrNotFound = errors.New("job not found")

// ErrInvalidTransition is returned when a job status transition is not allowed.
var ErrInvalidTransition = errors.New("invalid status transition")

// ErrCancelRequested is returned by MarkRunning when a cancel arrived while the
// job was still queued. The caller must finalize the job as cancelled instead
// of running it.
var ErrCancelRequested = errors.New("cancel requested before start")

// Stats holds aggregate statistics over the live job records.
type Stats struct {
	Total         int            `json:"total"`
	CountByStatus map[string]int `json:"count_by_status"`
	CountByScheme map[string]int `json:"count_by_scheme"`
	AvgDurationMS float64        `json:"avg_duration_ms"`
}

// Outcome carries the terminal state applied by Finalize.
type Outcome struct {
	Status  string
	Message string
	Files   []model.FileMeta
	Err     *model.JobError
}

// CancelDisposition tells the caller what remains to be done after
// RequestCancel returns.
type CancelDisposition int

const (
	// CancelNoop means the job is already terminal; nothing to do.
	CancelNoop CancelDisposition = iota
	// CancelDequeue means the job has not started; the caller should remove it
	// from the queue and finalize it as cancelled.
	CancelDequeue
	// CancelSignal means the job is running and its cancel signal was fired;
	// the worker finishes the transition.
	CancelSignal
)

type record struct {
	job             model.Job
	cancel          context.CancelFunc
	cancelRequested bool
}

// Registry is the authoritative in-memory index of job records. All methods
// are safe for concurrent use; job snapshots are copied on the way in and out
// so callers never share memory with the registry.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*record
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{jobs: make(map[string]*record)}
}

// Create inserts a new job record. The job must carry a unique ID.
func (r *Registry) Create(j *model.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[j.ID]; exists {
		return fmt.Errorf("job %s already exists", j.ID)
	}
	r.jobs[j.ID] = &record{job: *j.Clone()}
	return nil
}

// Get returns a snapshot of the job with the given id.
func (r *Registry) Get(id string) (*model.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.job.Clone(), nil
}

// List returns job snapshots ordered newest first, along with the total count
// of matching jobs. An empty status matches every job.
func (r *Registry) List(status string, limit, offset int) ([]*model.Job, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]*model.Job, 0, len(r.jobs))
	for _, rec := range r.jobs {
		if status != "" && rec.job.Status != status {
			continue
		}
		matched = append(matched, rec.job.Clone())
	}

	// ULIDs sort lexicographically by creation time, so the id breaks
	// CreatedAt ties deterministically.
	sort.Slice(matched, func(i, k int) bool {
		if !matched[i].CreatedAt.Equal(matched[k].CreatedAt) {
			return matched[i].CreatedAt.After(matched[k].CreatedAt)
		}
		return matched[i].ID > matched[k].ID
	})

	total := len(matched)
	if offset > 0 {
		if offset >= len(matched) {
			return nil, total, nil
		}
		matched = matched[offset:]
	}
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, total, nil
}

// MarkRunning claims the job for execution: it transitions queued to running,
// records the start time, and stores the cancel signal a later RequestCancel
// will fire. At most one MarkRunning can succeed per job. If a cancel was
// requested while the job sat in the queue, MarkRunning refuses with
// ErrCancelRequested and leaves the record queued for the caller to finalize.
func (r *Registry) MarkRunning(id string, cancel context.CancelFunc) (*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if rec.cancelRequested && rec.job.Status == model.StatusQueued {
		return nil, ErrCancelRequested
	}
	if !model.ValidTransition(rec.job.Status, model.StatusRunning) {
		return nil, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, rec.job.Status, model.StatusRunning)
	}

	now := time.Now().UTC()
	rec.job.Status = model.StatusRunning
	rec.job.StartedAt = &now
	rec.cancel = cancel
	return rec.job.Clone(), nil
}

// SetProgress updates the progress percentage and stage message of a running
// job. Values are clamped to 0-100 and decreases are ignored so observers see
// a monotone series. Updates for jobs that are no longer running are dropped;
// late callbacks from a finished executor are expected and harmless.
func (r *Registry) SetProgress(id string, progress int, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if rec.job.Status != model.StatusRunning {
		return nil
	}
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	if progress > rec.job.Progress {
		rec.job.Progress = progress
	}
	if message != "" {
		rec.job.Message = message
	}
	return nil
}

// Finalize applies the single terminal transition of a job's life. The first
// caller wins; any later attempt gets ErrInvalidTransition, which racing
// finalizers (timeout vs. completion) treat as "already settled".
func (r *Registry) Finalize(id string, out Outcome) (*model.Job, error) {
	if !model.IsTerminal(out.Status) {
		return nil, fmt.Errorf("finalize to non-terminal status %q", out.Status)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !model.ValidTransition(rec.job.Status, out.Status) {
		return nil, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, rec.job.Status, out.Status)
	}

	now := time.Now().UTC()
	rec.job.Status = out.Status
	rec.job.CompletedAt = &now
	if out.Message != "" {
		rec.job.Message = out.Message
	}
	switch out.Status {
	case model.StatusCompleted:
		rec.job.Progress = 100
		rec.job.OutputFiles = append([]model.FileMeta(nil), out.Files...)
	case model.StatusFailed:
		rec.job.Error = out.Err
	}
	rec.cancel = nil
	return rec.job.Clone(), nil
}

// RequestCancel starts cancellation of a job. Terminal jobs are left alone
// (cancel is idempotent), queued jobs are flagged so MarkRunning refuses them,
// and running jobs get their cancel signal fired. The returned disposition
// tells the caller which of those happened.
func (r *Registry) RequestCancel(id string) (CancelDisposition, *model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.jobs[id]
	if !ok {
		return CancelNoop, nil, ErrNotFound
	}

	switch {
	case model.IsTerminal(rec.job.Status):
		return CancelNoop, rec.job.Clone(), nil
	case rec.job.Status == model.StatusRunning:
		rec.cancelRequested = true
		if rec.cancel != nil {
			rec.cancel()
		}
		return CancelSignal, rec.job.Clone(), nil
	default:
		rec.cancelRequested = true
		return CancelDequeue, rec.job.Clone(), nil
	}
}

// CancelAllRunning fires the cancel signal of every running job and returns
// how many were signalled. Used during shutdown to bound the drain time.
func (r *Registry) CancelAllRunning() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	signalled := 0
	for _, rec := range r.jobs {
		if rec.job.Status != model.StatusRunning {
			continue
		}
		rec.cancelRequested = true
		if rec.cancel != nil {
			rec.cancel()
			signalled++
		}
	}
	return signalled
}

// ClearArtifacts empties the output file list of the given jobs without
// touching their status. The sweeper calls this after purging artifact
// directories so the API stops advertising files that no longer exist.
func (r *Registry) ClearArtifacts(ids []string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cleared := 0
	for _, id := range ids {
		rec, ok := r.jobs[id]
		if !ok || len(rec.job.OutputFiles) == 0 {
			continue
		}
		rec.job.OutputFiles = nil
		cleared++
	}
	return cleared
}

// EvictTerminalBefore removes terminal job records whose completion time is
// before the cutoff, returning the evicted ids. Queued and running jobs are
// never evicted.
func (r *Registry) EvictTerminalBefore(cutoff time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted []string
	for id, rec := range r.jobs {
		if !model.IsTerminal(rec.job.Status) {
			continue
		}
		if rec.job.CompletedAt == nil || !rec.job.CompletedAt.Before(cutoff) {
			continue
		}
		delete(r.jobs, id)
		evicted = append(evicted, id)
	}
	return evicted
}

// Counts returns the number of queued and running jobs.
func (r *Registry) Counts() (queued, running int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, rec := range r.jobs {
		switch rec.job.Status {
		case model.StatusQueued:
			queued++
		case model.StatusRunning:
			running++
		}
	}
	return queued, running
}

// Stats computes aggregate statistics over the live job records.
func (r *Registry) Stats() *Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := &Stats{
		Total:         len(r.jobs),
		CountByStatus: make(map[string]int),
		CountByScheme: make(map[string]int),
	}

	var durTotal float64
	var durCount int
	for _, rec := range r.jobs {
		stats.CountByStatus[rec.job.Status]++
		stats.CountByScheme[schemeOf(rec.job.DefinitionURI)]++
		if rec.job.StartedAt != nil && rec.job.CompletedAt != nil {
			durTotal += float64(rec.job.CompletedAt.Sub(*rec.job.StartedAt).Milliseconds())
			durCount++
		}
	}
	if durCount > 0 {
		stats.AvgDurationMS = durTotal / float64(durCount)
	}
	return stats
}

func schemeOf(uri string) string {
	if i := strings.Index(uri, "://"); i > 0 {
		return uri[:i]
	}
	return "unknown"
}
