package jobs

import (
	"errors"
	"sync"
	"time"
)

var ErrJobExists = errors.New("job already exists")

const (
	// Log lines are capped so a long job cannot grow memory without
	// bound. When the cap is hit the buffer is cut back to keepLogLines,
	// dropping the oldest entries.
	maxLogLines  = 6000
	keepLogLines = 4000
)

// Registry holds job state behind a mutex. Finished jobs are evicted
// lazily once they are older than the retention window.
type Registry struct {
	mu        sync.Mutex
	jobs      map[string]*Job
	retention time.Duration
	now       func() time.Time
}

func NewRegistry(retention time.Duration) *Registry {
	return &Registry{
		jobs:      make(map[string]*Job),
		retention: retention,
		now:       time.Now,
	}
}

// Create registers a new job. The registry owns the stored value from
// here on; callers read it back through Get.
func (r *Registry) Create(job *Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sweepLocked()

	if _, ok := r.jobs[job.ID]; ok {
		return ErrJobExists
	}
	stored := *job
	r.jobs[job.ID] = &stored
	return nil
}

// Update applies fn to the job under the registry lock. Updating a job
// that has been evicted is a no-op, so late writers race harmlessly with
// the retention sweep.
func (r *Registry) Update(id string, fn func(*Job)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return
	}
	fn(job)
}

// AppendLog adds one line to the job's log buffer, trimming the oldest
// lines when the buffer exceeds its cap.
func (r *Registry) AppendLog(id, line string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return
	}
	job.Logs = append(job.Logs, line)
	if len(job.Logs) > maxLogLines {
		trimmed := make([]string, keepLogLines)
		copy(trimmed, job.Logs[len(job.Logs)-keepLogLines:])
		job.Logs = trimmed
	}
}

// Get returns a snapshot of the job. Slices are copied so callers can
// read them without holding the lock.
func (r *Registry) Get(id string) (Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sweepLocked()

	job, ok := r.jobs[id]
	if !ok {
		return Job{}, false
	}
	return snapshot(job), true
}

// List returns snapshots of all jobs, newest first.
func (r *Registry) List() []Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sweepLocked()

	out := make([]Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, snapshot(job))
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].CreatedAt.After(out[i].CreatedAt) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out
}

func (r *Registry) sweepLocked() {
	if r.retention <= 0 {
		return
	}
	cutoff := r.now().Add(-r.retention)
	for id, job := range r.jobs {
		if job.Done && !job.FinishedAt.IsZero() && job.FinishedAt.Before(cutoff) {
			delete(r.jobs, id)
		}
	}
}

func snapshot(job *Job) Job {
	out := *job
	out.Logs = append([]string(nil), job.Logs...)
	out.Warnings = append([]string(nil), job.Warnings...)
	out.Segments = append([]SegmentRequest(nil), job.Segments...)
	out.OutputFiles = append([]string(nil), job.OutputFiles...)
	return out
}
