package jobs

import (
	"sync"

	"github.com/italolelis/crocstore/internal/crocdb"
)

// Registry holds the latest known snapshot of every download job, keyed by ROM id.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]crocdb.DownloadProgress
}

func NewRegistry() *Registry {
	return &Registry{jobs: map[string]crocdb.DownloadProgress{}}
}

func (r *Registry) Get(key string) (crocdb.DownloadProgress, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[key]

	return job, ok
}

// Snapshot returns a copy of the registry contents.
func (r *Registry) Snapshot() map[string]crocdb.DownloadProgress {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return copyJobs(r.jobs)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.jobs)
}

// HasActive reports whether any job is still starting or downloading.
func (r *Registry) HasActive() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, job := range r.jobs {
		if job.Status.IsActive() {
			return true
		}
	}

	return false
}

// Merge stores job under key and returns the value it replaced, if any.
// Once a job is completed or error its status is final: a snapshot with a
// different status is not applied and the registry is unchanged.
func (r *Registry) Merge(key string, job crocdb.DownloadProgress) (prev crocdb.DownloadProgress, existed, applied bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, existed = r.jobs[key]
	if existed && prev.Status.IsTerminal() && job.Status != prev.Status {
		return prev, true, false
	}

	r.jobs[key] = job

	return prev, existed, true
}

// Set stores job under key unconditionally and returns the value it replaced.
// The tracker uses it for the first snapshot of a restarted job, which must
// be able to replace an earlier terminal state.
func (r *Registry) Set(key string, job crocdb.DownloadProgress) (prev crocdb.DownloadProgress, existed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, existed = r.jobs[key]
	r.jobs[key] = job

	return prev, existed
}

// Replace swaps the whole registry for jobs and returns the previous contents.
// Keys missing from jobs are dropped.
func (r *Registry) Replace(jobs map[string]crocdb.DownloadProgress) map[string]crocdb.DownloadProgress {
	next := copyJobs(jobs)

	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.jobs
	r.jobs = next

	return prev
}

func copyJobs(in map[string]crocdb.DownloadProgress) map[string]crocdb.DownloadProgress {
	out := make(map[string]crocdb.DownloadProgress, len(in))
	for k, v := range in {
		out[k] = v
	}

	return out
}
