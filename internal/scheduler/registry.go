package scheduler

import "sync"

// registry holds at most one job per destination. Replace swaps atomically
// so there is never a window with two live jobs for the same destination.
type registry struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

func newRegistry() *registry {
	return &registry{jobs: map[string]*Job{}}
}

// replace installs job for its destination and returns the displaced job,
// if any. The caller is responsible for cancelling the displaced job.
func (r *registry) replace(job *Job) (displaced *Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	displaced = r.jobs[job.Dest]
	r.jobs[job.Dest] = job
	return displaced
}

// removeIf removes dest only while job is still the registered one, so a
// late Once-completion cannot evict a newer replacement.
func (r *registry) removeIf(dest string, job *Job) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.jobs[dest] != job {
		return false
	}
	delete(r.jobs, dest)
	return true
}

func (r *registry) remove(dest string) *Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	job := r.jobs[dest]
	delete(r.jobs, dest)
	return job
}

func (r *registry) get(dest string) *Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.jobs[dest]
}

func (r *registry) all() []*Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, j)
	}
	return out
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}
