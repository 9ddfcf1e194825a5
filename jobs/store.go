package jobs

import (
	"context"
	"sync"
)

// JobFilter defines criteria for listing jobs.
type JobFilter struct {
	// Enabled filters on the enabled flag when non-nil.
	Enabled *bool

	// Kind filters on a single job kind when non-empty.
	Kind JobKind
}

// EnabledOnly is a ready-made filter for the daemon's reconciliation pass.
func EnabledOnly() JobFilter {
	t := true
	return JobFilter{Enabled: &t}
}

// JobStore is the persistence collaborator for job records and their owned
// arguments. Deleting a job cascades to its arguments; UpdateTaskID must be
// atomic for a single job.
type JobStore interface {
	// Save upserts the job and replaces its argument records.
	Save(ctx context.Context, job *Job) error

	// Get returns the job by name, or ErrJobNotFound.
	Get(ctx context.Context, name string) (*Job, error)

	// Delete removes the job and its arguments, or ErrJobNotFound.
	Delete(ctx context.Context, name string) error

	// List returns jobs matching the filter, in unspecified order.
	List(ctx context.Context, filter JobFilter) ([]*Job, error)

	// UpdateTaskID atomically sets the job's external task id. An empty
	// id clears it.
	UpdateTaskID(ctx context.Context, name string, taskID string) error

	// Close releases the store's resources.
	Close() error
}

// MemoryStore implements JobStore in process memory. This is primarily for
// testing and development.
type MemoryStore struct {
	jobs  map[string]*Job
	mutex sync.RWMutex
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*Job)}
}

// Save implements JobStore.
func (s *MemoryStore) Save(ctx context.Context, job *Job) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.jobs[job.Name] = job.Clone()
	return nil
}

// Get implements JobStore.
func (s *MemoryStore) Get(ctx context.Context, name string) (*Job, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	job, ok := s.jobs[name]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job.Clone(), nil
}

// Delete implements JobStore. Arguments live inside the job record here, so
// the cascade is implicit.
func (s *MemoryStore) Delete(ctx context.Context, name string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.jobs[name]; !ok {
		return ErrJobNotFound
	}
	delete(s.jobs, name)
	return nil
}

// List implements JobStore.
func (s *MemoryStore) List(ctx context.Context, filter JobFilter) ([]*Job, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	result := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if filter.Enabled != nil && job.Enabled != *filter.Enabled {
			continue
		}
		if filter.Kind != "" && job.Kind != filter.Kind {
			continue
		}
		result = append(result, job.Clone())
	}
	return result, nil
}

// UpdateTaskID implements JobStore.
func (s *MemoryStore) UpdateTaskID(ctx context.Context, name string, taskID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	job, ok := s.jobs[name]
	if !ok {
		return ErrJobNotFound
	}
	job.TaskID = taskID
	return nil
}

// Close implements JobStore.
func (s *MemoryStore) Close() error {
	return nil
}
