package job

import (
	"fmt"
	"sort"
	"sync"

	"trainhub/internal/apperrors"
)

// Store is the authoritative in-memory job table. All reads return deep
// snapshots; all writes go through Create, Update, or Transition so a
// reader can never observe a partially-updated record.
//
// The store holds no business logic. The queue manager owns it and is the
// sole mutator of status/error/timestamps; the progress aggregator's
// output is applied through Update by the manager's per-job worker loop.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewStore creates an empty job table.
func NewStore() *Store {
	return &Store{jobs: make(map[string]*Job)}
}

// Create inserts a new job record. The job ID must be unique for the
// lifetime of the process.
func (s *Store) Create(j *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[j.ID]; exists {
		return apperrors.Conflict("job", j.ID, fmt.Sprintf("job %s already exists", j.ID))
	}
	rec := j.clone()
	s.jobs[j.ID] = &rec
	return nil
}

// Get returns a point-in-time snapshot of a job.
func (s *Store) Get(id string) (Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.jobs[id]
	if !ok {
		return Job{}, apperrors.NotFound("job", id)
	}
	return rec.clone(), nil
}

// ListFilter narrows and pages List results.
type ListFilter struct {
	Status Status // zero value matches all
	Limit  int    // 0 = no limit
	Offset int
}

// List returns job snapshots sorted by creation time, newest first.
func (s *Store) List(f ListFilter) []Job {
	s.mu.RLock()
	out := make([]Job, 0, len(s.jobs))
	for _, rec := range s.jobs {
		if f.Status != "" && rec.Status != f.Status {
			continue
		}
		out = append(out, rec.clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, k int) bool {
		if out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].ID < out[k].ID
		}
		return out[i].CreatedAt.After(out[k].CreatedAt)
	})

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

// Update applies mutate to a job's record under the store lock and
// returns the resulting snapshot. Terminal jobs are immutable.
func (s *Store) Update(id string, mutate func(*Job)) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.jobs[id]
	if !ok {
		return Job{}, apperrors.NotFound("job", id)
	}
	if rec.Status.Terminal() {
		return Job{}, apperrors.Conflict("job", id, fmt.Sprintf("job %s is %s", id, rec.Status))
	}
	mutate(rec)
	return rec.clone(), nil
}

// Transition moves a job to the next status, enforcing the state machine,
// and applies mutate (may be nil) in the same critical section.
func (s *Store) Transition(id string, next Status, mutate func(*Job)) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.jobs[id]
	if !ok {
		return Job{}, apperrors.NotFound("job", id)
	}
	if !rec.Status.CanTransition(next) {
		return Job{}, apperrors.Conflict("job", id,
			fmt.Sprintf("job %s cannot move from %s to %s", id, rec.Status, next))
	}
	rec.Status = next
	if mutate != nil {
		mutate(rec)
	}
	return rec.clone(), nil
}

// MarkCallbackExhausted records that webhook delivery for this job ran
// out of attempts. Delivery metadata, not lifecycle state: unlike Update
// it is allowed on terminal jobs, since the terminal notification itself
// can exhaust its retries after the job has finished.
func (s *Store) MarkCallbackExhausted(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.jobs[id]; ok {
		rec.CallbackExhausted = true
	}
}

// CountByStatus returns how many jobs sit in each status.
func (s *Store) CountByStatus() map[Status]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[Status]int)
	for _, rec := range s.jobs {
		counts[rec.Status]++
	}
	return counts
}

// All returns a snapshot of every job, in no particular order. Used by
// the snapshotter.
func (s *Store) All() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Job, 0, len(s.jobs))
	for _, rec := range s.jobs {
		out = append(out, rec.clone())
	}
	return out
}
