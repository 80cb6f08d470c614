package mission

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store keeps mission plans in memory, keyed by id. A guard callback
// blocks deletion of a plan that is currently executing.
type Store struct {
	mu    sync.RWMutex
	plans map[string]*Plan
	guard func(id string) bool
}

func NewStore() *Store {
	return &Store{plans: map[string]*Plan{}}
}

// Guard installs the in-use check consulted by Delete.
func (s *Store) Guard(inUse func(id string) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.guard = inUse
}

// Add validates nothing; callers validate before storing. A missing id
// is filled in, and the stored plan is a copy.
func (s *Store) Add(plan *Plan) *Plan {
	stored := *plan
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans[stored.ID] = &stored

	return &stored
}

// Get returns a copy of the plan with the given id.
func (s *Store) Get(id string) (*Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	plan, ok := s.plans[id]
	if !ok {
		return nil, errFactory.WithData(ErrPlanNotFound, id)
	}

	copied := *plan

	return &copied, nil
}

// List returns copies of all plans, newest first.
func (s *Store) List() []*Plan {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Plan, 0, len(s.plans))
	for _, plan := range s.plans {
		copied := *plan
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	return out
}

// Delete removes a plan. Deleting an executing plan is refused.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.plans[id]; !ok {
		return errFactory.WithData(ErrPlanNotFound, id)
	}
	if s.guard != nil && s.guard(id) {
		return errFactory.WithMessage(ErrAlreadyExecuting, "plan is executing")
	}
	delete(s.plans, id)

	return nil
}
