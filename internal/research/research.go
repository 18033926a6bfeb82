// Package research schedules research tasks across the available, active and
// completed partitions and applies completion effects from a data-driven catalog.
package research

import (
	"fmt"
	"strconv"

	"lightspeed/internal/domain"
	"lightspeed/internal/errs"
	"lightspeed/internal/quantity"
)

const (
	PartitionAvailable = "available"
	PartitionActive    = "active"
	PartitionCompleted = "completed"
)

// Service holds the catalog and tuning; all task state lives in domain.State.
type Service struct {
	Catalog      Catalog
	GrowthFactor Q
	// Seed is created when the craft first departs.
	Seed []string
	// AutomationTask is offered once AutomationThreshold tasks are completed.
	AutomationTask      string
	AutomationThreshold int
}

// InstanceID returns the id of a task tier. The first tier uses the base id.
func InstanceID(base string, iteration int) string {
	if iteration <= 1 {
		return base
	}
	return base + "-" + strconv.Itoa(iteration)
}

// MultitaskFactor is 1/√n for n active tasks, and 1 when none are active.
func MultitaskFactor(n int) Q {
	if n <= 1 {
		return quantity.One
	}
	return quantity.One.Div(quantity.FromInt(int64(n)).Sqrt())
}

func ensure(r *domain.Research) {
	if r.Available == nil {
		r.Available = map[string]*domain.Task{}
	}
	if r.Active == nil {
		r.Active = map[string]*domain.Task{}
	}
	if r.Completed == nil {
		r.Completed = map[string]*domain.Task{}
	}
}

// CreateTask instantiates tier iteration of base into available. An iteration
// of zero means the first tier was requested implicitly. An explicitly
// requested tier goes straight to active once research automation is unlocked.
// Creating an id that already exists returns the existing instance.
func (s *Service) CreateTask(st *domain.State, base string, iteration int) (*domain.Task, error) {
	tmpl, ok := s.Catalog[base]
	if !ok {
		return nil, errs.NotFoundf("research task %s not found", base)
	}
	explicit := iteration > 0
	if !explicit {
		iteration = 1
	}
	ensure(&st.Research)
	id := InstanceID(base, iteration)
	if existing := s.lookup(st, id); existing != nil {
		return existing, nil
	}
	title := tmpl.Title
	if iteration > 1 {
		title = fmt.Sprintf("%s %d", title, iteration)
	}
	growth := s.GrowthFactor
	if !growth.IsPositive() {
		growth = quantity.One
	}
	task := &domain.Task{
		ID:          id,
		Base:        base,
		Title:       title,
		Description: tmpl.Description,
		Duration:    tmpl.Duration.Mul(growth.Pow(iteration - 1)),
		Progress:    quantity.Zero,
		Iteration:   iteration,
	}
	if explicit && st.Progression.Unlocked(domain.UnlockResearchAutomation) {
		st.Research.Active[id] = task
		st.MultitaskFactor = MultitaskFactor(len(st.Research.Active))
		return task, nil
	}
	st.Research.Available[id] = task
	return task, nil
}

func (s *Service) lookup(st *domain.State, id string) *domain.Task {
	r := st.Research
	if t := r.Available[id]; t != nil {
		return t
	}
	if t := r.Active[id]; t != nil {
		return t
	}
	return r.Completed[id]
}

// SeedTasks creates the initial task set.
func (s *Service) SeedTasks(st *domain.State) error {
	for _, id := range s.Seed {
		if _, err := s.CreateTask(st, id, 0); err != nil {
			return err
		}
	}
	return nil
}

// SetActive moves id from available to active.
func (s *Service) SetActive(st *domain.State, id string) error {
	ensure(&st.Research)
	t := st.Research.Available[id]
	if t == nil {
		return errs.InvalidTransition(id, partitionName(st, id), PartitionActive)
	}
	delete(st.Research.Available, id)
	st.Research.Active[id] = t
	st.MultitaskFactor = MultitaskFactor(len(st.Research.Active))
	return nil
}

// SetAvailable moves id from active back to available, keeping its progress.
func (s *Service) SetAvailable(st *domain.State, id string) error {
	ensure(&st.Research)
	t := st.Research.Active[id]
	if t == nil {
		return errs.InvalidTransition(id, partitionName(st, id), PartitionAvailable)
	}
	delete(st.Research.Active, id)
	st.Research.Available[id] = t
	st.MultitaskFactor = MultitaskFactor(len(st.Research.Active))
	return nil
}

// SetCompleted moves id from active to completed and applies its effects.
// Completing an already completed task does nothing.
func (s *Service) SetCompleted(st *domain.State, id string) error {
	ensure(&st.Research)
	if st.Research.Completed[id] != nil {
		return nil
	}
	t := st.Research.Active[id]
	if t == nil {
		return errs.InvalidTransition(id, partitionName(st, id), PartitionCompleted)
	}
	delete(st.Research.Active, id)
	st.Research.Completed[id] = t
	st.MultitaskFactor = MultitaskFactor(len(st.Research.Active))

	tmpl, ok := s.Catalog[t.Base]
	if !ok {
		return errs.NotFoundf("research task %s not found", t.Base)
	}
	for _, e := range tmpl.Effects {
		if err := s.apply(st, e); err != nil {
			return fmt.Errorf("complete %s: %w", id, err)
		}
	}
	if tmpl.Repeatable {
		if _, err := s.CreateTask(st, t.Base, t.Iteration+1); err != nil {
			return err
		}
	}
	return s.checkAutomationUnlock(st)
}

func (s *Service) checkAutomationUnlock(st *domain.State) error {
	if s.AutomationTask == "" || s.AutomationThreshold <= 0 {
		return nil
	}
	if len(st.Research.Completed) < s.AutomationThreshold {
		return nil
	}
	if st.Progression.Unlocked(domain.UnlockResearchAutomation) || s.lookup(st, s.AutomationTask) != nil {
		return nil
	}
	_, err := s.CreateTask(st, s.AutomationTask, 0)
	return err
}

// Allocate spreads earthDelta across the active tasks with the multitask
// penalty and completes every task whose progress exceeds its duration.
// Completions are applied after all progress has been credited.
func (s *Service) Allocate(st *domain.State, earthDelta Q) ([]string, error) {
	ensure(&st.Research)
	ids := st.Research.ActiveIDs()
	factor := MultitaskFactor(len(ids))
	st.MultitaskFactor = factor
	if len(ids) == 0 {
		return nil, nil
	}
	share := earthDelta.Mul(factor)
	var done []string
	for _, id := range ids {
		t := st.Research.Active[id]
		t.Progress = t.Progress.Add(share)
		if t.Progress.GreaterThan(t.Duration) {
			done = append(done, id)
		}
	}
	for _, id := range done {
		if err := s.SetCompleted(st, id); err != nil {
			return done, err
		}
	}
	return done, nil
}

func partitionName(st *domain.State, id string) string {
	if p := st.Research.Partition(id); p != "" {
		return p
	}
	return "nowhere"
}
