package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/stationquest/render-api/internal/model"
)

// MemoryStore is an in-process JobStore with the same transition semantics as
// RedisStore. It backs tests and local development without Redis.
type MemoryStore struct {
	mu      sync.Mutex
	jobs    map[string]*model.RenderJob
	readyAt map[string]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:    make(map[string]*model.RenderJob),
		readyAt: make(map[string]time.Time),
	}
}

func (s *MemoryStore) Insert(ctx context.Context, job *model.RenderJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	cp := *job
	s.jobs[job.ID] = &cp
	s.readyAt[job.ID] = job.CreatedAt
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*model.RenderJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (s *MemoryStore) PendingBatch(ctx context.Context, now time.Time, limit int) ([]*model.RenderJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.RenderJob
	for id, job := range s.jobs {
		if job.Status == model.StatusPending && !s.readyAt[id].After(now) {
			cp := *job
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// transition applies mutate under the lock iff the state change is legal.
func (s *MemoryStore) transition(id string, to model.Status, mutate func(*model.RenderJob)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if !job.Status.CanTransition(to) {
		return ErrInvalidState
	}
	job.Status = to
	job.UpdatedAt = time.Now().UTC()
	if mutate != nil {
		mutate(job)
	}
	return nil
}

func (s *MemoryStore) Claim(ctx context.Context, id string) (bool, error) {
	err := s.transition(id, model.StatusProcessing, func(job *model.RenderJob) {
		now := time.Now().UTC()
		job.Progress = 0
		job.StartedAt = &now
	})
	if err == ErrInvalidState {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *MemoryStore) Cancel(ctx context.Context, id string) error {
	return s.transition(id, model.StatusCancelled, func(job *model.RenderJob) {
		now := time.Now().UTC()
		job.CompletedAt = &now
	})
}

func (s *MemoryStore) UpdateProgress(ctx context.Context, id string, progress int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if job.Status != model.StatusProcessing || progress <= job.Progress {
		return nil // dropped, keeping the recorded sequence monotonic
	}
	job.Progress = progress
	job.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) Complete(ctx context.Context, id string, outputPath string) error {
	return s.transition(id, model.StatusCompleted, func(job *model.RenderJob) {
		now := time.Now().UTC()
		job.Progress = 100
		job.OutputPath = outputPath
		job.CompletedAt = &now
	})
}

func (s *MemoryStore) Fail(ctx context.Context, id string, summary string) error {
	return s.transition(id, model.StatusFailed, func(job *model.RenderJob) {
		now := time.Now().UTC()
		job.Error = &summary
		job.CompletedAt = &now
	})
}

func (s *MemoryStore) Requeue(ctx context.Context, id string, readyAt time.Time) error {
	// readyAt must land in the same critical section as the status flip, or
	// a concurrent PendingBatch could see the job pending with a stale
	// ready time.
	return s.transition(id, model.StatusPending, func(job *model.RenderJob) {
		job.Progress = 0
		job.RetryCount++
		job.StartedAt = nil
		s.readyAt[id] = readyAt
	})
}

func (s *MemoryStore) ListForEvent(ctx context.Context, eventID string) ([]*model.RenderJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.RenderJob
	for _, job := range s.jobs {
		if job.EventID == eventID {
			cp := *job
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// MemoryTemplates is a fixed TemplateSource for tests and local development.
type MemoryTemplates struct {
	mu        sync.RWMutex
	templates map[string]*model.VideoTemplate
}

func NewMemoryTemplates(templates ...*model.VideoTemplate) *MemoryTemplates {
	m := &MemoryTemplates{templates: make(map[string]*model.VideoTemplate)}
	for _, t := range templates {
		m.templates[t.ID] = t
	}
	return m
}

func (m *MemoryTemplates) Put(t *model.VideoTemplate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.templates[t.ID] = t
}

func (m *MemoryTemplates) GetTemplate(ctx context.Context, id string) (*model.VideoTemplate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.templates[id]
	if !ok {
		return nil, ErrTemplateNotFound
	}
	return t, nil
}
