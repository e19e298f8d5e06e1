package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/threadsync/threadsync/pkg/models"
)

// MemoryStore is a Store held entirely in process memory. It backs tests
// and database-less local runs, and mirrors the Postgres implementation's
// tenant scoping and compare-and-set rules.
type MemoryStore struct {
	mu          sync.RWMutex
	discussions map[string]*models.Discussion
	configs     map[string]*models.SourceConfig
	jobs        map[string]*models.SyncJob
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		discussions: make(map[string]*models.Discussion),
		configs:     make(map[string]*models.SourceConfig),
		jobs:        make(map[string]*models.SyncJob),
	}
}

func (s *MemoryStore) Discussions() DiscussionStore     { return (*memDiscussions)(s) }
func (s *MemoryStore) SourceConfigs() SourceConfigStore { return (*memConfigs)(s) }
func (s *MemoryStore) SyncJobs() SyncJobStore           { return (*memJobs)(s) }
func (s *MemoryStore) Close() error                     { return nil }

type memDiscussions MemoryStore

func (r *memDiscussions) Create(ctx context.Context, d *models.Discussion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.discussions[d.ID]; ok {
		return fmt.Errorf("discussion %s: %w", d.ID, ErrDuplicate)
	}
	copied := *d
	r.discussions[d.ID] = &copied
	return nil
}

func (r *memDiscussions) Get(ctx context.Context, tenant, id string) (*models.Discussion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.discussions[id]
	if !ok || d.TenantID != tenant {
		return nil, fmt.Errorf("discussion %s: %w", id, ErrNotFound)
	}
	copied := *d
	return &copied, nil
}

func (r *memDiscussions) Find(ctx context.Context, id string) (*models.Discussion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.discussions[id]
	if !ok {
		return nil, fmt.Errorf("discussion %s: %w", id, ErrNotFound)
	}
	copied := *d
	return &copied, nil
}

func (r *memDiscussions) FindByThread(ctx context.Context, tenant, sourceType, threadID string) (*models.Discussion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var found *models.Discussion
	for _, d := range r.discussions {
		if d.TenantID != tenant || d.SourceType != sourceType || d.SourceThreadID != threadID {
			continue
		}
		if found == nil || d.CreatedAt.Before(found.CreatedAt) {
			found = d
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	copied := *found
	return &copied, nil
}

func (r *memDiscussions) FindByEventID(ctx context.Context, tenant, eventID string) (*models.Discussion, error) {
	if eventID == "" {
		return nil, ErrNotFound
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.discussions {
		if d.TenantID == tenant && d.EventID == eventID {
			copied := *d
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (r *memDiscussions) Update(ctx context.Context, d *models.Discussion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.discussions[d.ID]
	if !ok || existing.TenantID != d.TenantID || existing.Owner != d.Owner {
		return fmt.Errorf("%s: %w", d.ID, ErrNotFound)
	}
	d.UpdatedAt = time.Now().UTC()
	copied := *d
	r.discussions[d.ID] = &copied
	return nil
}

func (r *memDiscussions) List(ctx context.Context, tenant string, limit, offset int) ([]*models.Discussion, error) {
	if limit <= 0 {
		limit = 50
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.Discussion
	for _, d := range r.discussions {
		if d.TenantID == tenant {
			copied := *d
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memDiscussions) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, d := range r.discussions {
		if d.Status.Terminal() && d.UpdatedAt.Before(cutoff) {
			delete(r.discussions, id)
			n++
		}
	}
	return n, nil
}

type memConfigs MemoryStore

func (r *memConfigs) Create(ctx context.Context, c *models.SourceConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.configs[c.ID]; ok {
		return fmt.Errorf("source config %s: %w", c.ID, ErrDuplicate)
	}
	copied := *c
	r.configs[c.ID] = &copied
	return nil
}

func (r *memConfigs) Get(ctx context.Context, tenant, id string) (*models.SourceConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.configs[id]
	if !ok || c.TenantID != tenant {
		return nil, fmt.Errorf("source config %s: %w", id, ErrNotFound)
	}
	copied := *c
	return &copied, nil
}

func (r *memConfigs) Find(ctx context.Context, id string) (*models.SourceConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.configs[id]
	if !ok {
		return nil, fmt.Errorf("source config %s: %w", id, ErrNotFound)
	}
	copied := *c
	return &copied, nil
}

func (r *memConfigs) FindActive(ctx context.Context, tenant, sourceType string) (*models.SourceConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var found *models.SourceConfig
	for _, c := range r.configs {
		if c.TenantID != tenant || c.SourceType != sourceType || !c.Active {
			continue
		}
		if found == nil || c.CreatedAt.Before(found.CreatedAt) {
			found = c
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	copied := *found
	return &copied, nil
}

func (r *memConfigs) Update(ctx context.Context, c *models.SourceConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.configs[c.ID]
	if !ok || existing.TenantID != c.TenantID {
		return fmt.Errorf("%s: %w", c.ID, ErrNotFound)
	}
	c.UpdatedAt = time.Now().UTC()
	copied := *c
	r.configs[c.ID] = &copied
	return nil
}

func (r *memConfigs) List(ctx context.Context, tenant string) ([]*models.SourceConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.SourceConfig
	for _, c := range r.configs {
		if c.TenantID == tenant {
			copied := *c
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *memConfigs) All(ctx context.Context) ([]*models.SourceConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.SourceConfig, 0, len(r.configs))
	for _, c := range r.configs {
		copied := *c
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TenantID != out[j].TenantID {
			return out[i].TenantID < out[j].TenantID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

type memJobs MemoryStore

func (r *memJobs) Create(ctx context.Context, j *models.SyncJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[j.ID]; ok {
		return fmt.Errorf("sync job %s: %w", j.ID, ErrDuplicate)
	}
	copied := *j
	r.jobs[j.ID] = &copied
	return nil
}

func (r *memJobs) Get(ctx context.Context, tenant, id string) (*models.SyncJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	if !ok || j.TenantID != tenant {
		return nil, fmt.Errorf("sync job %s: %w", id, ErrNotFound)
	}
	copied := *j
	return &copied, nil
}

func (r *memJobs) Update(ctx context.Context, j *models.SyncJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.jobs[j.ID]
	if !ok || existing.TenantID != j.TenantID || existing.Owner != j.Owner {
		return fmt.Errorf("%s: %w", j.ID, ErrNotFound)
	}
	j.UpdatedAt = time.Now().UTC()
	copied := *j
	r.jobs[j.ID] = &copied
	return nil
}

func (r *memJobs) ListByDiscussion(ctx context.Context, tenant, discussionID string) ([]*models.SyncJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.SyncJob
	for _, j := range r.jobs {
		if j.TenantID == tenant && j.DiscussionID == discussionID {
			copied := *j
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (r *memJobs) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, j := range r.jobs {
		if j.Status.Terminal() && j.CompletedAt != nil && j.CompletedAt.Before(cutoff) {
			delete(r.jobs, id)
			n++
		}
	}
	return n, nil
}
