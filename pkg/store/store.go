// Package store is the narrow persistence surface the pipeline consumes.
// Two implementations exist: Postgres for production and an in-memory one
// for tests and local runs without a database.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/threadsync/threadsync/pkg/models"
)

// ErrNotFound is returned when a row does not exist or a compare-and-set
// update matched no row. Cross-tenant lookups surface as not-found, never
// as another tenant's data.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned on an insert that would violate a uniqueness
// expectation the caller should have checked first.
var ErrDuplicate = errors.New("already exists")

// DiscussionStore persists discussions.
type DiscussionStore interface {
	Create(ctx context.Context, d *models.Discussion) error
	// Get is scoped to the tenant; a foreign id yields ErrNotFound.
	Get(ctx context.Context, tenant, id string) (*models.Discussion, error)
	// Find looks up by id alone. For the trusted internal processing
	// entry point, which receives no tenant.
	Find(ctx context.Context, id string) (*models.Discussion, error)
	// FindByThread is the dedupe lookup on (tenant, source type, thread id).
	FindByThread(ctx context.Context, tenant, sourceType, threadID string) (*models.Discussion, error)
	// FindByEventID is the dedupe lookup on a source-supplied event id.
	FindByEventID(ctx context.Context, tenant, eventID string) (*models.Discussion, error)
	// Update writes the row matching (id, tenant, owner); a mismatch on any
	// of the three yields ErrNotFound.
	Update(ctx context.Context, d *models.Discussion) error
	List(ctx context.Context, tenant string, limit, offset int) ([]*models.Discussion, error)
	// DeleteCompletedBefore removes terminal discussions older than cutoff
	// and returns how many were removed.
	DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SourceConfigStore persists per-tenant source configs.
type SourceConfigStore interface {
	Create(ctx context.Context, c *models.SourceConfig) error
	Get(ctx context.Context, tenant, id string) (*models.SourceConfig, error)
	// Find looks up by id alone so callers can distinguish a missing
	// config from a cross-tenant reference.
	Find(ctx context.Context, id string) (*models.SourceConfig, error)
	// FindActive returns the first active config for (tenant, source type),
	// or ErrNotFound.
	FindActive(ctx context.Context, tenant, sourceType string) (*models.SourceConfig, error)
	Update(ctx context.Context, c *models.SourceConfig) error
	List(ctx context.Context, tenant string) ([]*models.SourceConfig, error)
	// All iterates every config, for maintenance passes such as key
	// rotation.
	All(ctx context.Context) ([]*models.SourceConfig, error)
}

// SyncJobStore persists processing jobs.
type SyncJobStore interface {
	Create(ctx context.Context, j *models.SyncJob) error
	Get(ctx context.Context, tenant, id string) (*models.SyncJob, error)
	Update(ctx context.Context, j *models.SyncJob) error
	ListByDiscussion(ctx context.Context, tenant, discussionID string) ([]*models.SyncJob, error)
	DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Store bundles the three repositories behind one handle.
type Store interface {
	Discussions() DiscussionStore
	SourceConfigs() SourceConfigStore
	SyncJobs() SyncJobStore
	Close() error
}
