package cleanup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadsync/threadsync/pkg/config"
	"github.com/threadsync/threadsync/pkg/models"
	"github.com/threadsync/threadsync/pkg/store"
)

func seedDiscussion(t *testing.T, st *store.MemoryStore, id string, status models.Status, age time.Duration) {
	t.Helper()
	now := time.Now().UTC()
	d := &models.Discussion{
		ID: id, TenantID: "T1", Owner: "U1",
		SourceType: "slack_mention", SourceThreadID: id,
		SourceConfigID: "cfg1", Status: status,
		CreatedAt: now.Add(-age), UpdatedAt: now.Add(-age),
	}
	require.NoError(t, st.Discussions().Create(context.Background(), d))
}

func retention() *config.RetentionConfig {
	return &config.RetentionConfig{
		DiscussionRetentionDays: 90,
		JobRetentionDays:        365,
		CleanupInterval:         time.Hour,
	}
}

func TestRunOnce_DeletesOldTerminalDiscussions(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	seedDiscussion(t, st, "old-done", models.StatusCompleted, 100*24*time.Hour)
	seedDiscussion(t, st, "old-failed", models.StatusFailed, 100*24*time.Hour)
	seedDiscussion(t, st, "recent-done", models.StatusCompleted, time.Hour)
	seedDiscussion(t, st, "old-pending", models.StatusPending, 100*24*time.Hour)

	NewService(retention(), st).RunOnce(ctx)

	_, err := st.Discussions().Get(ctx, "T1", "old-done")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.Discussions().Get(ctx, "T1", "old-failed")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = st.Discussions().Get(ctx, "T1", "recent-done")
	assert.NoError(t, err)
	_, err = st.Discussions().Get(ctx, "T1", "old-pending")
	assert.NoError(t, err, "non-terminal discussions are never deleted")
}

func TestRunOnce_DeletesOldJobs(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()

	d := &models.Discussion{ID: "d1", TenantID: "T1", Owner: "U1", SourceConfigID: "cfg1"}
	old := models.NewSyncJob("old", d, 1, 3)
	old.Status = models.StatusCompleted
	ancient := time.Now().Add(-400 * 24 * time.Hour)
	old.CompletedAt = &ancient
	require.NoError(t, st.SyncJobs().Create(ctx, old))

	fresh := models.NewSyncJob("fresh", d, 1, 3)
	fresh.Status = models.StatusCompleted
	now := time.Now()
	fresh.CompletedAt = &now
	require.NoError(t, st.SyncJobs().Create(ctx, fresh))

	NewService(retention(), st).RunOnce(ctx)

	_, err := st.SyncJobs().Get(ctx, "T1", "old")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.SyncJobs().Get(ctx, "T1", "fresh")
	assert.NoError(t, err)
}

func TestStartStop(t *testing.T) {
	st := store.NewMemoryStore()
	cfg := retention()
	cfg.CleanupInterval = 10 * time.Millisecond

	svc := NewService(cfg, st)
	svc.Start(context.Background())
	time.Sleep(25 * time.Millisecond)
	svc.Stop()

	// Stop is idempotent after the loop has exited.
	svc.Stop()
}
