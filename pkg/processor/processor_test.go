package processor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadsync/threadsync/pkg/adapter"
	"github.com/threadsync/threadsync/pkg/crypto"
	"github.com/threadsync/threadsync/pkg/llm"
	"github.com/threadsync/threadsync/pkg/models"
	"github.com/threadsync/threadsync/pkg/notion"
	"github.com/threadsync/threadsync/pkg/store"
)

const testMasterKey = "unit-test-master-key"

// stubSource is a scriptable SourceAdapter recording the calls made to it.
type stubSource struct {
	fetchErr   error
	failUntil  int
	fetchCalls int
	replyErr   error

	thread        *models.Thread
	replies       []string
	statusUpdates []models.Status
	seenConfigs   []*models.SourceConfig
}

func (s *stubSource) SourceType() string { return "stub" }

func (s *stubSource) ParseIncoming(ctx context.Context, payload map[string]any) (*models.ParsedDiscussion, error) {
	return nil, errors.New("not used")
}

func (s *stubSource) FetchThread(ctx context.Context, threadID string, config *models.SourceConfig) (*models.Thread, error) {
	s.fetchCalls++
	s.seenConfigs = append(s.seenConfigs, config)
	if s.fetchErr != nil && (s.failUntil == 0 || s.fetchCalls <= s.failUntil) {
		return nil, s.fetchErr
	}
	if s.thread != nil {
		return s.thread, nil
	}
	return &models.Thread{
		ID:   threadID,
		Root: models.ThreadMessage{ID: "m1", Author: "casey", Content: "please fix the export button"},
	}, nil
}

func (s *stubSource) PostReply(ctx context.Context, threadID, message string, config *models.SourceConfig) (bool, error) {
	if s.replyErr != nil {
		return false, s.replyErr
	}
	s.replies = append(s.replies, message)
	return true, nil
}

func (s *stubSource) UpdateStatus(ctx context.Context, threadID string, status models.Status, config *models.SourceConfig) (bool, error) {
	s.statusUpdates = append(s.statusUpdates, status)
	return true, nil
}

func (s *stubSource) ValidateConfig(config *models.SourceConfig) models.ValidationResult {
	return models.ValidationResult{Valid: true}
}

func (s *stubSource) TestConnection(ctx context.Context, config *models.SourceConfig) bool {
	return true
}

// fakeTasks is a scriptable TaskCreator.
type fakeTasks struct {
	createErr error
	duplicate string

	created    [][]notion.Task
	databaseID string
	closes     int
}

func (f *fakeTasks) CreateTasks(ctx context.Context, databaseID string, tasks []notion.Task, mapping models.FieldMapping) ([]string, error) {
	f.databaseID = databaseID
	f.created = append(f.created, tasks)
	if f.createErr != nil {
		return nil, f.createErr
	}
	ids := make([]string, len(tasks))
	for i := range tasks {
		ids[i] = "page-" + tasks[i].Title
	}
	return ids, nil
}

func (f *fakeTasks) FindDuplicateByURL(ctx context.Context, databaseID, sourceURL string, mapping models.FieldMapping) (string, error) {
	return f.duplicate, nil
}

func (f *fakeTasks) Close() { f.closes++ }

// fakeAnalyzer is a scriptable Analyzer.
type fakeAnalyzer struct {
	summary   *llm.SummaryResult
	detection *llm.DetectionResult
	err       error
	closes    int
}

func (f *fakeAnalyzer) GenerateSummary(ctx context.Context, thread *models.Thread, fileName, customPrompt string) (*llm.SummaryResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.summary, nil
}

func (f *fakeAnalyzer) DetectTasks(ctx context.Context, commentText, threadContext, fileName, customPrompt string) (*llm.DetectionResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.detection, nil
}

func (f *fakeAnalyzer) Close() { f.closes++ }

type fixture struct {
	store    *store.MemoryStore
	enc      *crypto.Encryptor
	source   *stubSource
	tasks    *fakeTasks
	analyzer *fakeAnalyzer
	proc     *Processor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	enc, err := crypto.NewEncryptor(testMasterKey)
	require.NoError(t, err)

	f := &fixture{
		store:    store.NewMemoryStore(),
		enc:      enc,
		source:   &stubSource{},
		tasks:    &fakeTasks{},
		analyzer: &fakeAnalyzer{},
	}
	registry := adapter.NewRegistry(enc)
	registry.Register("stub", func(*crypto.Encryptor) adapter.SourceAdapter { return f.source })

	f.proc = New(f.store, registry, enc, Options{
		RetryBase:     time.Millisecond,
		NewTaskClient: func(string) (TaskCreator, error) { return f.tasks, nil },
		NewAnalyzer:   func(string) (Analyzer, error) { return f.analyzer, nil },
	})
	return f
}

func (f *fixture) seedConfig(t *testing.T, mutate func(*models.SourceConfig)) *models.SourceConfig {
	t.Helper()
	token, err := f.enc.Encrypt("task-db-token")
	require.NoError(t, err)
	llmKey, err := f.enc.Encrypt("llm-key")
	require.NoError(t, err)

	cfg := &models.SourceConfig{
		ID:               "cfg1",
		TenantID:         "T1",
		SourceType:       "stub",
		Name:             "acme stub",
		TaskDBToken:      token,
		TaskDBID:         "db1",
		LLMKey:           llmKey,
		PostConfirmation: true,
		Active:           true,
		Metadata:         models.MetadataMap{"workspace_id": "W1"},
		CreatedAt:        time.Now().UTC(),
	}
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, f.store.SourceConfigs().Create(context.Background(), cfg))
	return cfg
}

func (f *fixture) seedDiscussion(t *testing.T, mutate func(*models.Discussion)) *models.Discussion {
	t.Helper()
	now := time.Now().UTC()
	d := &models.Discussion{
		ID:             "d1",
		TenantID:       "T1",
		Owner:          "U1",
		SourceType:     "stub",
		SourceThreadID: "thread-1",
		SourceURL:      "https://example.com/thread-1",
		SourceConfigID: "cfg1",
		Title:          "Fix the export button",
		Content:        "please fix the export button",
		Author:         "casey",
		Status:         models.StatusPending,
		Metadata:       models.MetadataMap{"channel_id": "C42"},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if mutate != nil {
		mutate(d)
	}
	require.NoError(t, f.store.Discussions().Create(context.Background(), d))
	return d
}

func TestProcess_SingleTask(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedConfig(t, func(c *models.SourceConfig) { c.AIEnabled = false })
	f.seedDiscussion(t, nil)

	res, err := f.proc.Process(ctx, "d1")
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, "d1", res.DiscussionID)
	require.Len(t, res.PageIDs, 1)

	require.Len(t, f.tasks.created, 1)
	task := f.tasks.created[0][0]
	assert.Equal(t, "Fix the export button", task.Title)
	assert.Equal(t, "please fix the export button", task.Description)
	assert.Equal(t, "medium", task.Priority)
	assert.Equal(t, "https://example.com/thread-1", task.SourceURL)
	assert.Equal(t, "db1", f.tasks.databaseID)

	d, err := f.store.Discussions().Get(ctx, "T1", "d1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, d.Status)
	require.NotNil(t, d.ProcessedAt)
	require.NotNil(t, d.JobID)

	job, err := f.store.SyncJobs().Get(ctx, "T1", *d.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, job.Status)
	assert.Equal(t, models.StageCompleted, job.Stage)
	assert.Equal(t, models.StringList(res.PageIDs), job.TaskIDs)
	require.NotNil(t, job.CompletedAt)

	assert.Equal(t, []models.Status{models.StatusProcessing, models.StatusCompleted}, f.source.statusUpdates)
	require.Len(t, f.source.replies, 1)
	assert.Contains(t, f.source.replies[0], "Created 1 task")
}

func TestProcess_MergesDiscussionMetadataIntoConfig(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedConfig(t, nil)
	f.seedDiscussion(t, nil)

	_, err := f.proc.Process(ctx, "d1")
	require.NoError(t, err)

	require.NotEmpty(t, f.source.seenConfigs)
	eff := f.source.seenConfigs[0]
	assert.Equal(t, "C42", eff.Meta("channel_id"), "discussion metadata visible to the adapter")
	assert.Equal(t, "W1", eff.Meta("workspace_id"), "config metadata preserved")

	stored, err := f.store.SourceConfigs().Get(ctx, "T1", "cfg1")
	require.NoError(t, err)
	assert.Empty(t, stored.Meta("channel_id"), "stored config never mutates")
}

func TestProcess_MultiTaskDetection(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedConfig(t, func(c *models.SourceConfig) { c.AIEnabled = true })
	f.seedDiscussion(t, nil)

	f.analyzer.summary = &llm.SummaryResult{Summary: "two distinct fixes requested"}
	f.analyzer.detection = &llm.DetectionResult{
		IsMultiTask: true,
		Tasks: []llm.DetectedTask{
			{ID: "t1", Title: "Fix export", Description: "export is broken", Priority: "high"},
			{ID: "t2", Title: "Fix import", Description: "import too", Priority: "low"},
		},
	}

	res, err := f.proc.Process(ctx, "d1")
	require.NoError(t, err)
	assert.Len(t, res.PageIDs, 2)

	require.Len(t, f.tasks.created, 1)
	tasks := f.tasks.created[0]
	require.Len(t, tasks, 2)
	assert.Equal(t, "Fix export", tasks[0].Title)
	assert.Equal(t, "high", tasks[0].Priority)
	assert.Equal(t, "two distinct fixes requested", tasks[0].AISummary)
	assert.Equal(t, "low", tasks[1].Priority)
}

func TestProcess_SingleDetectedTaskStaysSingle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedConfig(t, func(c *models.SourceConfig) { c.AIEnabled = true })
	f.seedDiscussion(t, nil)

	f.analyzer.detection = &llm.DetectionResult{
		Tasks: []llm.DetectedTask{{ID: "t1", Title: "ignored", Priority: "high"}},
	}

	res, err := f.proc.Process(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, res.PageIDs, 1)

	task := f.tasks.created[0][0]
	assert.Equal(t, "Fix the export button", task.Title, "single task keeps the discussion title")
	assert.Equal(t, "high", task.Priority, "priority taken from the detection")
}

func TestProcess_AnalysisFailureDegrades(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedConfig(t, func(c *models.SourceConfig) { c.AIEnabled = true })
	f.seedDiscussion(t, nil)

	f.analyzer.err = errors.New("model overloaded")

	res, err := f.proc.Process(ctx, "d1")
	require.NoError(t, err, "analysis problems never fail the run")
	assert.True(t, res.Success)
	require.Len(t, f.tasks.created, 1)
	assert.Empty(t, f.tasks.created[0][0].AISummary)
}

func TestProcess_ConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*models.SourceConfig)
		missing bool
		want    string
	}{
		{name: "not found", missing: true, want: "not found"},
		{name: "different tenant", mutate: func(c *models.SourceConfig) { c.TenantID = "T2" }, want: "different tenant"},
		{name: "inactive", mutate: func(c *models.SourceConfig) { c.Active = false }, want: "not active"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t)
			if !tt.missing {
				f.seedConfig(t, tt.mutate)
			}
			f.seedDiscussion(t, nil)

			res, err := f.proc.Process(ctx, "d1")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.False(t, res.Success)

			d, derr := f.store.Discussions().Get(ctx, "T1", "d1")
			require.NoError(t, derr)
			assert.Equal(t, models.StatusFailed, d.Status)
			assert.Nil(t, d.ProcessedAt, "processed_at is only set on success")

			job, jerr := f.store.SyncJobs().Get(ctx, "T1", res.JobID)
			require.NoError(t, jerr)
			assert.Equal(t, models.StatusFailed, job.Status)
			assert.Equal(t, models.StageConfigLoading, job.Stage)
			assert.Contains(t, job.ErrorMessage, tt.want)
			assert.NotEmpty(t, job.ErrorStack)
		})
	}
}

func TestProcess_DuplicateShortCircuits(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedConfig(t, nil)
	f.seedDiscussion(t, nil)

	f.tasks.duplicate = "existing-page"

	res, err := f.proc.Process(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, []string{"existing-page"}, res.PageIDs)
	assert.Empty(t, f.tasks.created, "no new pages when a duplicate exists")
}

func TestProcess_NotificationFailureNonFatal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedConfig(t, nil)
	f.seedDiscussion(t, nil)

	f.source.replyErr = errors.New("channel archived")

	res, err := f.proc.Process(ctx, "d1")
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestProcess_ConfirmationDisabledSkipsNotification(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedConfig(t, func(c *models.SourceConfig) { c.PostConfirmation = false })
	f.seedDiscussion(t, nil)

	res, err := f.proc.Process(ctx, "d1")
	require.NoError(t, err)
	assert.True(t, res.Success)

	assert.Empty(t, f.source.replies)
	assert.Equal(t, []models.Status{models.StatusProcessing}, f.source.statusUpdates,
		"no source-side completion update when confirmations are off")

	job, err := f.store.SyncJobs().Get(ctx, "T1", res.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, job.Status)
	assert.Equal(t, models.StageCompleted, job.Stage)
}

func TestProcess_ClosesPerRunClients(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedConfig(t, func(c *models.SourceConfig) { c.AIEnabled = true })
	f.seedDiscussion(t, nil)

	_, err := f.proc.Process(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, 1, f.tasks.closes)
	assert.Equal(t, 1, f.analyzer.closes)

	t.Run("closed even when creation fails", func(t *testing.T) {
		f := newFixture(t)
		f.seedConfig(t, nil)
		f.seedDiscussion(t, nil)
		f.tasks.createErr = errors.New("boom")

		_, err := f.proc.Process(ctx, "d1")
		require.Error(t, err)
		assert.Equal(t, 1, f.tasks.closes)
	})
}

func TestProcess_TaskCreationFailureFailsRun(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedConfig(t, nil)
	f.seedDiscussion(t, nil)

	f.tasks.createErr = errors.New("database deleted")

	res, err := f.proc.Process(ctx, "d1")
	require.Error(t, err)
	assert.Contains(t, res.Error, "database deleted")

	job, jerr := f.store.SyncJobs().Get(ctx, "T1", res.JobID)
	require.NoError(t, jerr)
	assert.Equal(t, models.StageTaskCreation, job.Stage)
	assert.Equal(t, []models.Status{models.StatusProcessing, models.StatusFailed}, f.source.statusUpdates)
}

func TestProcessWithRetry_EventualSuccess(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedConfig(t, nil)
	f.seedDiscussion(t, nil)

	f.source.fetchErr = errors.New("upstream flake")
	f.source.failUntil = 2

	res, err := f.proc.ProcessWithRetry(ctx, "d1")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 3, f.source.fetchCalls)

	jobs, err := f.store.SyncJobs().ListByDiscussion(ctx, "T1", "d1")
	require.NoError(t, err)
	require.Len(t, jobs, 3, "each attempt records its own job")
	assert.Equal(t, models.StatusFailed, jobs[0].Status)
	assert.Equal(t, models.StatusCompleted, jobs[2].Status)
	assert.Equal(t, 3, jobs[2].Attempt)
}

func TestProcessWithRetry_Exhausted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedConfig(t, nil)
	f.seedDiscussion(t, nil)

	f.source.fetchErr = errors.New("upstream down")

	res, err := f.proc.ProcessWithRetry(ctx, "d1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	require.NotNil(t, res)
	assert.Contains(t, res.Error, "upstream down")
	assert.Equal(t, 3, f.source.fetchCalls)
}

func TestProcess_UnknownDiscussion(t *testing.T) {
	f := newFixture(t)
	_, err := f.proc.Process(context.Background(), "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestConfirmationMessage(t *testing.T) {
	msg := confirmationMessage([]string{"a", "b", "c", "d", "e"})
	assert.Contains(t, msg, "Created 5 tasks")
	assert.Contains(t, msg, "and 2 more")
	assert.Equal(t, 3, strings.Count(msg, "notion.so"))
}
