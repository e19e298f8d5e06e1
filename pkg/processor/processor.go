// Package processor runs the staged pipeline that turns a persisted
// discussion into task rows: resolve the tenant, load its source config,
// rebuild the conversation thread, optionally enrich with LLM analysis,
// create the tasks, and notify the thread. Every run is recorded as a
// SyncJob whose stage advances with the pipeline.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/threadsync/threadsync/pkg/adapter"
	"github.com/threadsync/threadsync/pkg/crypto"
	"github.com/threadsync/threadsync/pkg/llm"
	"github.com/threadsync/threadsync/pkg/models"
	"github.com/threadsync/threadsync/pkg/notion"
	"github.com/threadsync/threadsync/pkg/resilience"
	"github.com/threadsync/threadsync/pkg/store"
)

const (
	defaultMaxAttempts = 3
	defaultRetryBase   = 2 * time.Second
	defaultRetryMax    = 30 * time.Second

	// confirmationLinkLimit caps how many created pages the thread
	// confirmation message links to.
	confirmationLinkLimit = 3
)

// TaskCreator is the slice of the task-DB client the pipeline uses.
// Tests substitute a fake.
type TaskCreator interface {
	CreateTasks(ctx context.Context, databaseID string, tasks []notion.Task, mapping models.FieldMapping) ([]string, error)
	FindDuplicateByURL(ctx context.Context, databaseID, sourceURL string, mapping models.FieldMapping) (string, error)
	// Close releases the client's background resources. Clients are built
	// per run from tenant credentials, so every run must close its own.
	Close()
}

// Analyzer is the slice of the LLM client the pipeline uses.
type Analyzer interface {
	GenerateSummary(ctx context.Context, thread *models.Thread, fileName, customPrompt string) (*llm.SummaryResult, error)
	DetectTasks(ctx context.Context, commentText, threadContext, fileName, customPrompt string) (*llm.DetectionResult, error)
	Close()
}

// Result is the outcome of one processing run, shaped for the internal
// processing endpoint's response.
type Result struct {
	Success        bool     `json:"success"`
	JobID          string   `json:"jobId"`
	DiscussionID   string   `json:"discussionId"`
	PageIDs        []string `json:"pageIds,omitempty"`
	Error          string   `json:"error,omitempty"`
	ProcessingTime int64    `json:"processingTime"`
}

// Options tunes processor construction. Zero values fall back to defaults.
type Options struct {
	MaxAttempts int
	RetryBase   time.Duration
	RetryMax    time.Duration

	// NewTaskClient and NewAnalyzer build tenant-scoped clients from
	// decrypted credentials. Tests substitute fakes.
	NewTaskClient func(token string) (TaskCreator, error)
	NewAnalyzer   func(apiKey string) (Analyzer, error)
}

// Processor executes the pipeline over the store and the adapter registry.
type Processor struct {
	store    store.Store
	registry *adapter.Registry
	enc      *crypto.Encryptor
	logger   *slog.Logger

	maxAttempts int
	retryBase   time.Duration
	retryMax    time.Duration

	newTaskClient func(token string) (TaskCreator, error)
	newAnalyzer   func(apiKey string) (Analyzer, error)
}

// New creates a processor.
func New(st store.Store, registry *adapter.Registry, enc *crypto.Encryptor, opts Options) *Processor {
	p := &Processor{
		store:         st,
		registry:      registry,
		enc:           enc,
		logger:        slog.Default().With("component", "processor"),
		maxAttempts:   opts.MaxAttempts,
		retryBase:     opts.RetryBase,
		retryMax:      opts.RetryMax,
		newTaskClient: opts.NewTaskClient,
		newAnalyzer:   opts.NewAnalyzer,
	}
	if p.maxAttempts <= 0 {
		p.maxAttempts = defaultMaxAttempts
	}
	if p.retryBase <= 0 {
		p.retryBase = defaultRetryBase
	}
	if p.retryMax <= 0 {
		p.retryMax = defaultRetryMax
	}
	if p.newTaskClient == nil {
		p.newTaskClient = func(token string) (TaskCreator, error) {
			return notion.NewClient(token)
		}
	}
	if p.newAnalyzer == nil {
		p.newAnalyzer = func(apiKey string) (Analyzer, error) {
			return llm.NewClient(apiKey)
		}
	}
	return p
}

// Process runs the pipeline once for the discussion. The returned Result is
// populated even when the run fails; the error mirrors Result.Error.
func (p *Processor) Process(ctx context.Context, discussionID string) (*Result, error) {
	return p.attempt(ctx, discussionID, 1, 1)
}

// ProcessWithRetry runs the pipeline with backoff between attempts. Each
// attempt is recorded as its own SyncJob; the audit trail keeps every try.
func (p *Processor) ProcessWithRetry(ctx context.Context, discussionID string) (*Result, error) {
	cfg := resilience.RetryConfig{
		MaxAttempts: p.maxAttempts,
		BaseDelay:   p.retryBase,
		MaxDelay:    p.retryMax,
	}
	var last *Result
	attempt := 0
	res, err := resilience.RetryWithResult(ctx, cfg, func(ctx context.Context) (*Result, error) {
		attempt++
		r, err := p.attempt(ctx, discussionID, attempt, p.maxAttempts)
		last = r
		return r, err
	})
	if err != nil {
		return last, err
	}
	return res, nil
}

// attempt executes one full pipeline run, bookkeeping a fresh SyncJob.
func (p *Processor) attempt(ctx context.Context, discussionID string, attempt, maxAttempts int) (*Result, error) {
	started := time.Now()

	d, err := p.store.Discussions().Find(ctx, discussionID)
	if err != nil {
		return &Result{DiscussionID: discussionID, Error: err.Error()}, err
	}

	job := models.NewSyncJob(uuid.NewString(), d, attempt, maxAttempts)
	if err := p.store.SyncJobs().Create(ctx, job); err != nil {
		return &Result{DiscussionID: d.ID, Error: err.Error()}, fmt.Errorf("creating sync job: %w", err)
	}

	d.Status = models.StatusProcessing
	d.JobID = &job.ID
	if err := p.store.Discussions().Update(ctx, d); err != nil {
		return p.fail(ctx, job, d, nil, started, fmt.Errorf("marking discussion processing: %w", err))
	}

	p.logger.Info("processing discussion",
		"discussion_id", d.ID, "tenant", d.TenantID, "source", d.SourceType,
		"job_id", job.ID, "attempt", attempt)

	pageIDs, cfg, err := p.run(ctx, job, d)
	if err != nil {
		return p.fail(ctx, job, d, cfg, started, err)
	}

	now := time.Now().UTC()
	job.Stage = models.StageCompleted
	job.Status = models.StatusCompleted
	job.TaskIDs = pageIDs
	job.CompletedAt = &now
	job.ProcessingMs = time.Since(started).Milliseconds()
	if err := p.store.SyncJobs().Update(ctx, job); err != nil {
		p.logger.Error("recording completed job", "job_id", job.ID, "error", err)
	}

	d.Status = models.StatusCompleted
	d.ProcessedAt = &now
	if err := p.store.Discussions().Update(ctx, d); err != nil {
		p.logger.Error("recording completed discussion", "discussion_id", d.ID, "error", err)
	}

	p.logger.Info("discussion processed",
		"discussion_id", d.ID, "job_id", job.ID,
		"pages", len(pageIDs), "duration_ms", job.ProcessingMs)

	return &Result{
		Success:        true,
		JobID:          job.ID,
		DiscussionID:   d.ID,
		PageIDs:        pageIDs,
		ProcessingTime: job.ProcessingMs,
	}, nil
}

// run walks the stages for one job. It returns the created page ids and the
// effective config (for failure-side status updates) alongside any error.
func (p *Processor) run(ctx context.Context, job *models.SyncJob, d *models.Discussion) ([]string, *models.SourceConfig, error) {
	// team_resolution
	if err := p.advance(ctx, job, models.StageTeamResolution); err != nil {
		return nil, nil, err
	}
	if d.TenantID == "" {
		return nil, nil, errors.New("discussion has no tenant")
	}

	// config_loading
	if err := p.advance(ctx, job, models.StageConfigLoading); err != nil {
		return nil, nil, err
	}
	cfg, err := p.loadConfig(ctx, d)
	if err != nil {
		return nil, nil, err
	}
	effCfg := effectiveConfig(cfg, d)

	src, err := p.registry.Get(d.SourceType)
	if err != nil {
		return nil, effCfg, err
	}
	if _, err := src.UpdateStatus(ctx, d.SourceThreadID, models.StatusProcessing, effCfg); err != nil {
		p.logger.Debug("updating source status", "discussion_id", d.ID, "error", err)
	}

	// thread_building
	if err := p.advance(ctx, job, models.StageThreadBuilding); err != nil {
		return nil, effCfg, err
	}
	thread, err := src.FetchThread(ctx, d.SourceThreadID, effCfg)
	if err != nil {
		return nil, effCfg, fmt.Errorf("building thread: %w", err)
	}

	// ai_analysis, skipped when the config has it off
	var summary *llm.SummaryResult
	var detection *llm.DetectionResult
	if cfg.AIEnabled && cfg.LLMKey != "" {
		if err := p.advance(ctx, job, models.StageAIAnalysis); err != nil {
			return nil, effCfg, err
		}
		summary, detection = p.analyze(ctx, d, cfg, thread)
	}

	// task_creation
	if err := p.advance(ctx, job, models.StageTaskCreation); err != nil {
		return nil, effCfg, err
	}
	pageIDs, err := p.createTasks(ctx, job, d, cfg, thread, summary, detection)
	if err != nil {
		return nil, effCfg, err
	}

	// notification, skipped when the config has confirmations off; never fatal
	if cfg.PostConfirmation {
		if err := p.advance(ctx, job, models.StageNotification); err != nil {
			return pageIDs, effCfg, err
		}
		p.notify(ctx, src, d, effCfg, pageIDs)
	}

	return pageIDs, effCfg, nil
}

// loadConfig resolves the discussion's source config, distinguishing a
// missing config from a cross-tenant reference and from an inactive one.
func (p *Processor) loadConfig(ctx context.Context, d *models.Discussion) (*models.SourceConfig, error) {
	cfg, err := p.store.SourceConfigs().Find(ctx, d.SourceConfigID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("source config %s not found", d.SourceConfigID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading source config: %w", err)
	}
	if cfg.TenantID != d.TenantID {
		return nil, fmt.Errorf("source config %s belongs to a different tenant", cfg.ID)
	}
	if !cfg.Active {
		return nil, fmt.Errorf("source config %s is not active", cfg.ID)
	}
	return cfg, nil
}

// effectiveConfig overlays the discussion's metadata onto a copy of the
// config's. Adapters read per-thread context (channel id, file key) from the
// merged view, so the stored config never mutates.
func effectiveConfig(cfg *models.SourceConfig, d *models.Discussion) *models.SourceConfig {
	merged := make(models.MetadataMap, len(cfg.Metadata)+len(d.Metadata))
	for k, v := range cfg.Metadata {
		merged[k] = v
	}
	for k, v := range d.Metadata {
		merged[k] = v
	}
	copied := *cfg
	copied.Metadata = merged
	return &copied
}

// analyze runs the LLM enrichment. Failures degrade to nil results and a
// warning; the pipeline continues without them.
func (p *Processor) analyze(ctx context.Context, d *models.Discussion, cfg *models.SourceConfig, thread *models.Thread) (*llm.SummaryResult, *llm.DetectionResult) {
	apiKey, err := p.enc.Decrypt(cfg.LLMKey)
	if err != nil {
		p.logger.Warn("decrypting llm key, skipping analysis", "discussion_id", d.ID, "error", err)
		return nil, nil
	}
	analyzer, err := p.newAnalyzer(apiKey)
	if err != nil {
		p.logger.Warn("building llm client, skipping analysis", "discussion_id", d.ID, "error", err)
		return nil, nil
	}
	defer analyzer.Close()

	fileName := d.Metadata["file_name"]
	instructions := cfg.Meta("ai_instructions")

	summary, err := analyzer.GenerateSummary(ctx, thread, fileName, instructions)
	if err != nil {
		p.logger.Warn("generating summary", "discussion_id", d.ID, "error", err)
	}
	detection, err := analyzer.DetectTasks(ctx, d.Content, threadContext(thread), fileName, instructions)
	if err != nil {
		p.logger.Warn("detecting tasks", "discussion_id", d.ID, "error", err)
	}
	return summary, detection
}

// createTasks builds the task rows and creates them in the tenant's task
// database. Pages created before a mid-batch failure are recorded on the job
// and never rolled back.
func (p *Processor) createTasks(ctx context.Context, job *models.SyncJob, d *models.Discussion, cfg *models.SourceConfig, thread *models.Thread, summary *llm.SummaryResult, detection *llm.DetectionResult) ([]string, error) {
	token, err := p.enc.Decrypt(cfg.TaskDBToken)
	if err != nil {
		return nil, fmt.Errorf("decrypting task db token: %w", err)
	}
	tc, err := p.newTaskClient(token)
	if err != nil {
		return nil, fmt.Errorf("building task db client: %w", err)
	}
	defer tc.Close()

	if dup, err := tc.FindDuplicateByURL(ctx, cfg.TaskDBID, d.SourceURL, cfg.Mapping); err != nil {
		p.logger.Warn("duplicate lookup", "discussion_id", d.ID, "error", err)
	} else if dup != "" {
		p.logger.Info("task already exists for source url, skipping creation",
			"discussion_id", d.ID, "page_id", dup)
		job.TaskIDs = models.StringList{dup}
		return []string{dup}, nil
	}

	tasks := buildTasks(d, thread, summary, detection)
	created, err := tc.CreateTasks(ctx, cfg.TaskDBID, tasks, cfg.Mapping)
	job.TaskIDs = models.StringList(created)
	if err != nil {
		return nil, fmt.Errorf("creating tasks: %w", err)
	}
	return created, nil
}

// buildTasks decides the task rows for a run: one per detected task when the
// analysis confidently found several, otherwise a single row from the
// discussion itself.
func buildTasks(d *models.Discussion, thread *models.Thread, summary *llm.SummaryResult, detection *llm.DetectionResult) []notion.Task {
	meta := map[string]string{
		"source":    d.SourceType,
		"author":    d.Author,
		"thread_id": d.SourceThreadID,
	}
	aiSummary := ""
	if summary != nil {
		aiSummary = summary.Summary
	}

	if detection != nil && detection.IsMultiTask && len(detection.Tasks) >= 2 {
		tasks := make([]notion.Task, 0, len(detection.Tasks))
		for _, dt := range detection.Tasks {
			tasks = append(tasks, notion.Task{
				Title:       dt.Title,
				Description: dt.Description,
				Priority:    dt.Priority,
				SourceURL:   d.SourceURL,
				AISummary:   aiSummary,
				Metadata:    meta,
			})
		}
		return tasks
	}

	priority := "medium"
	if detection != nil && len(detection.Tasks) == 1 && detection.Tasks[0].Priority != "" {
		priority = detection.Tasks[0].Priority
	}
	title := d.Title
	if title == "" {
		title = thread.Root.Content
	}
	return []notion.Task{{
		Title:       title,
		Description: thread.Root.Content,
		Priority:    priority,
		SourceURL:   d.SourceURL,
		AISummary:   aiSummary,
		Metadata:    meta,
	}}
}

// notify posts the confirmation reply and flips the source-side status to
// completed. Both are best-effort: a processed discussion is never failed
// over a notification problem.
func (p *Processor) notify(ctx context.Context, src adapter.SourceAdapter, d *models.Discussion, cfg *models.SourceConfig, pageIDs []string) {
	if _, err := src.PostReply(ctx, d.SourceThreadID, confirmationMessage(pageIDs), cfg); err != nil {
		p.logger.Warn("posting confirmation", "discussion_id", d.ID, "error", err)
	}
	if _, err := src.UpdateStatus(ctx, d.SourceThreadID, models.StatusCompleted, cfg); err != nil {
		p.logger.Warn("updating source status", "discussion_id", d.ID, "error", err)
	}
}

// confirmationMessage names how many tasks were created and links the first
// few pages.
func confirmationMessage(pageIDs []string) string {
	var sb strings.Builder
	if len(pageIDs) == 1 {
		sb.WriteString("Created 1 task")
	} else {
		fmt.Fprintf(&sb, "Created %d tasks", len(pageIDs))
	}
	for i, id := range pageIDs {
		if i >= confirmationLinkLimit {
			fmt.Fprintf(&sb, "\n…and %d more", len(pageIDs)-confirmationLinkLimit)
			break
		}
		sb.WriteString("\n" + pageURL(id))
	}
	return sb.String()
}

func pageURL(pageID string) string {
	return "https://www.notion.so/" + strings.ReplaceAll(pageID, "-", "")
}

// advance moves the job to the next stage and persists it.
func (p *Processor) advance(ctx context.Context, job *models.SyncJob, stage models.JobStage) error {
	job.Stage = stage
	if err := p.store.SyncJobs().Update(ctx, job); err != nil {
		return fmt.Errorf("advancing job to %s: %w", stage, err)
	}
	return nil
}

// fail records the failure on the job and the discussion, flips the
// source-side status when a config is available, and shapes the Result.
func (p *Processor) fail(ctx context.Context, job *models.SyncJob, d *models.Discussion, cfg *models.SourceConfig, started time.Time, cause error) (*Result, error) {
	now := time.Now().UTC()
	job.Status = models.StatusFailed
	job.ErrorMessage = cause.Error()
	job.ErrorStack = string(debug.Stack())
	job.CompletedAt = &now
	job.ProcessingMs = time.Since(started).Milliseconds()
	if err := p.store.SyncJobs().Update(ctx, job); err != nil {
		p.logger.Error("recording failed job", "job_id", job.ID, "error", err)
	}

	d.Status = models.StatusFailed
	if err := p.store.Discussions().Update(ctx, d); err != nil {
		p.logger.Error("recording failed discussion", "discussion_id", d.ID, "error", err)
	}

	if cfg != nil {
		if src, err := p.registry.Get(d.SourceType); err == nil {
			if _, err := src.UpdateStatus(ctx, d.SourceThreadID, models.StatusFailed, cfg); err != nil {
				p.logger.Debug("updating source status", "discussion_id", d.ID, "error", err)
			}
		}
	}

	p.logger.Error("processing failed",
		"discussion_id", d.ID, "job_id", job.ID,
		"stage", job.Stage, "attempt", job.Attempt, "error", cause)

	return &Result{
		JobID:          job.ID,
		DiscussionID:   d.ID,
		PageIDs:        job.TaskIDs,
		Error:          cause.Error(),
		ProcessingTime: job.ProcessingMs,
	}, cause
}

// threadContext flattens a thread into "author: content" lines for the
// detection prompt.
func threadContext(t *models.Thread) string {
	var sb strings.Builder
	for _, m := range t.Messages() {
		if m.Content == "" {
			continue
		}
		sb.WriteString(m.Author + ": " + m.Content + "\n")
	}
	return strings.TrimSpace(sb.String())
}
