package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver for database/sql
	"github.com/jmoiron/sqlx"

	"github.com/threadsync/threadsync/pkg/models"
)

//go:embed migrations
var migrationsFS embed.FS

// Config holds Postgres connection settings.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DSN renders the pgx-compatible connection string.
func (c Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// PostgresStore is the production Store over a pooled pgx connection.
type PostgresStore struct {
	db          *sqlx.DB
	discussions *pgDiscussions
	configs     *pgConfigs
	jobs        *pgJobs
}

// Open connects, configures the pool, and applies pending migrations.
func Open(ctx context.Context, cfg Config) (*PostgresStore, error) {
	db, err := sqlx.Open("pgx", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	if err := runMigrations(db.DB, cfg.Database); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &PostgresStore{
		db:          db,
		discussions: &pgDiscussions{db: db},
		configs:     &pgConfigs{db: db},
		jobs:        &pgJobs{db: db},
	}, nil
}

// runMigrations applies embedded migrations with golang-migrate. The source
// driver is closed separately because migrate's Close also closes the
// shared *sql.DB.
func runMigrations(db *sql.DB, database string) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("creating postgres driver: %w", err)
	}
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, database, driver)
	if err != nil {
		return fmt.Errorf("creating migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return source.Close()
}

// DB exposes the pool for health checks.
func (s *PostgresStore) DB() *sql.DB { return s.db.DB }

func (s *PostgresStore) Discussions() DiscussionStore     { return s.discussions }
func (s *PostgresStore) SourceConfigs() SourceConfigStore { return s.configs }
func (s *PostgresStore) SyncJobs() SyncJobStore           { return s.jobs }
func (s *PostgresStore) Close() error                     { return s.db.Close() }

type pgDiscussions struct {
	db *sqlx.DB
}

const discussionColumns = `id, tenant_id, owner, source_type, source_thread_id, source_url,
	source_config_id, title, content, author, participants, status, event_id,
	job_id, raw_payload, metadata, processed_at, created_at, updated_at`

func (r *pgDiscussions) Create(ctx context.Context, d *models.Discussion) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO discussions (`+discussionColumns+`)
		VALUES (:id, :tenant_id, :owner, :source_type, :source_thread_id, :source_url,
			:source_config_id, :title, :content, :author, :participants, :status, :event_id,
			:job_id, :raw_payload, :metadata, :processed_at, :created_at, :updated_at)`, d)
	if err != nil {
		return fmt.Errorf("inserting discussion %s: %w", d.ID, err)
	}
	return nil
}

func (r *pgDiscussions) Get(ctx context.Context, tenant, id string) (*models.Discussion, error) {
	var d models.Discussion
	err := r.db.GetContext(ctx, &d,
		`SELECT `+discussionColumns+` FROM discussions WHERE id = $1 AND tenant_id = $2`, id, tenant)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("discussion %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading discussion %s: %w", id, err)
	}
	return &d, nil
}

func (r *pgDiscussions) Find(ctx context.Context, id string) (*models.Discussion, error) {
	var d models.Discussion
	err := r.db.GetContext(ctx, &d,
		`SELECT `+discussionColumns+` FROM discussions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("discussion %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading discussion %s: %w", id, err)
	}
	return &d, nil
}

func (r *pgDiscussions) FindByThread(ctx context.Context, tenant, sourceType, threadID string) (*models.Discussion, error) {
	var d models.Discussion
	err := r.db.GetContext(ctx, &d, `
		SELECT `+discussionColumns+` FROM discussions
		WHERE tenant_id = $1 AND source_type = $2 AND source_thread_id = $3
		ORDER BY created_at LIMIT 1`, tenant, sourceType, threadID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding discussion by thread: %w", err)
	}
	return &d, nil
}

func (r *pgDiscussions) FindByEventID(ctx context.Context, tenant, eventID string) (*models.Discussion, error) {
	if eventID == "" {
		return nil, ErrNotFound
	}
	var d models.Discussion
	err := r.db.GetContext(ctx, &d, `
		SELECT `+discussionColumns+` FROM discussions
		WHERE tenant_id = $1 AND event_id = $2
		ORDER BY created_at LIMIT 1`, tenant, eventID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding discussion by event id: %w", err)
	}
	return &d, nil
}

// Update compares on (id, tenant, owner) so one tenant can never overwrite
// another's row through a guessed id.
func (r *pgDiscussions) Update(ctx context.Context, d *models.Discussion) error {
	d.UpdatedAt = time.Now().UTC()
	res, err := r.db.NamedExecContext(ctx, `
		UPDATE discussions SET
			status = :status, title = :title, content = :content, job_id = :job_id,
			participants = :participants, metadata = :metadata,
			processed_at = :processed_at, updated_at = :updated_at
		WHERE id = :id AND tenant_id = :tenant_id AND owner = :owner`, d)
	if err != nil {
		return fmt.Errorf("updating discussion %s: %w", d.ID, err)
	}
	return requireRow(res, d.ID)
}

func (r *pgDiscussions) List(ctx context.Context, tenant string, limit, offset int) ([]*models.Discussion, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []*models.Discussion
	err := r.db.SelectContext(ctx, &out, `
		SELECT `+discussionColumns+` FROM discussions
		WHERE tenant_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, tenant, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing discussions: %w", err)
	}
	return out, nil
}

func (r *pgDiscussions) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM discussions
		WHERE status IN ('completed', 'failed') AND updated_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting old discussions: %w", err)
	}
	return res.RowsAffected()
}

type pgConfigs struct {
	db *sqlx.DB
}

const configColumns = `id, tenant_id, source_type, name, api_token, task_db_token, task_db_id,
	llm_key, field_mapping, ai_enabled, auto_sync, post_confirmation, active,
	metadata, created_at, updated_at`

func (r *pgConfigs) Create(ctx context.Context, c *models.SourceConfig) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO source_configs (`+configColumns+`)
		VALUES (:id, :tenant_id, :source_type, :name, :api_token, :task_db_token, :task_db_id,
			:llm_key, :field_mapping, :ai_enabled, :auto_sync, :post_confirmation, :active,
			:metadata, :created_at, :updated_at)`, c)
	if err != nil {
		return fmt.Errorf("inserting source config %s: %w", c.ID, err)
	}
	return nil
}

func (r *pgConfigs) Get(ctx context.Context, tenant, id string) (*models.SourceConfig, error) {
	var c models.SourceConfig
	err := r.db.GetContext(ctx, &c,
		`SELECT `+configColumns+` FROM source_configs WHERE id = $1 AND tenant_id = $2`, id, tenant)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("source config %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading source config %s: %w", id, err)
	}
	return &c, nil
}

func (r *pgConfigs) Find(ctx context.Context, id string) (*models.SourceConfig, error) {
	var c models.SourceConfig
	err := r.db.GetContext(ctx, &c,
		`SELECT `+configColumns+` FROM source_configs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("source config %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading source config %s: %w", id, err)
	}
	return &c, nil
}

func (r *pgConfigs) FindActive(ctx context.Context, tenant, sourceType string) (*models.SourceConfig, error) {
	var c models.SourceConfig
	err := r.db.GetContext(ctx, &c, `
		SELECT `+configColumns+` FROM source_configs
		WHERE tenant_id = $1 AND source_type = $2 AND active
		ORDER BY created_at LIMIT 1`, tenant, sourceType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding active config: %w", err)
	}
	return &c, nil
}

func (r *pgConfigs) Update(ctx context.Context, c *models.SourceConfig) error {
	c.UpdatedAt = time.Now().UTC()
	res, err := r.db.NamedExecContext(ctx, `
		UPDATE source_configs SET
			name = :name, api_token = :api_token, task_db_token = :task_db_token,
			task_db_id = :task_db_id, llm_key = :llm_key, field_mapping = :field_mapping,
			ai_enabled = :ai_enabled, auto_sync = :auto_sync,
			post_confirmation = :post_confirmation, active = :active,
			metadata = :metadata, updated_at = :updated_at
		WHERE id = :id AND tenant_id = :tenant_id`, c)
	if err != nil {
		return fmt.Errorf("updating source config %s: %w", c.ID, err)
	}
	return requireRow(res, c.ID)
}

func (r *pgConfigs) List(ctx context.Context, tenant string) ([]*models.SourceConfig, error) {
	var out []*models.SourceConfig
	err := r.db.SelectContext(ctx, &out,
		`SELECT `+configColumns+` FROM source_configs WHERE tenant_id = $1 ORDER BY created_at`, tenant)
	if err != nil {
		return nil, fmt.Errorf("listing source configs: %w", err)
	}
	return out, nil
}

func (r *pgConfigs) All(ctx context.Context) ([]*models.SourceConfig, error) {
	var out []*models.SourceConfig
	err := r.db.SelectContext(ctx, &out,
		`SELECT `+configColumns+` FROM source_configs ORDER BY tenant_id, created_at`)
	if err != nil {
		return nil, fmt.Errorf("listing all source configs: %w", err)
	}
	return out, nil
}

type pgJobs struct {
	db *sqlx.DB
}

const jobColumns = `id, tenant_id, owner, discussion_id, source_config_id, status, stage,
	attempt, max_attempts, error_message, error_stack, task_ids, metadata,
	started_at, completed_at, processing_ms, created_at, updated_at`

func (r *pgJobs) Create(ctx context.Context, j *models.SyncJob) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO sync_jobs (`+jobColumns+`)
		VALUES (:id, :tenant_id, :owner, :discussion_id, :source_config_id, :status, :stage,
			:attempt, :max_attempts, :error_message, :error_stack, :task_ids, :metadata,
			:started_at, :completed_at, :processing_ms, :created_at, :updated_at)`, j)
	if err != nil {
		return fmt.Errorf("inserting sync job %s: %w", j.ID, err)
	}
	return nil
}

func (r *pgJobs) Get(ctx context.Context, tenant, id string) (*models.SyncJob, error) {
	var j models.SyncJob
	err := r.db.GetContext(ctx, &j,
		`SELECT `+jobColumns+` FROM sync_jobs WHERE id = $1 AND tenant_id = $2`, id, tenant)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sync job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading sync job %s: %w", id, err)
	}
	return &j, nil
}

func (r *pgJobs) Update(ctx context.Context, j *models.SyncJob) error {
	j.UpdatedAt = time.Now().UTC()
	res, err := r.db.NamedExecContext(ctx, `
		UPDATE sync_jobs SET
			status = :status, stage = :stage, attempt = :attempt,
			error_message = :error_message, error_stack = :error_stack,
			task_ids = :task_ids, metadata = :metadata,
			completed_at = :completed_at, processing_ms = :processing_ms,
			updated_at = :updated_at
		WHERE id = :id AND tenant_id = :tenant_id AND owner = :owner`, j)
	if err != nil {
		return fmt.Errorf("updating sync job %s: %w", j.ID, err)
	}
	return requireRow(res, j.ID)
}

func (r *pgJobs) ListByDiscussion(ctx context.Context, tenant, discussionID string) ([]*models.SyncJob, error) {
	var out []*models.SyncJob
	err := r.db.SelectContext(ctx, &out, `
		SELECT `+jobColumns+` FROM sync_jobs
		WHERE tenant_id = $1 AND discussion_id = $2
		ORDER BY started_at`, tenant, discussionID)
	if err != nil {
		return nil, fmt.Errorf("listing jobs for discussion %s: %w", discussionID, err)
	}
	return out, nil
}

func (r *pgJobs) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM sync_jobs
		WHERE status IN ('completed', 'failed') AND completed_at IS NOT NULL AND completed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting old sync jobs: %w", err)
	}
	return res.RowsAffected()
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return nil
}
