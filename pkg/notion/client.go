// Package notion is a typed client for the external task database,
// wrapped in the shared resilience stack. Pages are assembled from the
// tenant's field mapping so the same pipeline can target differently
// shaped databases.
package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/threadsync/threadsync/pkg/models"
	"github.com/threadsync/threadsync/pkg/resilience"
)

const (
	defaultBaseURL = "https://api.notion.com/v1"
	notionVersion  = "2022-06-28"

	duplicateCacheSize = 256
	duplicateCacheTTL  = 5 * time.Minute

	// Notion allows ~3 requests per second per integration.
	rateCapacity  = 3
	ratePerSecond = 3
)

// Task is the source-agnostic description of one task row to create.
type Task struct {
	Title       string
	Description string
	Priority    string
	Status      string
	Assignee    string
	Due         string
	Tags        []string
	SourceURL   string
	AISummary   string
	Metadata    map[string]string
}

// Page is the subset of a page response the pipeline uses.
type Page struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type queryResponse struct {
	Results    []Page `json:"results"`
	HasMore    bool   `json:"has_more"`
	NextCursor string `json:"next_cursor"`
}

// Client talks to one tenant's task database.
type Client struct {
	baseURL    string
	token      string
	http       *http.Client
	breaker    *resilience.CircuitBreaker
	limiter    *resilience.Limiter
	retry      resilience.RetryConfig
	duplicates *resilience.Cache[string, string]
	logger     *slog.Logger
}

// Option customises client construction.
type Option func(*Client)

// WithBaseURL targets a custom API base URL, for tests.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimSuffix(u, "/") }
}

// NewClient creates a task-DB client. Empty or placeholder tokens are
// rejected.
func NewClient(token string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(token)
	lower := strings.ToLower(trimmed)
	if trimmed == "" || strings.Contains(lower, "placeholder") || strings.HasPrefix(lower, "your-") {
		return nil, fmt.Errorf("notion token is empty or a placeholder")
	}

	c := &Client{
		baseURL:    defaultBaseURL,
		token:      trimmed,
		http:       &http.Client{Timeout: 30 * time.Second},
		breaker:    resilience.NewCircuitBreaker("notion", resilience.DefaultBreakerConfig()),
		limiter:    resilience.NewLimiter(rateCapacity, ratePerSecond),
		retry:      resilience.DefaultRetryConfig(),
		duplicates: resilience.NewCache[string, string](duplicateCacheSize, duplicateCacheTTL),
		logger:     slog.Default().With("component", "notion-client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Close releases the client's background resources.
func (c *Client) Close() {
	c.duplicates.Close()
}

// CreatePage creates one page for task in databaseID, mapping fields per
// the tenant's mapping.
func (c *Client) CreatePage(ctx context.Context, databaseID string, task Task, mapping models.FieldMapping) (*Page, error) {
	return call(ctx, c, func(ctx context.Context) (*Page, error) {
		body := map[string]any{
			"parent":     map[string]string{"database_id": databaseID},
			"properties": buildProperties(task, mapping),
		}
		if children := buildPageBlocks(task); len(children) > 0 {
			body["children"] = children
		}
		var page Page
		if err := c.do(ctx, http.MethodPost, "/pages", body, &page); err != nil {
			return nil, err
		}
		return &page, nil
	})
}

// UpdatePage patches the properties of an existing page.
func (c *Client) UpdatePage(ctx context.Context, pageID string, task Task, mapping models.FieldMapping) (*Page, error) {
	return call(ctx, c, func(ctx context.Context) (*Page, error) {
		body := map[string]any{"properties": buildProperties(task, mapping)}
		var page Page
		if err := c.do(ctx, http.MethodPatch, "/pages/"+pageID, body, &page); err != nil {
			return nil, err
		}
		return &page, nil
	})
}

// QueryDatabase runs one filtered query page, returning results plus the
// next cursor ("" when exhausted). filter may be nil.
func (c *Client) QueryDatabase(ctx context.Context, databaseID string, filter map[string]any, startCursor string) ([]Page, string, error) {
	type result struct {
		pages  []Page
		cursor string
	}
	r, err := call(ctx, c, func(ctx context.Context) (result, error) {
		body := map[string]any{}
		if filter != nil {
			body["filter"] = filter
		}
		if startCursor != "" {
			body["start_cursor"] = startCursor
		}
		var resp queryResponse
		if err := c.do(ctx, http.MethodPost, "/databases/"+databaseID+"/query", body, &resp); err != nil {
			return result{}, err
		}
		cursor := ""
		if resp.HasMore {
			cursor = resp.NextCursor
		}
		return result{pages: resp.Results, cursor: cursor}, nil
	})
	return r.pages, r.cursor, err
}

// RetrieveDatabase fetches the database object, which doubles as the
// connection test.
func (c *Client) RetrieveDatabase(ctx context.Context, databaseID string) error {
	_, err := call(ctx, c, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.do(ctx, http.MethodGet, "/databases/"+databaseID, nil, nil)
	})
	return err
}

// FindDuplicateByURL returns the id of an existing page whose mapped
// source-url field equals sourceURL, or "" when none exists. Both outcomes
// are cached.
func (c *Client) FindDuplicateByURL(ctx context.Context, databaseID, sourceURL string, mapping models.FieldMapping) (string, error) {
	if mapping.SourceURL == "" || sourceURL == "" {
		return "", nil
	}
	cacheKey := databaseID + "|" + sourceURL
	if pageID, ok := c.duplicates.Get(cacheKey); ok {
		return pageID, nil
	}

	filter := map[string]any{
		"property": mapping.SourceURL,
		"url":      map[string]string{"equals": sourceURL},
	}
	cursor := ""
	for {
		pages, next, err := c.QueryDatabase(ctx, databaseID, filter, cursor)
		if err != nil {
			return "", err
		}
		if len(pages) > 0 {
			c.duplicates.Set(cacheKey, pages[0].ID)
			return pages[0].ID, nil
		}
		if next == "" {
			break
		}
		cursor = next
	}
	c.duplicates.Set(cacheKey, "")
	return "", nil
}

// CreateTasks creates one page per task, in order, spaced by the rate
// limiter. On the first failure it stops and reports the pages created so
// far in the error.
func (c *Client) CreateTasks(ctx context.Context, databaseID string, tasks []Task, mapping models.FieldMapping) ([]string, error) {
	created := make([]string, 0, len(tasks))
	for i, task := range tasks {
		page, err := c.CreatePage(ctx, databaseID, task, mapping)
		if err != nil {
			return created, fmt.Errorf("creating task %d of %d (created so far: %v): %w", i+1, len(tasks), created, err)
		}
		created = append(created, page.ID)
	}
	return created, nil
}

// call composes the resilience stack around one API invocation.
func call[T any](ctx context.Context, c *Client, fn func(ctx context.Context) (T, error)) (T, error) {
	return resilience.RetryWithResult(ctx, c.retry, func(ctx context.Context) (T, error) {
		return resilience.ExecuteFunc(c.breaker, ctx, func(ctx context.Context) (T, error) {
			var zero T
			if err := c.limiter.Wait(ctx); err != nil {
				return zero, err
			}
			return fn(ctx)
		})
	})
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Notion-Version", notionVersion)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s %s response: %w", method, path, err)
	}
	return nil
}
