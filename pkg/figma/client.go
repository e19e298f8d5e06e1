// Package figma is a typed client for the design-platform comment API,
// wrapped in the shared resilience stack.
package figma

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/threadsync/threadsync/pkg/resilience"
)

const (
	defaultBaseURL = "https://api.figma.com/v1"

	commentCacheSize = 64
	commentCacheTTL  = 30 * time.Second

	rateCapacity  = 5
	ratePerSecond = 1
)

var fileURLRe = regexp.MustCompile(`figma\.com/(?:file|design)/([A-Za-z0-9]+)`)

// Comment is one comment as returned by the API.
type Comment struct {
	ID        string      `json:"id"`
	FileKey   string      `json:"file_key"`
	ParentID  string      `json:"parent_id"`
	User      CommentUser `json:"user"`
	Message   string      `json:"message"`
	CreatedAt time.Time   `json:"created_at"`
}

// CommentUser identifies a comment author.
type CommentUser struct {
	ID     string `json:"id"`
	Handle string `json:"handle"`
	Email  string `json:"email,omitempty"`
}

type commentsResponse struct {
	Comments   []Comment `json:"comments"`
	NextCursor string    `json:"next_cursor,omitempty"`
}

// Client talks to the design platform on behalf of one tenant.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	breaker *resilience.CircuitBreaker
	limiter *resilience.Limiter
	retry   resilience.RetryConfig
	cache   *resilience.Cache[string, []Comment]
	logger  *slog.Logger
}

// Option customises client construction.
type Option func(*Client)

// WithBaseURL targets a custom API base URL, for tests.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimSuffix(u, "/") }
}

// NewClient creates a design-platform client. Empty or placeholder tokens
// are rejected.
func NewClient(token string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(token)
	lower := strings.ToLower(trimmed)
	if trimmed == "" || strings.Contains(lower, "placeholder") || strings.HasPrefix(lower, "your-") {
		return nil, fmt.Errorf("figma token is empty or a placeholder")
	}

	c := &Client{
		baseURL: defaultBaseURL,
		token:   trimmed,
		http:    &http.Client{Timeout: 30 * time.Second},
		breaker: resilience.NewCircuitBreaker("figma", resilience.DefaultBreakerConfig()),
		limiter: resilience.NewLimiter(rateCapacity, ratePerSecond),
		retry:   resilience.DefaultRetryConfig(),
		cache:   resilience.NewCache[string, []Comment](commentCacheSize, commentCacheTTL),
		logger:  slog.Default().With("component", "figma-client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Close releases the client's background resources.
func (c *Client) Close() {
	c.cache.Close()
}

// FileKeyFromURL extracts the opaque file key from a file or design deep
// link. Inputs that do not look like URLs are returned unchanged.
func FileKeyFromURL(input string) string {
	if m := fileURLRe.FindStringSubmatch(input); m != nil {
		return m[1]
	}
	return strings.TrimSpace(input)
}

// ListComments returns every comment on the file, following pagination
// cursors, with a short-lived cache in front.
func (c *Client) ListComments(ctx context.Context, fileKey string) ([]Comment, error) {
	if comments, ok := c.cache.Get(fileKey); ok {
		return comments, nil
	}

	comments, err := call(ctx, c, func(ctx context.Context) ([]Comment, error) {
		var all []Comment
		cursor := ""
		for {
			path := fmt.Sprintf("/files/%s/comments", url.PathEscape(fileKey))
			if cursor != "" {
				path += "?cursor=" + url.QueryEscape(cursor)
			}
			var page commentsResponse
			if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
				return nil, err
			}
			all = append(all, page.Comments...)
			if page.NextCursor == "" {
				return all, nil
			}
			cursor = page.NextCursor
		}
	})
	if err != nil {
		return nil, err
	}
	c.cache.Set(fileKey, comments)
	return comments, nil
}

// PostReply posts message as a reply under the comment identified by
// parentID.
func (c *Client) PostReply(ctx context.Context, fileKey, parentID, message string) (*Comment, error) {
	return call(ctx, c, func(ctx context.Context) (*Comment, error) {
		body := map[string]string{"message": message, "comment_id": parentID}
		var created Comment
		path := fmt.Sprintf("/files/%s/comments", url.PathEscape(fileKey))
		if err := c.do(ctx, http.MethodPost, path, body, &created); err != nil {
			return nil, err
		}
		c.cache.Delete(fileKey)
		return &created, nil
	})
}

// AddReaction adds emoji to the comment.
func (c *Client) AddReaction(ctx context.Context, fileKey, commentID, emoji string) error {
	_, err := call(ctx, c, func(ctx context.Context) (struct{}, error) {
		path := fmt.Sprintf("/files/%s/comments/%s/reactions", url.PathEscape(fileKey), url.PathEscape(commentID))
		return struct{}{}, c.do(ctx, http.MethodPost, path, map[string]string{"emoji": emoji}, nil)
	})
	return err
}

// RemoveReaction removes emoji from the comment. A reaction that is not
// present is not an error.
func (c *Client) RemoveReaction(ctx context.Context, fileKey, commentID, emoji string) error {
	_, err := call(ctx, c, func(ctx context.Context) (struct{}, error) {
		path := fmt.Sprintf("/files/%s/comments/%s/reactions?emoji=%s",
			url.PathEscape(fileKey), url.PathEscape(commentID), url.QueryEscape(emoji))
		err := c.do(ctx, http.MethodDelete, path, nil, nil)
		if err != nil && strings.Contains(err.Error(), "404") {
			err = nil
		}
		return struct{}{}, err
	})
	return err
}

// UpdateReaction swaps oldEmoji for newEmoji on the comment.
func (c *Client) UpdateReaction(ctx context.Context, fileKey, commentID, oldEmoji, newEmoji string) error {
	if oldEmoji != "" {
		if err := c.RemoveReaction(ctx, fileKey, commentID, oldEmoji); err != nil {
			return err
		}
	}
	return c.AddReaction(ctx, fileKey, commentID, newEmoji)
}

// TestConnection checks that the token can read the file's comments.
func (c *Client) TestConnection(ctx context.Context, fileKey string) bool {
	_, err := c.ListComments(ctx, fileKey)
	return err == nil
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

// do performs one HTTP request against the API, decoding the JSON response
// into out when out is non-nil.
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
	req.Header.Set("X-Figma-Token", c.token)
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
