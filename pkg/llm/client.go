// Package llm enriches discussions with model-generated summaries and task
// detection. Results are cached per thread or comment so retries and
// duplicate webhooks do not re-bill the same analysis.
package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/threadsync/threadsync/pkg/models"
	"github.com/threadsync/threadsync/pkg/resilience"
)

const (
	defaultModel     = "claude-sonnet-4-20250514"
	defaultMaxTokens = 2048

	cacheSize = 256
	cacheTTL  = 30 * time.Minute

	rateCapacity  = 4
	ratePerSecond = 0.5
)

// MessagesClient is the slice of the SDK the client depends on. Tests
// substitute a fake.
type MessagesClient interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// SummaryResult is the output of GenerateSummary.
type SummaryResult struct {
	Summary          string   `json:"summary"`
	KeyPoints        []string `json:"keyPoints"`
	SuggestedActions []string `json:"suggestedActions,omitempty"`
	Cached           bool     `json:"-"`
}

// DetectedTask is one actionable item found in a comment.
type DetectedTask struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
}

// DetectionResult is the output of DetectTasks.
type DetectionResult struct {
	IsMultiTask    bool           `json:"isMultiTask"`
	Tasks          []DetectedTask `json:"tasks"`
	OverallContext string         `json:"overallContext"`
	Cached         bool           `json:"-"`
}

// Client calls the model API behind the shared resilience stack.
type Client struct {
	messages   MessagesClient
	model      anthropic.Model
	breaker    *resilience.CircuitBreaker
	limiter    *resilience.Limiter
	retry      resilience.RetryConfig
	summaries  *resilience.Cache[string, SummaryResult]
	detections *resilience.Cache[string, DetectionResult]
	logger     *slog.Logger
}

// Option customises client construction.
type Option func(*Client)

// WithModel overrides the default model.
func WithModel(model string) Option {
	return func(c *Client) { c.model = anthropic.Model(model) }
}

// WithMessagesClient substitutes the underlying SDK surface, for tests.
func WithMessagesClient(mc MessagesClient) Option {
	return func(c *Client) { c.messages = mc }
}

// NewClient creates an LLM client for the given API key. Empty or
// placeholder keys are rejected.
func NewClient(apiKey string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(apiKey)
	lower := strings.ToLower(trimmed)
	if trimmed == "" || strings.Contains(lower, "placeholder") || strings.HasPrefix(lower, "your-") {
		return nil, fmt.Errorf("llm api key is empty or a placeholder")
	}

	sdk := anthropic.NewClient(option.WithAPIKey(trimmed))
	c := &Client{
		messages:   &sdk.Messages,
		model:      defaultModel,
		breaker:    resilience.NewCircuitBreaker("llm", resilience.DefaultBreakerConfig()),
		limiter:    resilience.NewLimiter(rateCapacity, ratePerSecond),
		retry:      resilience.DefaultRetryConfig(),
		summaries:  resilience.NewCache[string, SummaryResult](cacheSize, cacheTTL),
		detections: resilience.NewCache[string, DetectionResult](cacheSize, cacheTTL),
		logger:     slog.Default().With("component", "llm-client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Close releases the client's background resources.
func (c *Client) Close() {
	c.summaries.Close()
	c.detections.Close()
}

// GenerateSummary summarises a thread. The cache key is the ordered set of
// message ids, so an unchanged thread is served from cache with Cached set.
func (c *Client) GenerateSummary(ctx context.Context, thread *models.Thread, fileName, customPrompt string) (*SummaryResult, error) {
	key := hashKey(strings.Join(thread.MessageIDs(), "\n"))
	if cached, ok := c.summaries.Get(key); ok {
		cached.Cached = true
		return &cached, nil
	}

	text, err := c.complete(ctx, summarySystemPrompt, summaryUserPrompt(thread, fileName, customPrompt))
	if err != nil {
		return nil, fmt.Errorf("generating summary: %w", err)
	}

	result := parseSummary(text)
	c.summaries.Set(key, result)
	return &result, nil
}

// DetectTasks extracts actionable tasks from a comment. The cache key is
// the comment text. Malformed model output never fails the call: it
// degrades to a single task wrapping the original comment.
func (c *Client) DetectTasks(ctx context.Context, commentText, threadContext, fileName, customPrompt string) (*DetectionResult, error) {
	key := hashKey(commentText)
	if cached, ok := c.detections.Get(key); ok {
		cached.Cached = true
		return &cached, nil
	}

	text, err := c.complete(ctx, detectSystemPrompt, detectUserPrompt(commentText, threadContext, fileName, customPrompt))
	if err != nil {
		return nil, fmt.Errorf("detecting tasks: %w", err)
	}

	result := parseDetection(text, commentText)
	c.detections.Set(key, result)
	return &result, nil
}

// complete runs one prompt through the resilience stack and returns the
// concatenated text blocks of the response.
func (c *Client) complete(ctx context.Context, system, user string) (string, error) {
	msg, err := resilience.RetryWithResult(ctx, c.retry, func(ctx context.Context) (*anthropic.Message, error) {
		return resilience.ExecuteFunc(c.breaker, ctx, func(ctx context.Context) (*anthropic.Message, error) {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
			return c.messages.New(ctx, anthropic.MessageNewParams{
				Model:     c.model,
				MaxTokens: defaultMaxTokens,
				System:    []anthropic.TextBlockParam{{Text: system}},
				Messages: []anthropic.MessageParam{
					anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
				},
			})
		})
	})
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		sb.WriteString(block.Text)
	}
	return sb.String(), nil
}

func hashKey(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}
