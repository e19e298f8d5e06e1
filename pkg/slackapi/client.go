// Package slackapi wraps the slack-go SDK with the shared resilience stack.
// One client is constructed per tenant operation with that tenant's
// decrypted bot token; clients are never shared across tenants.
package slackapi

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	goslack "github.com/slack-go/slack"

	"github.com/threadsync/threadsync/pkg/models"
	"github.com/threadsync/threadsync/pkg/resilience"
)

const (
	threadCacheSize = 128
	threadCacheTTL  = 30 * time.Second

	// Slack Web API tier 3: ~50 requests per minute.
	rateCapacity  = 10
	ratePerSecond = 0.8
)

// Client is the chat-platform client. Every public method runs through
// retry, circuit breaker, and rate limiter in that order.
type Client struct {
	api     *goslack.Client
	breaker *resilience.CircuitBreaker
	limiter *resilience.Limiter
	retry   resilience.RetryConfig
	threads *resilience.Cache[string, *models.Thread]
	logger  *slog.Logger
}

// Option customises client construction.
type Option func(*options)

type options struct {
	apiURL string
}

// WithAPIURL targets a custom API base URL. Useful for testing with a mock
// server.
func WithAPIURL(url string) Option {
	return func(o *options) { o.apiURL = url }
}

// NewClient creates a chat client for the given bot token. Empty or
// placeholder tokens are rejected.
func NewClient(token string, opts ...Option) (*Client, error) {
	if err := checkToken(token); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	sdkOpts := []goslack.Option{}
	if o.apiURL != "" {
		sdkOpts = append(sdkOpts, goslack.OptionAPIURL(o.apiURL))
	}

	return &Client{
		api:     goslack.New(token, sdkOpts...),
		breaker: resilience.NewCircuitBreaker("slack", resilience.DefaultBreakerConfig()),
		limiter: resilience.NewLimiter(rateCapacity, ratePerSecond),
		retry:   resilience.DefaultRetryConfig(),
		threads: resilience.NewCache[string, *models.Thread](threadCacheSize, threadCacheTTL),
		logger:  slog.Default().With("component", "slack-client"),
	}, nil
}

func checkToken(token string) error {
	trimmed := strings.TrimSpace(token)
	lower := strings.ToLower(trimmed)
	if trimmed == "" || strings.Contains(lower, "placeholder") || strings.HasPrefix(lower, "your-") || lower == "changeme" {
		return fmt.Errorf("slack token is empty or a placeholder")
	}
	return nil
}

// Close releases the client's background resources.
func (c *Client) Close() {
	c.threads.Close()
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

// FetchThread returns the conversation rooted at threadTS in channelID,
// serving repeat lookups from a short-lived cache.
func (c *Client) FetchThread(ctx context.Context, channelID, threadTS string) (*models.Thread, error) {
	cacheKey := channelID + ":" + threadTS
	if thread, ok := c.threads.Get(cacheKey); ok {
		return thread, nil
	}

	msgs, err := call(ctx, c, func(ctx context.Context) ([]goslack.Message, error) {
		var all []goslack.Message
		params := &goslack.GetConversationRepliesParameters{
			ChannelID: channelID,
			Timestamp: threadTS,
			Limit:     200,
		}
		for {
			page, hasMore, nextCursor, err := c.api.GetConversationRepliesContext(ctx, params)
			if err != nil {
				return nil, fmt.Errorf("conversations.replies failed: %w", err)
			}
			all = append(all, page...)
			if !hasMore {
				return all, nil
			}
			params.Cursor = nextCursor
		}
	})
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("thread %s not found in channel %s", threadTS, channelID)
	}

	thread := buildThread(threadTS, channelID, msgs)
	c.threads.Set(cacheKey, thread)
	return thread, nil
}

// PostMessage posts text into channelID, threaded under threadTS when
// non-empty. Returns the posted message's timestamp.
func (c *Client) PostMessage(ctx context.Context, channelID, threadTS, text string) (string, error) {
	return call(ctx, c, func(ctx context.Context) (string, error) {
		opts := []goslack.MsgOption{goslack.MsgOptionText(text, false)}
		if threadTS != "" {
			opts = append(opts, goslack.MsgOptionTS(threadTS))
		}
		_, ts, err := c.api.PostMessageContext(ctx, channelID, opts...)
		if err != nil {
			return "", fmt.Errorf("chat.postMessage failed: %w", err)
		}
		return ts, nil
	})
}

// AddReaction adds the named reaction to the message at (channelID, ts).
// An already-present reaction is not an error.
func (c *Client) AddReaction(ctx context.Context, name, channelID, ts string) error {
	_, err := call(ctx, c, func(ctx context.Context) (struct{}, error) {
		err := c.api.AddReactionContext(ctx, name, goslack.NewRefToMessage(channelID, ts))
		if isIdempotentReactionErr(err) {
			err = nil
		}
		if err != nil {
			err = fmt.Errorf("reactions.add %q failed: %w", name, err)
		}
		return struct{}{}, err
	})
	return err
}

// RemoveReaction removes the named reaction from the message at
// (channelID, ts). An absent reaction is not an error.
func (c *Client) RemoveReaction(ctx context.Context, name, channelID, ts string) error {
	_, err := call(ctx, c, func(ctx context.Context) (struct{}, error) {
		err := c.api.RemoveReactionContext(ctx, name, goslack.NewRefToMessage(channelID, ts))
		if isIdempotentReactionErr(err) {
			err = nil
		}
		if err != nil {
			err = fmt.Errorf("reactions.remove %q failed: %w", name, err)
		}
		return struct{}{}, err
	})
	return err
}

// AuthTest verifies the token against auth.test.
func (c *Client) AuthTest(ctx context.Context) error {
	_, err := call(ctx, c, func(ctx context.Context) (struct{}, error) {
		if _, err := c.api.AuthTestContext(ctx); err != nil {
			return struct{}{}, fmt.Errorf("auth.test failed: %w", err)
		}
		return struct{}{}, nil
	})
	return err
}

// Reactions are idempotent from the caller's perspective.
func isIdempotentReactionErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "already_reacted") || strings.Contains(msg, "no_reaction")
}

func buildThread(threadTS, channelID string, msgs []goslack.Message) *models.Thread {
	messages := make([]models.ThreadMessage, 0, len(msgs))
	var participants []string
	seen := map[string]bool{}

	for _, msg := range msgs {
		messages = append(messages, convertMessage(msg))
		if msg.User != "" && !seen[msg.User] {
			seen[msg.User] = true
			participants = append(participants, msg.User)
		}
	}

	return &models.Thread{
		ID:           threadTS,
		Root:         messages[0],
		Replies:      messages[1:],
		Participants: participants,
		Metadata:     models.MetadataMap{"channel_id": channelID},
	}
}

func convertMessage(msg goslack.Message) models.ThreadMessage {
	out := models.ThreadMessage{
		ID:        msg.Timestamp,
		Author:    msg.User,
		Content:   msg.Text,
		Timestamp: parseSlackTS(msg.Timestamp),
	}
	for _, f := range msg.Files {
		kind := models.AttachmentFile
		if strings.HasPrefix(f.Mimetype, "image/") {
			kind = models.AttachmentImage
		}
		out.Attachments = append(out.Attachments, models.Attachment{
			ID:   f.ID,
			Kind: kind,
			URL:  f.URLPrivate,
			Name: f.Name,
			Mime: f.Mimetype,
		})
	}
	return out
}

// parseSlackTS converts a "seconds.fraction" Slack timestamp to a time.
// Unparseable input yields the zero time.
func parseSlackTS(ts string) time.Time {
	secStr, _, _ := strings.Cut(ts, ".")
	sec, err := strconv.ParseInt(secStr, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
