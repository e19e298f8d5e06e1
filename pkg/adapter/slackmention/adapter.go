// Package slackmention implements the source adapter for Slack app-mention
// events.
package slackmention

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/threadsync/threadsync/pkg/adapter"
	"github.com/threadsync/threadsync/pkg/crypto"
	"github.com/threadsync/threadsync/pkg/models"
	"github.com/threadsync/threadsync/pkg/slackapi"
)

// Tag is the adapter's registry tag.
const Tag = "slack_mention"

var botMentionRe = regexp.MustCompile(`^\s*(<@[A-Z0-9]+>\s*)+`)

// Status reactions. One glyph carries the current status; peers are removed
// before a new one is added.
var statusGlyphs = map[models.Status]string{
	models.StatusPending:    "clock1",
	models.StatusProcessing: "hourglass",
	models.StatusCompleted:  "white_check_mark",
	models.StatusFailed:     "x",
}

// Adapter ingests Slack event-subscription payloads and talks back through
// the chat client.
type Adapter struct {
	enc    *crypto.Encryptor
	logger *slog.Logger

	// newClient is swapped in tests.
	newClient func(token string) (*slackapi.Client, error)
}

// New creates the adapter.
func New(enc *crypto.Encryptor) *Adapter {
	return &Adapter{
		enc:    enc,
		logger: slog.Default().With("component", "slack-adapter"),
		newClient: func(token string) (*slackapi.Client, error) {
			return slackapi.NewClient(token)
		},
	}
}

// Factory returns the registry factory for this adapter.
func Factory() adapter.Factory {
	return func(enc *crypto.Encryptor) adapter.SourceAdapter { return New(enc) }
}

// SourceType returns the registry tag.
func (a *Adapter) SourceType() string { return Tag }

// ParseIncoming accepts event_callback payloads whose inner event is an
// app_mention; every other inner type is an acknowledged no-op. Replies in
// an existing thread aggregate to the thread root via thread_ts.
func (a *Adapter) ParseIncoming(ctx context.Context, payload map[string]any) (*models.ParsedDiscussion, error) {
	event, ok := payload["event"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("payload missing event object")
	}
	if eventType, _ := event["type"].(string); eventType != "app_mention" {
		return nil, fmt.Errorf("%w: inner type %q", adapter.ErrIgnoreEvent, event["type"])
	}

	teamID, _ := payload["team_id"].(string)
	if teamID == "" {
		return nil, fmt.Errorf("payload missing team_id")
	}
	user, _ := event["user"].(string)
	if user == "" {
		return nil, fmt.Errorf("event missing user")
	}
	channel, _ := event["channel"].(string)
	if channel == "" {
		return nil, fmt.Errorf("event missing channel")
	}
	ts, _ := event["ts"].(string)
	if ts == "" {
		return nil, fmt.Errorf("event missing ts")
	}

	threadTS, _ := event["thread_ts"].(string)
	if threadTS == "" {
		threadTS = ts
	}

	text, _ := event["text"].(string)
	text = strings.TrimSpace(botMentionRe.ReplaceAllString(text, ""))

	eventID, _ := payload["event_id"].(string)
	eventTS, _ := event["event_ts"].(string)

	return &models.ParsedDiscussion{
		SourceType:     Tag,
		SourceThreadID: threadTS,
		SourceURL:      archiveLink(channel, ts),
		Tenant:         teamID,
		EventID:        eventID,
		Author:         user,
		Title:          titleFrom(text),
		Content:        text,
		Participants:   []string{user},
		Timestamp:      slackTime(ts),
		Metadata: models.MetadataMap{
			"channel_id": channel,
			"message_ts": ts,
			"event_ts":   eventTS,
		},
	}, nil
}

// FetchThread pulls the conversation for threadID. The channel id comes
// from the config's effective metadata (the processor merges the
// discussion's metadata in before the call).
func (a *Adapter) FetchThread(ctx context.Context, threadID string, config *models.SourceConfig) (*models.Thread, error) {
	channel := config.Meta("channel_id")
	if channel == "" {
		return nil, fmt.Errorf("config missing channel_id metadata for thread %s", threadID)
	}
	client, err := a.client(config)
	if err != nil {
		return nil, err
	}
	defer client.Close()
	return client.FetchThread(ctx, channel, threadID)
}

// PostReply posts message under the thread. Disabled configs return false
// without touching the remote.
func (a *Adapter) PostReply(ctx context.Context, threadID, message string, config *models.SourceConfig) (bool, error) {
	if !config.PostConfirmation {
		return false, nil
	}
	channel := config.Meta("channel_id")
	if channel == "" {
		return false, fmt.Errorf("config missing channel_id metadata for thread %s", threadID)
	}
	client, err := a.client(config)
	if err != nil {
		return false, err
	}
	defer client.Close()
	if _, err := client.PostMessage(ctx, channel, threadID, message); err != nil {
		return false, err
	}
	return true, nil
}

// UpdateStatus swaps the status reaction on the mentioned message. Peer
// glyph removal failures are tolerated; only the add matters.
func (a *Adapter) UpdateStatus(ctx context.Context, threadID string, status models.Status, config *models.SourceConfig) (bool, error) {
	glyph, ok := statusGlyphs[status]
	if !ok {
		return false, fmt.Errorf("no reaction glyph for status %q", status)
	}
	channel := config.Meta("channel_id")
	if channel == "" {
		return false, fmt.Errorf("config missing channel_id metadata for thread %s", threadID)
	}
	ts := config.Meta("message_ts")
	if ts == "" {
		ts = threadID
	}

	client, err := a.client(config)
	if err != nil {
		return false, err
	}
	defer client.Close()

	for peerStatus, peer := range statusGlyphs {
		if peerStatus == status {
			continue
		}
		if err := client.RemoveReaction(ctx, peer, channel, ts); err != nil {
			a.logger.Debug("Removing peer reaction failed", "glyph", peer, "error", err)
		}
	}
	if err := client.AddReaction(ctx, glyph, channel, ts); err != nil {
		return false, err
	}
	return true, nil
}

// ValidateConfig reports configuration problems without failing.
func (a *Adapter) ValidateConfig(config *models.SourceConfig) models.ValidationResult {
	var errs []string
	if config.APIToken == "" {
		errs = append(errs, "slack bot token is required")
	} else if _, err := a.enc.Decrypt(config.APIToken); err != nil {
		errs = append(errs, "slack bot token cannot be decrypted with the current master key")
	}
	if config.TaskDBToken == "" {
		errs = append(errs, "task database token is required")
	}
	if config.TaskDBID == "" {
		errs = append(errs, "task database id is required")
	}
	if config.Meta("workspace_id") == "" {
		errs = append(errs, "workspace_id metadata is required")
	}
	if len(errs) > 0 {
		return models.Invalid(errs...)
	}
	return models.ValidationResult{Valid: true}
}

// TestConnection checks the bot token against auth.test.
func (a *Adapter) TestConnection(ctx context.Context, config *models.SourceConfig) bool {
	client, err := a.client(config)
	if err != nil {
		return false
	}
	defer client.Close()
	return client.AuthTest(ctx) == nil
}

// client decrypts the config's bot token and builds a per-operation chat
// client. The plaintext token does not outlive the call.
func (a *Adapter) client(config *models.SourceConfig) (*slackapi.Client, error) {
	token, err := a.enc.Decrypt(config.APIToken)
	if err != nil {
		return nil, fmt.Errorf("decrypting slack token: %w", err)
	}
	return a.newClient(token)
}

func titleFrom(text string) string {
	const max = 80
	title := strings.TrimSpace(text)
	if idx := strings.IndexByte(title, '\n'); idx >= 0 {
		title = title[:idx]
	}
	if len(title) > max {
		title = title[:max]
	}
	return title
}

func archiveLink(channel, ts string) string {
	return fmt.Sprintf("https://slack.com/archives/%s/p%s", channel, strings.ReplaceAll(ts, ".", ""))
}

func slackTime(ts string) time.Time {
	secStr, _, _ := strings.Cut(ts, ".")
	sec, err := strconv.ParseInt(secStr, 10, 64)
	if err != nil {
		return time.Now().UTC()
	}
	return time.Unix(sec, 0).UTC()
}
