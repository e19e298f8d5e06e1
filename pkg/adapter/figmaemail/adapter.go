// Package figmaemail implements the source adapter for Figma comment
// notifications forwarded as email by the mail provider.
package figmaemail

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/threadsync/threadsync/pkg/adapter"
	"github.com/threadsync/threadsync/pkg/crypto"
	"github.com/threadsync/threadsync/pkg/extractor"
	"github.com/threadsync/threadsync/pkg/figma"
	"github.com/threadsync/threadsync/pkg/models"
)

// Tag is the adapter's registry tag.
const Tag = "figma_email"

// DefaultTenant is used when the recipient address carries no tenant slug.
const DefaultTenant = "default"

const (
	watchingGlyph = ":eyes:"
	checkGlyph    = ":white_check_mark:"
	crossGlyph    = ":x:"
)

// Adapter ingests emailed comment notifications and talks back through the
// design-platform client.
type Adapter struct {
	enc    *crypto.Encryptor
	logger *slog.Logger

	// newClient is swapped in tests.
	newClient func(token string) (*figma.Client, error)
}

// New creates the adapter.
func New(enc *crypto.Encryptor) *Adapter {
	return &Adapter{
		enc:    enc,
		logger: slog.Default().With("component", "figma-adapter"),
		newClient: func(token string) (*figma.Client, error) {
			return figma.NewClient(token)
		},
	}
}

// Factory returns the registry factory for this adapter.
func Factory() adapter.Factory {
	return func(enc *crypto.Encryptor) adapter.SourceAdapter { return New(enc) }
}

// SourceType returns the registry tag.
func (a *Adapter) SourceType() string { return Tag }

// ParseIncoming runs the HTML extractor over the forwarded email. The
// tenant is the slug in the recipient's local part, falling back to
// "default" when the address carries none.
func (a *Adapter) ParseIncoming(ctx context.Context, payload map[string]any) (*models.ParsedDiscussion, error) {
	html, _ := payload["body-html"].(string)
	if html == "" {
		return nil, fmt.Errorf("payload missing body-html")
	}
	sender, _ := payload["sender"].(string)
	if sender == "" {
		sender, _ = payload["from"].(string)
	}
	if sender == "" {
		return nil, fmt.Errorf("payload missing sender")
	}
	recipient, _ := payload["recipient"].(string)
	subject, _ := payload["subject"].(string)

	tenant := tenantFromRecipient(recipient)
	extracted, err := extractor.Extract(extractor.Email{
		HTMLBody:  html,
		Sender:    sender,
		Recipient: recipient,
		Subject:   subject,
	}, tenantBotName(tenant))
	if err != nil {
		return nil, fmt.Errorf("extracting comment from email: %w", err)
	}

	threadID := extracted.CommentID
	if threadID == "" {
		threadID = extracted.FileKey
	}

	author := extracted.AuthorName
	if author == "" {
		author = extracted.AuthorEmail
	}

	metadata := models.MetadataMap{
		"file_key":     extracted.FileKey,
		"comment_id":   extracted.CommentID,
		"file_name":    extracted.FileName,
		"author_email": extracted.AuthorEmail,
	}
	for key, value := range extracted.Metadata {
		metadata[key] = value
	}

	return &models.ParsedDiscussion{
		SourceType:     Tag,
		SourceThreadID: threadID,
		SourceURL:      extracted.SourceURL,
		Tenant:         tenant,
		Author:         author,
		Title:          titleFrom(extracted),
		Content:        extracted.CommentText,
		Participants:   []string{author},
		Metadata:       metadata,
	}, nil
}

// FetchThread assembles the comment thread. The file key comes from the
// config's effective metadata (merged from the discussion by the
// processor), falling back to the config's own file_key.
func (a *Adapter) FetchThread(ctx context.Context, threadID string, config *models.SourceConfig) (*models.Thread, error) {
	fileKey := config.Meta("file_key")
	if fileKey == "" {
		return nil, fmt.Errorf("config missing file_key metadata for thread %s", threadID)
	}
	client, err := a.client(config)
	if err != nil {
		return nil, err
	}
	defer client.Close()
	return client.FetchThread(ctx, figma.FileKeyFromURL(fileKey), threadID)
}

// PostReply posts message under the origin comment. Disabled configs
// return false without touching the remote.
func (a *Adapter) PostReply(ctx context.Context, threadID, message string, config *models.SourceConfig) (bool, error) {
	if !config.PostConfirmation {
		return false, nil
	}
	fileKey := config.Meta("file_key")
	if fileKey == "" {
		return false, fmt.Errorf("config missing file_key metadata for thread %s", threadID)
	}
	client, err := a.client(config)
	if err != nil {
		return false, err
	}
	defer client.Close()
	if _, err := client.PostReply(ctx, figma.FileKeyFromURL(fileKey), threadID, message); err != nil {
		return false, err
	}
	return true, nil
}

// UpdateStatus maps the status to a reaction glyph on the origin comment.
// pending and processing share the watching glyph, which is only added;
// moving to completed or failed removes the watching glyph first.
func (a *Adapter) UpdateStatus(ctx context.Context, threadID string, status models.Status, config *models.SourceConfig) (bool, error) {
	fileKey := config.Meta("file_key")
	if fileKey == "" {
		return false, fmt.Errorf("config missing file_key metadata for thread %s", threadID)
	}
	client, err := a.client(config)
	if err != nil {
		return false, err
	}
	defer client.Close()
	key := figma.FileKeyFromURL(fileKey)

	switch status {
	case models.StatusPending, models.StatusProcessing:
		if err := client.AddReaction(ctx, key, threadID, watchingGlyph); err != nil {
			return false, err
		}
	case models.StatusCompleted:
		if err := client.UpdateReaction(ctx, key, threadID, watchingGlyph, checkGlyph); err != nil {
			return false, err
		}
	case models.StatusFailed:
		if err := client.UpdateReaction(ctx, key, threadID, watchingGlyph, crossGlyph); err != nil {
			return false, err
		}
	default:
		return false, fmt.Errorf("no reaction glyph for status %q", status)
	}
	return true, nil
}

// ValidateConfig reports configuration problems without failing.
func (a *Adapter) ValidateConfig(config *models.SourceConfig) models.ValidationResult {
	var errs []string
	if config.APIToken == "" {
		errs = append(errs, "figma api token is required")
	} else if _, err := a.enc.Decrypt(config.APIToken); err != nil {
		errs = append(errs, "figma api token cannot be decrypted with the current master key")
	}
	if config.TaskDBToken == "" {
		errs = append(errs, "task database token is required")
	}
	if config.TaskDBID == "" {
		errs = append(errs, "task database id is required")
	}
	if len(errs) > 0 {
		return models.Invalid(errs...)
	}
	return models.ValidationResult{Valid: true}
}

// TestConnection checks that the token can read the configured file's
// comments. Without a file_key in the config metadata there is nothing to
// probe, which counts as a failure.
func (a *Adapter) TestConnection(ctx context.Context, config *models.SourceConfig) bool {
	fileKey := config.Meta("file_key")
	if fileKey == "" {
		return false
	}
	client, err := a.client(config)
	if err != nil {
		return false
	}
	defer client.Close()
	return client.TestConnection(ctx, figma.FileKeyFromURL(fileKey))
}

func (a *Adapter) client(config *models.SourceConfig) (*figma.Client, error) {
	token, err := a.enc.Decrypt(config.APIToken)
	if err != nil {
		return nil, fmt.Errorf("decrypting figma token: %w", err)
	}
	return a.newClient(token)
}

// tenantFromRecipient extracts the tenant slug from slug@host.
func tenantFromRecipient(recipient string) string {
	local, _, ok := strings.Cut(strings.TrimSpace(recipient), "@")
	if !ok || local == "" {
		return DefaultTenant
	}
	return local
}

// tenantBotName is the handle the extractor's highest-priority strategy
// looks for. Tenants are addressed by their slug in mentions.
func tenantBotName(tenant string) string {
	if tenant == DefaultTenant {
		return ""
	}
	return tenant
}

func titleFrom(extracted *extractor.Result) string {
	if extracted.FileName != "" {
		return "Comment on " + extracted.FileName
	}
	const max = 80
	title := extracted.CommentText
	if len(title) > max {
		title = title[:max]
	}
	return title
}
