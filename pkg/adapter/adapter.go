// Package adapter defines the uniform contract every collaboration source
// implements, plus the registry that maps source-type tags to adapter
// factories.
package adapter

import (
	"context"
	"errors"

	"github.com/threadsync/threadsync/pkg/crypto"
	"github.com/threadsync/threadsync/pkg/models"
)

// ErrIgnoreEvent is returned by ParseIncoming for payloads the source
// delivers but the adapter does not ingest (wrong inner event type, bot
// echoes). Ingress acknowledges these with a no-op 200.
var ErrIgnoreEvent = errors.New("event ignored by adapter")

// SourceAdapter is the capability set every source implements. Adapters are
// cheap to construct and hold no plaintext credential beyond a single
// operation's call stack: each operation decrypts what it needs from the
// config and discards it on return.
type SourceAdapter interface {
	// SourceType returns the adapter's registry tag.
	SourceType() string

	// ParseIncoming converts a verified raw webhook payload into a
	// ParsedDiscussion. It fails fast on structural mismatches with an
	// error naming the missing field, and returns ErrIgnoreEvent for
	// payload shapes the adapter deliberately skips.
	ParseIncoming(ctx context.Context, payload map[string]any) (*models.ParsedDiscussion, error)

	// FetchThread retrieves the full conversation rooted at threadID.
	FetchThread(ctx context.Context, threadID string, config *models.SourceConfig) (*models.Thread, error)

	// PostReply posts message into the thread. When the config's
	// PostConfirmation flag is off it returns false without calling the
	// remote.
	PostReply(ctx context.Context, threadID, message string, config *models.SourceConfig) (bool, error)

	// UpdateStatus translates status into the source's wire gesture,
	// removing the gesture for any prior status first.
	UpdateStatus(ctx context.Context, threadID string, status models.Status, config *models.SourceConfig) (bool, error)

	// ValidateConfig checks the config for this source. It never fails;
	// problems are reported in the result.
	ValidateConfig(config *models.SourceConfig) models.ValidationResult

	// TestConnection reports whether the config's credentials reach the
	// upstream. It never fails; any error is a false.
	TestConnection(ctx context.Context, config *models.SourceConfig) bool
}

// Factory builds a fresh adapter instance. The encryptor is how adapters
// get at the config's stored credentials.
type Factory func(enc *crypto.Encryptor) SourceAdapter
