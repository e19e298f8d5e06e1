package figmaemail

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadsync/threadsync/pkg/crypto"
	"github.com/threadsync/threadsync/pkg/figma"
	"github.com/threadsync/threadsync/pkg/models"
)

func newTestAdapter(t *testing.T) (*Adapter, *crypto.Encryptor) {
	t.Helper()
	enc, err := crypto.NewEncryptor("figma-adapter-test-key")
	require.NoError(t, err)
	return New(enc), enc
}

func emailPayload(recipient string) map[string]any {
	return map[string]any{
		"sender":    `Figma Comments <comments@figma.com>`,
		"recipient": recipient,
		"subject":   `New comment on "Checkout flow"`,
		"body-html": `<html><body>
			<table><tr><td>@acme restore the coupon field before launch</td></tr></table>
			<a href="https://www.figma.com/file/CheckoutKey12345/Checkout?node-id=2#comment-55">View comment</a>
		</body></html>`,
	}
}

func TestParseIncoming(t *testing.T) {
	a, _ := newTestAdapter(t)

	parsed, err := a.ParseIncoming(context.Background(), emailPayload("acme@inbound.example.com"))
	require.NoError(t, err)

	assert.Equal(t, Tag, parsed.SourceType)
	assert.Equal(t, "acme", parsed.Tenant)
	assert.Equal(t, "55", parsed.SourceThreadID, "comment id roots the thread")
	assert.Contains(t, parsed.Content, "restore the coupon field")
	assert.Equal(t, "Comment on Checkout flow", parsed.Title)
	assert.Equal(t, "Figma Comments", parsed.Author)
	assert.Equal(t, "CheckoutKey12345", parsed.Metadata["file_key"])
	assert.Equal(t, "comments@figma.com", parsed.Metadata["author_email"])
}

func TestParseIncoming_DefaultTenant(t *testing.T) {
	a, _ := newTestAdapter(t)

	parsed, err := a.ParseIncoming(context.Background(), emailPayload(""))
	require.NoError(t, err)
	assert.Equal(t, DefaultTenant, parsed.Tenant)
}

func TestParseIncoming_MissingBody(t *testing.T) {
	a, _ := newTestAdapter(t)

	payload := emailPayload("acme@inbound.example.com")
	delete(payload, "body-html")
	_, err := a.ParseIncoming(context.Background(), payload)
	assert.ErrorContains(t, err, "body-html")
}

type reactionCall struct {
	method string
	emoji  string
}

// wireMockClient points the adapter at a local mock of the design API and
// records reaction traffic.
func wireMockClient(t *testing.T, a *Adapter) *reactionRecorder {
	t.Helper()
	rec := &reactionRecorder{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/files/KEY1/comments/55/reactions" {
			emoji := r.URL.Query().Get("emoji")
			if r.Method == http.MethodPost {
				var body map[string]string
				_ = json.NewDecoder(r.Body).Decode(&body)
				emoji = body["emoji"]
			}
			rec.add(r.Method, emoji)
			_, _ = w.Write([]byte(`{}`))
			return
		}
		_, _ = w.Write([]byte(`{"comments":[]}`))
	}))
	t.Cleanup(server.Close)

	a.newClient = func(token string) (*figma.Client, error) {
		client, err := figma.NewClient(token, figma.WithBaseURL(server.URL))
		if err != nil {
			return nil, err
		}
		return client, nil
	}
	return rec
}

type reactionRecorder struct {
	mu    sync.Mutex
	calls []reactionCall
}

func (r *reactionRecorder) add(method, emoji string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, reactionCall{method: method, emoji: emoji})
}

func (r *reactionRecorder) snapshot() []reactionCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]reactionCall(nil), r.calls...)
}

func testConfig(t *testing.T, enc *crypto.Encryptor, postConfirmation bool) *models.SourceConfig {
	t.Helper()
	token, err := enc.Encrypt("figd_tenant_token")
	require.NoError(t, err)
	return &models.SourceConfig{
		SourceType:       Tag,
		APIToken:         token,
		PostConfirmation: postConfirmation,
		Metadata:         models.MetadataMap{"file_key": "KEY1"},
	}
}

func TestUpdateStatus_GlyphTransitions(t *testing.T) {
	a, enc := newTestAdapter(t)
	config := testConfig(t, enc, true)

	t.Run("processing only adds the watching glyph", func(t *testing.T) {
		rec := wireMockClient(t, a)
		ok, err := a.UpdateStatus(context.Background(), "55", models.StatusProcessing, config)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, []reactionCall{{http.MethodPost, watchingGlyph}}, rec.snapshot())
	})

	t.Run("completed removes watching then adds check", func(t *testing.T) {
		rec := wireMockClient(t, a)
		ok, err := a.UpdateStatus(context.Background(), "55", models.StatusCompleted, config)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, []reactionCall{
			{http.MethodDelete, watchingGlyph},
			{http.MethodPost, checkGlyph},
		}, rec.snapshot())
	})

	t.Run("failed removes watching then adds cross", func(t *testing.T) {
		rec := wireMockClient(t, a)
		ok, err := a.UpdateStatus(context.Background(), "55", models.StatusFailed, config)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, []reactionCall{
			{http.MethodDelete, watchingGlyph},
			{http.MethodPost, crossGlyph},
		}, rec.snapshot())
	})
}

func TestPostReply_PolicyFlag(t *testing.T) {
	a, enc := newTestAdapter(t)

	posted, err := a.PostReply(context.Background(), "55", "done", testConfig(t, enc, false))
	require.NoError(t, err)
	assert.False(t, posted, "disabled config never calls the remote")
}

func TestFetchThread_MissingFileKey(t *testing.T) {
	a, enc := newTestAdapter(t)
	config := testConfig(t, enc, true)
	config.Metadata = models.MetadataMap{}

	_, err := a.FetchThread(context.Background(), "55", config)
	assert.ErrorContains(t, err, "file_key")
}

func TestValidateConfig(t *testing.T) {
	a, enc := newTestAdapter(t)

	config := testConfig(t, enc, true)
	config.TaskDBToken = "enc"
	config.TaskDBID = "db1"
	assert.True(t, a.ValidateConfig(config).Valid)

	result := a.ValidateConfig(&models.SourceConfig{})
	assert.False(t, result.Valid)
	assert.Len(t, result.Errors, 3)
}

func TestTenantFromRecipient(t *testing.T) {
	assert.Equal(t, "acme", tenantFromRecipient("acme@inbound.example.com"))
	assert.Equal(t, DefaultTenant, tenantFromRecipient(""))
	assert.Equal(t, DefaultTenant, tenantFromRecipient("no-at-sign"))
}
