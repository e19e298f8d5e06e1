package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadsync/threadsync/pkg/adapter"
	"github.com/threadsync/threadsync/pkg/adapter/figmaemail"
	"github.com/threadsync/threadsync/pkg/adapter/slackmention"
	"github.com/threadsync/threadsync/pkg/crypto"
	"github.com/threadsync/threadsync/pkg/ingress"
	"github.com/threadsync/threadsync/pkg/models"
	"github.com/threadsync/threadsync/pkg/notion"
	"github.com/threadsync/threadsync/pkg/processor"
	"github.com/threadsync/threadsync/pkg/store"
)

const (
	slackSecret   = "slack-signing-secret"
	mailgunSecret = "mailgun-signing-secret"
)

// stubAdapter is a minimal in-process source for the internal endpoint tests.
type stubAdapter struct{}

func (stubAdapter) SourceType() string { return "stub" }

func (stubAdapter) ParseIncoming(ctx context.Context, payload map[string]any) (*models.ParsedDiscussion, error) {
	return nil, errors.New("not used")
}

func (stubAdapter) FetchThread(ctx context.Context, threadID string, config *models.SourceConfig) (*models.Thread, error) {
	return &models.Thread{
		ID:   threadID,
		Root: models.ThreadMessage{ID: "m1", Author: "sam", Content: "root message"},
	}, nil
}

func (stubAdapter) PostReply(ctx context.Context, threadID, message string, config *models.SourceConfig) (bool, error) {
	return false, nil
}

func (stubAdapter) UpdateStatus(ctx context.Context, threadID string, status models.Status, config *models.SourceConfig) (bool, error) {
	return true, nil
}

func (stubAdapter) ValidateConfig(config *models.SourceConfig) models.ValidationResult {
	return models.ValidationResult{Valid: true}
}

func (stubAdapter) TestConnection(ctx context.Context, config *models.SourceConfig) bool { return true }

type fakeTasks struct{}

func (fakeTasks) CreateTasks(ctx context.Context, databaseID string, tasks []notion.Task, mapping models.FieldMapping) ([]string, error) {
	ids := make([]string, len(tasks))
	for i := range tasks {
		ids[i] = fmt.Sprintf("page-%d", i+1)
	}
	return ids, nil
}

func (fakeTasks) FindDuplicateByURL(ctx context.Context, databaseID, sourceURL string, mapping models.FieldMapping) (string, error) {
	return "", nil
}

func (fakeTasks) Close() {}

type testServer struct {
	srv   *Server
	store *store.MemoryStore
	enc   *crypto.Encryptor
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	enc, err := crypto.NewEncryptor("api-test-master-key")
	require.NoError(t, err)

	st := store.NewMemoryStore()
	registry := adapter.NewRegistry(enc)
	registry.Register(slackmention.Tag, slackmention.Factory())
	registry.Register(figmaemail.Tag, figmaemail.Factory())
	registry.Register("stub", func(*crypto.Encryptor) adapter.SourceAdapter { return stubAdapter{} })

	proc := processor.New(st, registry, enc, processor.Options{
		RetryBase:     time.Millisecond,
		NewTaskClient: func(string) (processor.TaskCreator, error) { return fakeTasks{}, nil },
	})
	ing := ingress.NewService(st, registry, proc,
		crypto.NewSlackVerifier(slackSecret, false),
		crypto.NewMailgunVerifier(mailgunSecret, false))

	return &testServer{
		srv:   NewServer(ing, proc, st, registry),
		store: st,
		enc:   enc,
	}
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func slackSign(secret string, ts string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("v0:" + ts + ":" + string(body)))
	return "v0=" + hex.EncodeToString(mac.Sum(nil))
}

func signedSlackRequest(body []byte) *http.Request {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req := httptest.NewRequest(http.MethodPost, "/webhook/slack/events", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Slack-Request-Timestamp", ts)
	req.Header.Set("X-Slack-Signature", slackSign(slackSecret, ts, body))
	return req
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestSlackWebhook_RejectsBadSignature(t *testing.T) {
	ts := newTestServer(t)

	body := []byte(`{"type":"url_verification","challenge":"x"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhook/slack/events", strings.NewReader(string(body)))
	req.Header.Set("X-Slack-Request-Timestamp", strconv.FormatInt(time.Now().Unix(), 10))
	req.Header.Set("X-Slack-Signature", "v0=deadbeef")

	rec := ts.do(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSlackWebhook_Challenge(t *testing.T) {
	ts := newTestServer(t)

	body := []byte(`{"type":"url_verification","challenge":"echo-me"}`)
	rec := ts.do(signedSlackRequest(body))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "echo-me", resp["challenge"])
	assert.Equal(t, true, resp["ok"])
}

func TestSlackWebhook_AcceptsMention(t *testing.T) {
	ts := newTestServer(t)
	require.NoError(t, ts.store.SourceConfigs().Create(context.Background(), &models.SourceConfig{
		ID: "cfg1", TenantID: "T1", SourceType: slackmention.Tag, Active: true,
	}))

	body, _ := json.Marshal(map[string]any{
		"type":     "event_callback",
		"team_id":  "T1",
		"event_id": "Ev1",
		"event": map[string]any{
			"type": "app_mention", "user": "U1", "channel": "C1",
			"ts": "111.222", "text": "<@BOT1> track this",
		},
	})
	rec := ts.do(signedSlackRequest(body))
	require.Equal(t, http.StatusOK, rec.Code)

	var out ingress.Outcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, ingress.OutcomeAccepted, out.Kind)

	_, err := ts.store.Discussions().Get(context.Background(), "T1", out.DiscussionID)
	assert.NoError(t, err)
}

func TestSlackWebhook_NoActiveConfigIs404(t *testing.T) {
	ts := newTestServer(t)

	body, _ := json.Marshal(map[string]any{
		"type":    "event_callback",
		"team_id": "T1",
		"event": map[string]any{
			"type": "app_mention", "user": "U1", "channel": "C1", "ts": "1.2", "text": "hi",
		},
	})
	rec := ts.do(signedSlackRequest(body))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEmailWebhook(t *testing.T) {
	ts := newTestServer(t)

	sign := func(timestamp, token string) string {
		mac := hmac.New(sha256.New, []byte(mailgunSecret))
		mac.Write([]byte(timestamp + token))
		return hex.EncodeToString(mac.Sum(nil))
	}

	t.Run("bad signature", func(t *testing.T) {
		form := url.Values{
			"timestamp": {strconv.FormatInt(time.Now().Unix(), 10)},
			"token":     {"tok"},
			"signature": {"bogus"},
		}
		req := httptest.NewRequest(http.MethodPost, "/webhook/email/events", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := ts.do(req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("malformed email is 400", func(t *testing.T) {
		timestamp := strconv.FormatInt(time.Now().Unix(), 10)
		form := url.Values{
			"timestamp": {timestamp},
			"token":     {"tok"},
			"signature": {sign(timestamp, "tok")},
			"sender":    {"someone@example.com"},
			// no body-html
		}
		req := httptest.NewRequest(http.MethodPost, "/webhook/email/events", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := ts.do(req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestWebhook_UnknownSource(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(httptest.NewRequest(http.MethodPost, "/webhook/carrierpigeon/events", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func seedStubDiscussion(t *testing.T, ts *testServer) *models.Discussion {
	t.Helper()
	token, err := ts.enc.Encrypt("task-token")
	require.NoError(t, err)
	require.NoError(t, ts.store.SourceConfigs().Create(context.Background(), &models.SourceConfig{
		ID: "cfg-stub", TenantID: "T1", SourceType: "stub",
		TaskDBToken: token, TaskDBID: "db1", Active: true,
	}))

	now := time.Now().UTC()
	d := &models.Discussion{
		ID: "d1", TenantID: "T1", Owner: "U1", SourceType: "stub",
		SourceThreadID: "th1", SourceConfigID: "cfg-stub",
		Title: "Do the thing", Content: "do it", Author: "sam",
		Status: models.StatusPending, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, ts.store.Discussions().Create(context.Background(), d))
	return d
}

func TestProcessDiscussionEndpoint(t *testing.T) {
	ts := newTestServer(t)
	seedStubDiscussion(t, ts)

	t.Run("missing id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/internal/process-discussion", strings.NewReader(`{}`))
		req.Header.Set("Content-Type", "application/json")
		assert.Equal(t, http.StatusBadRequest, ts.do(req).Code)
	})

	t.Run("unknown discussion", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/internal/process-discussion",
			strings.NewReader(`{"discussionId":"missing"}`))
		req.Header.Set("Content-Type", "application/json")
		assert.Equal(t, http.StatusNotFound, ts.do(req).Code)
	})

	t.Run("success", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/internal/process-discussion",
			strings.NewReader(`{"discussionId":"d1"}`))
		req.Header.Set("Content-Type", "application/json")
		rec := ts.do(req)
		require.Equal(t, http.StatusOK, rec.Code)

		var res processor.Result
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
		assert.True(t, res.Success)
		assert.Equal(t, "d1", res.DiscussionID)
		assert.NotEmpty(t, res.JobID)
		assert.Equal(t, []string{"page-1"}, res.PageIDs)
	})
}

func TestAdminEndpoints(t *testing.T) {
	ts := newTestServer(t)
	d := seedStubDiscussion(t, ts)

	t.Run("list requires tenant", func(t *testing.T) {
		rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/discussions", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("list discussions", func(t *testing.T) {
		rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/discussions?tenant=T1", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), d.ID)
	})

	t.Run("get discussion with job history", func(t *testing.T) {
		job := models.NewSyncJob("j1", d, 1, 3)
		require.NoError(t, ts.store.SyncJobs().Create(context.Background(), job))

		rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/discussions/d1?tenant=T1", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"j1"`)
	})

	t.Run("job not found", func(t *testing.T) {
		rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/jobs/nope?tenant=T1", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("sources", func(t *testing.T) {
		rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/sources", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), slackmention.Tag)
	})
}
