package figma

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadsync/threadsync/pkg/resilience"
)

func newMockFigma(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient("figd_test_token", WithBaseURL(server.URL))
	require.NoError(t, err)
	client.retry = resilience.RetryConfig{MaxAttempts: 1, BaseDelay: time.Millisecond}
	t.Cleanup(client.Close)
	return client
}

func TestNewClient_RejectsBadTokens(t *testing.T) {
	for _, token := range []string{"", "your-figma-token", "PLACEHOLDER"} {
		_, err := NewClient(token)
		assert.Error(t, err, "token %q", token)
	}
}

func TestFileKeyFromURL(t *testing.T) {
	cases := map[string]string{
		"https://www.figma.com/file/AbC123xyz/Homepage?node-id=1": "AbC123xyz",
		"https://figma.com/design/Key456/My-File":                 "Key456",
		"AlreadyAKey123":                                          "AlreadyAKey123",
		"  spaced  ":                                              "spaced",
	}
	for input, want := range cases {
		assert.Equal(t, want, FileKeyFromURL(input), "input %q", input)
	}
}

func TestListComments_Pagination(t *testing.T) {
	var calls atomic.Int32
	client := newMockFigma(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "figd_test_token", r.Header.Get("X-Figma-Token"))
		if r.URL.Query().Get("cursor") == "" {
			_ = json.NewEncoder(w).Encode(commentsResponse{
				Comments:   []Comment{{ID: "c1", Message: "first"}},
				NextCursor: "page2",
			})
			return
		}
		_ = json.NewEncoder(w).Encode(commentsResponse{
			Comments: []Comment{{ID: "c2", Message: "second"}},
		})
	})

	comments, err := client.ListComments(context.Background(), "KEY1")
	require.NoError(t, err)
	require.Len(t, comments, 2)
	assert.Equal(t, "c1", comments[0].ID)
	assert.Equal(t, "c2", comments[1].ID)
	assert.Equal(t, int32(2), calls.Load())

	// Cached on repeat.
	_, err = client.ListComments(context.Background(), "KEY1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetchThread_ParentWalk(t *testing.T) {
	base := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	client := newMockFigma(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(commentsResponse{Comments: []Comment{
			{ID: "reply2", ParentID: "root", User: CommentUser{Handle: "casey"}, Message: "agreed", CreatedAt: base.Add(2 * time.Minute)},
			{ID: "root", User: CommentUser{Handle: "alex"}, Message: "the header overlaps", CreatedAt: base},
			{ID: "reply1", ParentID: "root", User: CommentUser{Handle: "blake"}, Message: "looking", CreatedAt: base.Add(time.Minute)},
			{ID: "other", User: CommentUser{Handle: "drew"}, Message: "unrelated thread", CreatedAt: base},
		}})
	})

	// Asking for a reply resolves the whole thread from its root.
	thread, err := client.FetchThread(context.Background(), "KEY1", "reply2")
	require.NoError(t, err)

	assert.Equal(t, "root", thread.ID)
	assert.Equal(t, "the header overlaps", thread.Root.Content)
	require.Len(t, thread.Replies, 2)
	assert.Equal(t, "reply1", thread.Replies[0].ID)
	assert.Equal(t, "reply2", thread.Replies[1].ID)
	assert.Equal(t, []string{"alex", "blake", "casey"}, thread.Participants)
}

func TestFetchThread_UnknownComment(t *testing.T) {
	client := newMockFigma(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(commentsResponse{})
	})
	_, err := client.FetchThread(context.Background(), "KEY1", "nope")
	assert.ErrorContains(t, err, "not found")
}

func TestPostReply(t *testing.T) {
	client := newMockFigma(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "done, task created", body["message"])
		assert.Equal(t, "root", body["comment_id"])
		_ = json.NewEncoder(w).Encode(Comment{ID: "new-reply", Message: body["message"]})
	})

	created, err := client.PostReply(context.Background(), "KEY1", "root", "done, task created")
	require.NoError(t, err)
	assert.Equal(t, "new-reply", created.ID)
}

func TestRemoveReaction_ToleratesAbsent(t *testing.T) {
	client := newMockFigma(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":true,"message":"reaction not found"}`, http.StatusNotFound)
	})
	assert.NoError(t, client.RemoveReaction(context.Background(), "KEY1", "c1", ":eyes:"))
}

func TestUpdateReaction(t *testing.T) {
	var methods []string
	client := newMockFigma(t, func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	})

	require.NoError(t, client.UpdateReaction(context.Background(), "KEY1", "c1", ":eyes:", ":white_check_mark:"))
	assert.Equal(t, []string{http.MethodDelete, http.MethodPost}, methods)
}
