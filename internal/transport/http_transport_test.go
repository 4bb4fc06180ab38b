package transport

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

	"github.com/datasync/engine/internal/models"
)

// refreshableToken flips to a fresh credential on Refresh.
type refreshableToken struct {
	current   string
	refreshed atomic.Bool
	fail      bool
}

func (t *refreshableToken) Token(ctx context.Context) (string, error) {
	return t.current, nil
}

func (t *refreshableToken) Refresh(ctx context.Context) error {
	if t.fail {
		return models.ErrAuthExpired
	}
	t.refreshed.Store(true)
	t.current = "fresh-token"
	return nil
}

func newTestTransport(serverURL string, tokens TokenProvider) *HTTPTransport {
	return NewHTTPTransport(HTTPConfig{
		BaseURL:        serverURL,
		ClientID:       "client-a",
		RequestTimeout: 2 * time.Second,
		Tokens:         tokens,
	})
}

func testOps(t *testing.T) []*models.Operation {
	t.Helper()
	op, err := models.NewOperation("note", "n1", models.OpUpdate,
		json.RawMessage(`{"title":"x"}`), 1, time.Now().UTC())
	require.NoError(t, err)
	return []*models.Operation{op}
}

func TestPushDecodesResults(t *testing.T) {
	var gotReq models.PushRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/sync/push", r.URL.Path)
		assert.Equal(t, "Bearer dev-token", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		json.NewEncoder(w).Encode(models.PushResponse{Results: []models.PushResult{
			{OperationID: gotReq.Operations[0].ID, Status: models.PushAcknowledged, ServerVersion: 2},
		}})
	}))
	defer srv.Close()

	tr := newTestTransport(srv.URL, StaticToken("dev-token"))
	ops := testOps(t)

	results, err := tr.Push(context.Background(), ops)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, ops[0].ID, results[0].OperationID)
	assert.Equal(t, models.PushAcknowledged, results[0].Status)
	assert.Equal(t, "client-a", gotReq.ClientID)
}

func TestPullSendsCursor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req models.PullRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, models.SyncCursor("abc"), req.Cursor)
		assert.Equal(t, 50, req.PageSize)

		json.NewEncoder(w).Encode(models.PullPage{
			Changes:    []models.RemoteChange{{EntityType: "note", EntityID: "n1", Version: 2}},
			NextCursor: "def",
			HasMore:    true,
		})
	}))
	defer srv.Close()

	tr := newTestTransport(srv.URL, nil)
	page, err := tr.Pull(context.Background(), "abc", 50)
	require.NoError(t, err)
	assert.Equal(t, models.SyncCursor("def"), page.NextCursor)
	assert.True(t, page.HasMore)
	require.Len(t, page.Changes, 1)
}

func TestErrorClassification(t *testing.T) {
	t.Run("5xx is transient", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		_, err := newTestTransport(srv.URL, nil).Pull(context.Background(), "", 10)
		assert.True(t, models.IsTransient(err))
	})

	t.Run("429 is transient", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer srv.Close()

		_, err := newTestTransport(srv.URL, nil).Pull(context.Background(), "", 10)
		assert.True(t, models.IsTransient(err))
	})

	t.Run("410 means the cursor expired", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusGone)
		}))
		defer srv.Close()

		_, err := newTestTransport(srv.URL, nil).Pull(context.Background(), "stale", 10)
		assert.True(t, models.IsCursorExpired(err))
	})

	t.Run("cursor_expired code in a 4xx body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": "cursor too old", "code": "cursor_expired"})
		}))
		defer srv.Close()

		_, err := newTestTransport(srv.URL, nil).Pull(context.Background(), "stale", 10)
		assert.True(t, models.IsCursorExpired(err))
	})

	t.Run("other 4xx is a rejection with the server's reason", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			json.NewEncoder(w).Encode(map[string]string{"error": "unknown entity type"})
		}))
		defer srv.Close()

		_, err := newTestTransport(srv.URL, nil).Push(context.Background(), testOps(t))
		require.True(t, models.IsRejected(err))
		assert.Contains(t, err.Error(), "unknown entity type")
	})

	t.Run("unreachable server is transient", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		srv.Close() // immediately, so the port refuses connections

		_, err := newTestTransport(srv.URL, nil).Pull(context.Background(), "", 10)
		assert.True(t, models.IsTransient(err))
	})
}

func TestUnauthorizedTriggersSingleRefresh(t *testing.T) {
	t.Run("refresh succeeds and the call is replayed", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			assert.Equal(t, "Bearer fresh-token", r.Header.Get("Authorization"))
			json.NewEncoder(w).Encode(models.PullPage{})
		}))
		defer srv.Close()

		tokens := &refreshableToken{current: "stale-token"}
		_, err := newTestTransport(srv.URL, tokens).Pull(context.Background(), "", 10)
		require.NoError(t, err)
		assert.True(t, tokens.refreshed.Load())
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("second 401 after refresh is auth expiry", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer srv.Close()

		tokens := &refreshableToken{current: "stale-token"}
		_, err := newTestTransport(srv.URL, tokens).Pull(context.Background(), "", 10)
		assert.True(t, models.IsAuthExpired(err))
	})

	t.Run("failed refresh is auth expiry", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer srv.Close()

		tokens := &refreshableToken{current: "stale-token", fail: true}
		_, err := newTestTransport(srv.URL, tokens).Pull(context.Background(), "", 10)
		assert.True(t, models.IsAuthExpired(err))
	})
}
