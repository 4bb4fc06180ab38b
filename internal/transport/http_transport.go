package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/datasync/engine/internal/models"
)

// HTTPTransport implements Transport over the JSON sync API:
//
//	POST {base}/api/sync/push
//	POST {base}/api/sync/pull
type HTTPTransport struct {
	baseURL  string
	clientID string
	client   *http.Client
	tokens   TokenProvider
	timeout  time.Duration
}

// HTTPConfig configures an HTTPTransport
type HTTPConfig struct {
	BaseURL        string
	ClientID       string
	RequestTimeout time.Duration
	Tokens         TokenProvider
	// Client overrides the HTTP client, mainly for tests
	Client *http.Client
}

// NewHTTPTransport creates a transport for the given sync server
func NewHTTPTransport(cfg HTTPConfig) *HTTPTransport {
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPTransport{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		clientID: cfg.ClientID,
		client:   client,
		tokens:   cfg.Tokens,
		timeout:  timeout,
	}
}

// Push implements Transport
func (t *HTTPTransport) Push(ctx context.Context, ops []*models.Operation) ([]models.PushResult, error) {
	batch := make([]models.Operation, len(ops))
	for i, op := range ops {
		batch[i] = *op
	}
	body := models.PushRequest{ClientID: t.clientID, Operations: batch}

	var response models.PushResponse
	if err := t.post(ctx, "/api/sync/push", body, &response); err != nil {
		return nil, err
	}
	return response.Results, nil
}

// Pull implements Transport
func (t *HTTPTransport) Pull(ctx context.Context, cursor models.SyncCursor, pageSize int) (*models.PullPage, error) {
	body := models.PullRequest{ClientID: t.clientID, Cursor: cursor, PageSize: pageSize}

	var page models.PullPage
	if err := t.post(ctx, "/api/sync/pull", body, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// post sends one JSON request and decodes the response, classifying
// failures into the engine's error taxonomy. A 401 triggers a single
// token refresh and replay before giving up with ErrAuthExpired.
func (t *HTTPTransport) post(ctx context.Context, path string, body, out interface{}) error {
	refreshed := false
	for {
		status, respBody, err := t.roundTrip(ctx, path, body)
		if err != nil {
			// Transport-level failures (timeout, reset, refused) are
			// always retryable.
			return models.NewTransientError(err)
		}

		switch {
		case status >= 200 && status < 300:
			if out == nil {
				return nil
			}
			if err := json.Unmarshal(respBody, out); err != nil {
				return models.NewTransientError(fmt.Errorf("decode response: %w", err))
			}
			return nil

		case status == http.StatusUnauthorized:
			if refreshed || t.tokens == nil {
				return models.ErrAuthExpired
			}
			if err := t.tokens.Refresh(ctx); err != nil {
				return models.ErrAuthExpired
			}
			refreshed = true
			continue

		case status == http.StatusGone:
			return models.ErrCursorExpired

		case status == http.StatusTooManyRequests || status >= 500:
			return models.NewTransientError(fmt.Errorf("server returned HTTP %d", status))

		default:
			if code := errorCode(respBody); code == "cursor_expired" {
				return models.ErrCursorExpired
			}
			return &models.RejectedError{StatusCode: status, Reason: errorReason(respBody, status)}
		}
	}
}

func (t *HTTPTransport) roundTrip(ctx context.Context, path string, body interface{}) (int, []byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return 0, nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if t.tokens != nil {
		token, err := t.tokens.Token(ctx)
		if err != nil {
			return 0, nil, err
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, respBody, nil
}

// serverError is the error body shape returned by the sync API
type serverError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func errorCode(body []byte) string {
	var se serverError
	if err := json.Unmarshal(body, &se); err != nil {
		return ""
	}
	return se.Code
}

func errorReason(body []byte, status int) string {
	var se serverError
	if err := json.Unmarshal(body, &se); err == nil && se.Error != "" {
		return se.Error
	}
	return http.StatusText(status)
}
