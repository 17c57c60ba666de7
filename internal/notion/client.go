package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// MaxPageSize is the largest page size the API accepts for list operations
const MaxPageSize = 100

// AccessTokenProvider resolves the bearer token for a request. Tokens are
// per-account, so the provider is consulted on every call.
type AccessTokenProvider func(ctx context.Context) (string, error)

// ClientOptions configures a Client
type ClientOptions struct {
	BaseURL       string
	TokenProvider AccessTokenProvider
	HTTPClient    *http.Client
	APIVersion    string
	UserAgent     string
	MaxRetries    int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
}

// Client is an HTTP client for the source API covering the three read
// operations the pipeline needs: search, database query and page retrieval.
type Client struct {
	baseURL       string
	tokenProvider AccessTokenProvider
	httpClient    *http.Client
	apiVersion    string
	userAgent     string
	maxRetries    int
	baseDelay     time.Duration
	maxDelay      time.Duration
}

// APIError is a non-retryable error response from the API
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("notion: api error %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// NewClient creates a client, filling unset options with defaults
func NewClient(opts ClientOptions) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.notion.com"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	apiVersion := strings.TrimSpace(opts.APIVersion)
	if apiVersion == "" {
		apiVersion = "2022-06-28"
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	return &Client{
		baseURL:       baseURL,
		tokenProvider: opts.TokenProvider,
		httpClient:    httpClient,
		apiVersion:    apiVersion,
		userAgent:     strings.TrimSpace(opts.UserAgent),
		maxRetries:    maxRetries,
		baseDelay:     baseDelay,
		maxDelay:      maxDelay,
	}
}

// Search lists all pages and databases visible to the account, one cursor
// page at a time. An empty cursor starts from the beginning.
func (c *Client) Search(ctx context.Context, cursor string, pageSize int) (*ListResponse, error) {
	body := map[string]any{
		"page_size": clampPageSize(pageSize),
	}
	if cursor != "" {
		body["start_cursor"] = cursor
	}

	var resp ListResponse
	if err := c.do(ctx, http.MethodPost, "/v1/search", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueryDatabase lists pages of one database sorted by last edit, newest
// first. An empty cursor starts from the beginning.
func (c *Client) QueryDatabase(ctx context.Context, databaseID, cursor string, pageSize int) (*ListResponse, error) {
	body := map[string]any{
		"page_size": clampPageSize(pageSize),
		"sorts": []map[string]string{
			{"timestamp": "last_edited_time", "direction": "descending"},
		},
	}
	if cursor != "" {
		body["start_cursor"] = cursor
	}

	var resp ListResponse
	path := fmt.Sprintf("/v1/databases/%s/query", databaseID)
	if err := c.do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RetrievePage fetches a single page by ID
func (c *Client) RetrievePage(ctx context.Context, pageID string) (*Page, error) {
	var page Page
	path := fmt.Sprintf("/v1/pages/%s", pageID)
	if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	if c == nil {
		return fmt.Errorf("notion client is nil")
	}
	tokenProvider := c.tokenProvider
	if tokenProvider == nil {
		return fmt.Errorf("notion token provider is required")
	}
	token, err := tokenProvider(ctx)
	if err != nil {
		return err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("notion token is empty")
	}

	var bodyBytes []byte
	if payload != nil {
		bodyBytes, err = json.Marshal(payload)
		if err != nil {
			return err
		}
	}
	url := c.baseURL + path

	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Notion-Version", c.apiVersion)
		if bodyBytes != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries {
				if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return err
		}

		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil {
				return nil
			}
			return json.Unmarshal(respBody, out)
		}

		if (resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599)) && attempt < c.maxRetries {
			if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
			continue
		}

		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
		var parsed struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(respBody, &parsed) == nil {
			if parsed.Code != "" {
				apiErr.Code = parsed.Code
			}
			if parsed.Message != "" {
				apiErr.Message = parsed.Message
			}
		}
		return apiErr
	}
}

// retryDelay computes the backoff before the given attempt, honoring a
// Retry-After header when the server sent one.
func (c *Client) retryDelay(attempt int, retryAfter string) time.Duration {
	if retryAfter != "" {
		if secs, err := strconv.Atoi(strings.TrimSpace(retryAfter)); err == nil && secs > 0 {
			d := time.Duration(secs) * time.Second
			if d > c.maxDelay {
				return c.maxDelay
			}
			return d
		}
	}

	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	if delay > c.maxDelay {
		return c.maxDelay
	}
	return delay
}

func clampPageSize(n int) int {
	if n <= 0 || n > MaxPageSize {
		return MaxPageSize
	}
	return n
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
