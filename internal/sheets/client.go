package sheets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"
)

// =============================================================================
// Spreadsheet API Client
// =============================================================================

const (
	defaultSheetsBaseURL = "https://sheets.googleapis.com"
	defaultDriveBaseURL  = "https://www.googleapis.com/drive/v3"
	defaultTokenURL      = "https://oauth2.googleapis.com/token"

	spreadsheetMimeType = "application/vnd.google-apps.spreadsheet"

	defaultTimeout    = 20 * time.Second
	defaultMaxRetries = 3
	defaultBaseDelay  = 100 * time.Millisecond
	defaultMaxDelay   = 2 * time.Second
)

// TokenProvider supplies a bearer token for each request. Implementations
// are responsible for refresh; the client never caches tokens itself.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenProvider backed by a fixed access token
type StaticToken string

func (t StaticToken) Token(_ context.Context) (string, error) {
	return string(t), nil
}

// ClientOptions configures optional client behavior
type ClientOptions struct {
	SheetsBaseURL string
	DriveBaseURL  string
	HTTPClient    *http.Client
	MaxRetries    int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
}

// Client talks to the spreadsheet values API and the file listing API
type Client struct {
	sheetsBaseURL string
	driveBaseURL  string
	httpClient    *http.Client
	tokens        TokenProvider
	maxRetries    int
	baseDelay     time.Duration
	maxDelay      time.Duration
}

// APIError is a non-2xx response from the spreadsheet API
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("sheets: api error (status %d): %s", e.StatusCode, e.Message)
}

// NewClient creates a spreadsheet client with the given token provider
func NewClient(tokens TokenProvider, opts *ClientOptions) *Client {
	c := &Client{
		sheetsBaseURL: defaultSheetsBaseURL,
		driveBaseURL:  defaultDriveBaseURL,
		httpClient:    &http.Client{Timeout: defaultTimeout},
		tokens:        tokens,
		maxRetries:    defaultMaxRetries,
		baseDelay:     defaultBaseDelay,
		maxDelay:      defaultMaxDelay,
	}

	if opts != nil {
		if opts.SheetsBaseURL != "" {
			c.sheetsBaseURL = opts.SheetsBaseURL
		}
		if opts.DriveBaseURL != "" {
			c.driveBaseURL = opts.DriveBaseURL
		}
		if opts.HTTPClient != nil {
			c.httpClient = opts.HTTPClient
		}
		if opts.MaxRetries > 0 {
			c.maxRetries = opts.MaxRetries
		}
		if opts.BaseDelay > 0 {
			c.baseDelay = opts.BaseDelay
		}
		if opts.MaxDelay > 0 {
			c.maxDelay = opts.MaxDelay
		}
	}

	return c
}

// =============================================================================
// Value Operations
// =============================================================================

// ValueRange is a rectangular block of cell values. Values are formatted
// strings (the API is asked to render, not return raw types).
type ValueRange struct {
	Range  string     `json:"range"`
	Values [][]string `json:"values"`
}

type updateResponse struct {
	UpdatedRange string `json:"updatedRange"`
}

type appendResponse struct {
	Updates updateResponse `json:"updates"`
}

// GetValues reads the cells in an A1 range
func (c *Client) GetValues(ctx context.Context, spreadsheetID, a1Range string) (*ValueRange, error) {
	path := fmt.Sprintf("/v4/spreadsheets/%s/values/%s?valueRenderOption=FORMATTED_VALUE",
		url.PathEscape(spreadsheetID), url.PathEscape(a1Range))

	var vr ValueRange
	if err := c.do(ctx, http.MethodGet, c.sheetsBaseURL+path, nil, &vr); err != nil {
		return nil, err
	}

	return &vr, nil
}

// UpdateValues overwrites the cells in an A1 range
func (c *Client) UpdateValues(ctx context.Context, spreadsheetID, a1Range string, values [][]string) error {
	path := fmt.Sprintf("/v4/spreadsheets/%s/values/%s?valueInputOption=RAW",
		url.PathEscape(spreadsheetID), url.PathEscape(a1Range))

	body := ValueRange{Range: a1Range, Values: values}
	return c.do(ctx, http.MethodPut, c.sheetsBaseURL+path, body, nil)
}

// AppendValues appends rows after the last row of the table anchored at the
// A1 range. Returns the range the rows actually landed in.
func (c *Client) AppendValues(ctx context.Context, spreadsheetID, a1Range string, values [][]string) (string, error) {
	path := fmt.Sprintf("/v4/spreadsheets/%s/values/%s:append?valueInputOption=RAW&insertDataOption=INSERT_ROWS",
		url.PathEscape(spreadsheetID), url.PathEscape(a1Range))

	body := ValueRange{Values: values}
	var resp appendResponse
	if err := c.do(ctx, http.MethodPost, c.sheetsBaseURL+path, body, &resp); err != nil {
		return "", err
	}

	return resp.Updates.UpdatedRange, nil
}

// ClearValues blanks the cells in an A1 range without removing the row
func (c *Client) ClearValues(ctx context.Context, spreadsheetID, a1Range string) error {
	path := fmt.Sprintf("/v4/spreadsheets/%s/values/%s:clear",
		url.PathEscape(spreadsheetID), url.PathEscape(a1Range))

	return c.do(ctx, http.MethodPost, c.sheetsBaseURL+path, struct{}{}, nil)
}

// =============================================================================
// File Listing
// =============================================================================

// File is a spreadsheet visible to the connected account
type File struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"webViewLink"`
}

// FileList is one page of visible spreadsheets
type FileList struct {
	Files         []File `json:"files"`
	NextPageToken string `json:"nextPageToken"`
}

// ListSpreadsheets retrieves one page of spreadsheets visible to the
// account. Pass the previous page's token to continue, empty to start.
func (c *Client) ListSpreadsheets(ctx context.Context, pageToken string) (*FileList, error) {
	q := url.Values{}
	q.Set("q", fmt.Sprintf("mimeType='%s' and trashed=false", spreadsheetMimeType))
	q.Set("fields", "nextPageToken, files(id, name, webViewLink)")
	if pageToken != "" {
		q.Set("pageToken", pageToken)
	}

	var list FileList
	if err := c.do(ctx, http.MethodGet, c.driveBaseURL+"/files?"+q.Encode(), nil, &list); err != nil {
		return nil, err
	}

	return &list, nil
}

// =============================================================================
// Transport
// =============================================================================

func (c *Client) do(ctx context.Context, method, fullURL string, body any, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("sheets: failed to encode request: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepContext(ctx, c.retryDelay(attempt)); err != nil {
				return err
			}
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
		if err != nil {
			return fmt.Errorf("sheets: failed to build request: %w", err)
		}

		token, err := c.tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("sheets: failed to obtain token: %w", err)
		}

		req.Header.Set("Authorization", "Bearer "+token)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if out != nil && len(respBody) > 0 {
				if err := json.Unmarshal(respBody, out); err != nil {
					return fmt.Errorf("sheets: failed to decode response: %w", err)
				}
			}
			return nil
		}

		apiErr := &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}

		// Rate limits and server errors are retryable
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = apiErr
			if ra := resp.Header.Get("Retry-After"); ra != "" {
				if secs, err := strconv.Atoi(ra); err == nil {
					if err := sleepContext(ctx, time.Duration(secs)*time.Second); err != nil {
						return err
					}
				}
			}
			continue
		}

		return apiErr
	}

	return fmt.Errorf("sheets: request failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

func (c *Client) retryDelay(attempt int) time.Duration {
	delay := c.baseDelay * time.Duration(1<<(attempt-1))
	if delay > c.maxDelay {
		delay = c.maxDelay
	}
	return delay
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

// =============================================================================
// OAuth Token Refresh
// =============================================================================

// OAuthConfig holds the credentials for the refresh-token grant
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
}

// RefreshTokenSource exchanges a refresh token for short-lived access
// tokens, caching each token until shortly before it expires. Safe for
// concurrent use.
type RefreshTokenSource struct {
	cfg          OAuthConfig
	refreshToken string
	httpClient   *http.Client
	onRefresh    func(token string, expiry time.Time)

	mu     sync.Mutex
	token  string
	expiry time.Time
}

// NewRefreshTokenSource creates a token source for the given refresh token
func NewRefreshTokenSource(cfg OAuthConfig, refreshToken string) *RefreshTokenSource {
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaultTokenURL
	}

	return &RefreshTokenSource{
		cfg:          cfg,
		refreshToken: refreshToken,
		httpClient:   &http.Client{Timeout: defaultTimeout},
	}
}

// OnRefresh registers a callback invoked with each newly minted access
// token, so rotated credentials can be persisted. Set it before the
// first Token call.
func (s *RefreshTokenSource) OnRefresh(fn func(token string, expiry time.Time)) {
	s.onRefresh = fn
}

// Token returns a valid access token, refreshing if the cached one has
// expired or is about to
func (s *RefreshTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// 30 second skew so a token never expires mid-request
	if s.token != "" && time.Now().Add(30*time.Second).Before(s.expiry) {
		return s.token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", s.refreshToken)
	form.Set("client_id", s.cfg.ClientID)
	form.Set("client_secret", s.cfg.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.TokenURL,
		bytes.NewReader([]byte(form.Encode())))
	if err != nil {
		return "", fmt.Errorf("sheets: failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("sheets: token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("sheets: failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", &APIError{StatusCode: resp.StatusCode, Message: string(body)}
	}

	var tr struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", fmt.Errorf("sheets: failed to decode token response: %w", err)
	}

	s.token = tr.AccessToken
	s.expiry = time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)

	if s.onRefresh != nil {
		s.onRefresh(s.token, s.expiry)
	}

	return s.token, nil
}
