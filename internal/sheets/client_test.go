package sheets

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewClient(StaticToken("test-token"), &ClientOptions{
		SheetsBaseURL: server.URL,
		DriveBaseURL:  server.URL,
		BaseDelay:     time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
	})

	return client, server
}

func TestGetValues(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		if !strings.Contains(r.URL.Path, "/v4/spreadsheets/sheet-1/values/") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("unexpected auth header: %q", got)
		}
		if got := r.URL.Query().Get("valueRenderOption"); got != "FORMATTED_VALUE" {
			t.Errorf("expected formatted values, got %q", got)
		}

		json.NewEncoder(w).Encode(ValueRange{
			Range:  "Sheet1!A2:C2",
			Values: [][]string{{"Task", "5", "TRUE"}},
		})
	})

	vr, err := client.GetValues(context.Background(), "sheet-1", "Sheet1!A2:C2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vr.Values) != 1 || vr.Values[0][1] != "5" {
		t.Errorf("unexpected values: %+v", vr.Values)
	}
}

func TestUpdateValues(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("expected PUT, got %s", r.Method)
		}
		if got := r.URL.Query().Get("valueInputOption"); got != "RAW" {
			t.Errorf("expected RAW input option, got %q", got)
		}

		var body ValueRange
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode body: %v", err)
		}
		if len(body.Values) != 1 || body.Values[0][0] != "updated" {
			t.Errorf("unexpected body values: %+v", body.Values)
		}

		w.Write([]byte(`{"updatedRange":"Sheet1!A2:A2"}`))
	})

	err := client.UpdateValues(context.Background(), "sheet-1", "Sheet1!A2:A2", [][]string{{"updated"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAppendValues(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, ":append") {
			t.Errorf("expected append path, got %s", r.URL.Path)
		}
		w.Write([]byte(`{"updates":{"updatedRange":"Sheet1!A7:C7"}}`))
	})

	got, err := client.AppendValues(context.Background(), "sheet-1", "Sheet1!A1:C1", [][]string{{"a", "b", "c"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "Sheet1!A7:C7" {
		t.Errorf("expected updated range Sheet1!A7:C7, got %q", got)
	}
}

func TestClearValues(t *testing.T) {
	var called atomic.Bool
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called.Store(true)
		if !strings.Contains(r.URL.Path, ":clear") {
			t.Errorf("expected clear path, got %s", r.URL.Path)
		}
		w.Write([]byte(`{}`))
	})

	if err := client.ClearValues(context.Background(), "sheet-1", "Sheet1!A5:C5"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called.Load() {
		t.Error("expected clear request to be sent")
	}
}

func TestListSpreadsheets(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		if !strings.Contains(q, spreadsheetMimeType) {
			t.Errorf("expected mime type filter, got %q", q)
		}

		if r.URL.Query().Get("pageToken") == "" {
			json.NewEncoder(w).Encode(FileList{
				Files:         []File{{ID: "f1", Name: "Budget"}},
				NextPageToken: "page-2",
			})
			return
		}

		json.NewEncoder(w).Encode(FileList{
			Files: []File{{ID: "f2", Name: "Tracker"}},
		})
	})

	first, err := client.ListSpreadsheets(context.Background(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.NextPageToken != "page-2" {
		t.Fatalf("expected continuation token, got %q", first.NextPageToken)
	}

	second, err := client.ListSpreadsheets(context.Background(), first.NextPageToken)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.NextPageToken != "" {
		t.Errorf("expected final page, got token %q", second.NextPageToken)
	}
	if len(second.Files) != 1 || second.Files[0].ID != "f2" {
		t.Errorf("unexpected second page: %+v", second.Files)
	}
}

func TestRetryOnRateLimit(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(ValueRange{Range: "Sheet1!A1:A1"})
	})

	_, err := client.GetValues(context.Background(), "sheet-1", "Sheet1!A1:A1")
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 calls, got %d", calls.Load())
	}
}

func TestNoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	})

	_, err := client.GetValues(context.Background(), "sheet-1", "Sheet1!A1:A1")
	if err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("expected single call, got %d", calls.Load())
	}

	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403, got %d", apiErr.StatusCode)
	}
}

func TestRefreshTokenSource(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)

		if err := r.ParseForm(); err != nil {
			t.Fatalf("failed to parse form: %v", err)
		}
		if got := r.Form.Get("grant_type"); got != "refresh_token" {
			t.Errorf("expected refresh_token grant, got %q", got)
		}
		if got := r.Form.Get("refresh_token"); got != "refresh-1" {
			t.Errorf("unexpected refresh token %q", got)
		}

		w.Write([]byte(`{"access_token":"access-1","expires_in":3600}`))
	}))
	defer server.Close()

	source := NewRefreshTokenSource(OAuthConfig{
		ClientID:     "client-id",
		ClientSecret: "secret",
		TokenURL:     server.URL,
	}, "refresh-1")

	token, err := source.Token(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "access-1" {
		t.Errorf("expected access-1, got %q", token)
	}

	// Second call is served from cache
	if _, err := source.Token(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 token request, got %d", calls.Load())
	}
}

func TestRefreshTokenSourceNotifiesOnRefresh(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"access_token":"access-1","expires_in":3600}`))
	}))
	defer server.Close()

	source := NewRefreshTokenSource(OAuthConfig{
		ClientID:     "client-id",
		ClientSecret: "secret",
		TokenURL:     server.URL,
	}, "refresh-1")

	var gotToken string
	var gotExpiry time.Time
	source.OnRefresh(func(token string, expiry time.Time) {
		gotToken = token
		gotExpiry = expiry
	})

	if _, err := source.Token(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotToken != "access-1" {
		t.Errorf("expected callback with access-1, got %q", gotToken)
	}
	if !gotExpiry.After(time.Now()) {
		t.Errorf("expected future expiry, got %v", gotExpiry)
	}

	// Cache hits do not re-notify
	gotToken = ""
	if _, err := source.Token(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotToken != "" {
		t.Error("cached token must not trigger the callback")
	}
}

func TestColumnLetter(t *testing.T) {
	cases := []struct {
		index int
		want  string
	}{
		{0, "A"},
		{1, "B"},
		{25, "Z"},
		{26, "AA"},
		{27, "AB"},
		{51, "AZ"},
		{52, "BA"},
		{701, "ZZ"},
		{702, "AAA"},
	}

	for _, tc := range cases {
		if got := ColumnLetter(tc.index); got != tc.want {
			t.Errorf("ColumnLetter(%d) = %q, want %q", tc.index, got, tc.want)
		}
	}
}

func TestParseRowNumber(t *testing.T) {
	cases := []struct {
		a1   string
		want int
	}{
		{"Sheet1!A5:D5", 5},
		{"Sheet1!A12", 12},
		{"A7:C7", 7},
		{"Sheet1!A:D", 0},
		{"", 0},
	}

	for _, tc := range cases {
		if got := ParseRowNumber(tc.a1); got != tc.want {
			t.Errorf("ParseRowNumber(%q) = %d, want %d", tc.a1, got, tc.want)
		}
	}
}
