package summarize

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"digestbot/internal/resilience"
	"digestbot/internal/sources"
)

func testItems() []sources.Item {
	return []sources.Item{
		{Title: "New AI model released", URL: "https://example.com/a", Source: "Hacker News", Score: 300},
		{Title: "Go 1.24 ships", URL: "https://example.com/b", Source: "TechCrunch"},
	}
}

func newTestClient(t *testing.T, srvURL string) *Client {
	t.Helper()
	c, err := NewClient(Config{BaseURL: srvURL, APIKey: "test-key"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestSummarizeSuccess(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("auth header = %q", got)
		}
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"**Digest**\n- story"}}]}`))
	}))
	defer srv.Close()

	text, err := newTestClient(t, srv.URL).Summarize(context.Background(), testItems())
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if !strings.Contains(text, "Digest") {
		t.Fatalf("unexpected text %q", text)
	}
}

func TestSummarizeNoItemsIsFatal(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, "http://unused.invalid")
	_, err := c.Summarize(context.Background(), nil)
	if !resilience.IsNoRetry(err) {
		t.Fatalf("expected fatal, got %v", err)
	}
}

func TestSummarizeClassification(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		status    int
		wantFatal bool
	}{
		{name: "rate limited transient", status: http.StatusTooManyRequests},
		{name: "server error transient", status: http.StatusServiceUnavailable},
		{name: "auth rejection fatal", status: http.StatusUnauthorized, wantFatal: true},
		{name: "bad request fatal", status: http.StatusBadRequest, wantFatal: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.status == http.StatusTooManyRequests {
					w.Header().Set("Retry-After", "3")
				}
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			_, err := newTestClient(t, srv.URL).Summarize(context.Background(), testItems())
			if err == nil {
				t.Fatal("expected error")
			}
			if got := resilience.IsNoRetry(err); got != tt.wantFatal {
				t.Fatalf("IsNoRetry = %v, want %v (err %v)", got, tt.wantFatal, err)
			}
			if tt.status == http.StatusTooManyRequests {
				var ra resilience.RetryAfterError
				if !errors.As(err, &ra) || ra.RetryAfter() != 3*time.Second {
					t.Fatalf("missing retry-after hint: %v", err)
				}
			}
		})
	}
}

func TestTemperatureDefaultAndExplicitZero(t *testing.T) {
	t.Parallel()
	var body struct {
		Temperature float64 `json:"temperature"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`))
	}))
	defer srv.Close()

	if _, err := newTestClient(t, srv.URL).Summarize(context.Background(), testItems()); err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if body.Temperature != defaultTemperature {
		t.Fatalf("default temperature = %v, want %v", body.Temperature, defaultTemperature)
	}

	zero := 0.0
	c, err := NewClient(Config{BaseURL: srv.URL, APIKey: "test-key", Temperature: &zero})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	body.Temperature = -1
	if _, err := c.Summarize(context.Background(), testItems()); err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if body.Temperature != 0 {
		t.Fatalf("explicit zero temperature = %v, want 0", body.Temperature)
	}
}

func TestFormatItemsForPrompt(t *testing.T) {
	t.Parallel()
	got := formatItemsForPrompt(testItems())
	if !strings.Contains(got, "1. [Hacker News] New AI model released (300 points)") {
		t.Fatalf("missing first entry:\n%s", got)
	}
	if !strings.Contains(got, "URL: https://example.com/b") {
		t.Fatalf("missing url line:\n%s", got)
	}
}
