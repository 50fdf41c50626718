package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestRequestID(t *testing.T) {
	rec := httptest.NewRecorder()
	RequestID(okHandler).ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if id := rec.Header().Get("X-Request-ID"); len(id) != 16 {
		t.Errorf("generated ID = %q, want 16 hex chars", id)
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Request-ID", "bench-42")
	RequestID(okHandler).ServeHTTP(rec, req)
	if id := rec.Header().Get("X-Request-ID"); id != "bench-42" {
		t.Errorf("X-Request-ID = %q, want caller's ID", id)
	}
}

func TestCORSWithOrigins(t *testing.T) {
	tests := []struct {
		name       string
		origins    []string
		method     string
		origin     string
		wantCode   int
		wantAllow  string
		wantCalled bool
	}{
		{"open_get", nil, "GET", "https://ui.local", http.StatusOK, "*", true},
		{"open_preflight", nil, "OPTIONS", "https://ui.local", http.StatusNoContent, "*", false},
		{"listed_get", []string{"https://ui.local"}, "GET", "https://ui.local", http.StatusOK, "https://ui.local", true},
		{"listed_preflight", []string{"https://ui.local"}, "OPTIONS", "https://ui.local", http.StatusNoContent, "https://ui.local", false},
		{"unlisted_get", []string{"https://ui.local"}, "GET", "https://other.example", http.StatusOK, "", true},
		{"unlisted_preflight", []string{"https://ui.local"}, "OPTIONS", "https://other.example", http.StatusForbidden, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
			})
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(tt.method, "/api/v1/benchmarks", nil)
			req.Header.Set("Origin", tt.origin)
			CORSWithOrigins(tt.origins)(inner).ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", rec.Code, tt.wantCode)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllow {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantAllow)
			}
			if called != tt.wantCalled {
				t.Errorf("handler called = %v, want %v", called, tt.wantCalled)
			}
			if tt.wantAllow != "" && !strings.Contains(rec.Header().Get("Access-Control-Allow-Headers"), "Last-Event-ID") {
				t.Error("Last-Event-ID must be an allowed header for SSE reconnects")
			}
		})
	}
}

func TestBearerAuth(t *testing.T) {
	tests := []struct {
		name   string
		token  string
		target string
		header string
		want   int
	}{
		{"auth_disabled", "", "/", "", http.StatusOK},
		{"header_ok", "s3cret", "/", "Bearer s3cret", http.StatusOK},
		{"header_wrong", "s3cret", "/", "Bearer nope", http.StatusUnauthorized},
		{"missing", "s3cret", "/", "", http.StatusUnauthorized},
		{"basic_scheme", "s3cret", "/", "Basic czNjcmV0", http.StatusUnauthorized},
		{"eventsource_query", "s3cret", "/events/stream?token=s3cret", "", http.StatusOK},
		{"query_wrong", "s3cret", "/events/stream?token=nope", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest("GET", tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			BearerAuth(tt.token)(okHandler).ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("code = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestRecoverer(t *testing.T) {
	panicker := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("provider exploded")
	})
	rec := httptest.NewRecorder()
	Recoverer(panicker).ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/wer", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("code = %d, want 500", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body["error"] != "internal server error" {
		t.Errorf("body = %v", body)
	}
}

func TestMaxBodySize(t *testing.T) {
	var readErr error
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
	})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/", strings.NewReader(strings.Repeat("x", 100)))
	MaxBodySize(10)(inner).ServeHTTP(rec, req)

	var maxErr *http.MaxBytesError
	if !errors.As(readErr, &maxErr) {
		t.Errorf("expected MaxBytesError, got %v", readErr)
	}
}
