package judge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func chatServer(t *testing.T, handler func(w http.ResponseWriter, req chatRequest) int) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("invalid request body: %v", err)
		}
		if status := handler(w, req); status != 0 {
			w.WriteHeader(status)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func reply(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"choices": []map[string]any{{"message": map[string]any{"role": "assistant", "content": content}}},
	})
}

func testClient(baseURL string) *HTTPClient {
	return NewHTTPClient(HTTPConfig{
		BaseURL:    baseURL + "/",
		APIKey:     "test-key",
		Model:      "test-model",
		MaxRetries: 2,
		Backoff:    time.Millisecond,
	})
}

func TestHTTPClientJudge(t *testing.T) {
	srv, hits := chatServer(t, func(w http.ResponseWriter, req chatRequest) int {
		if req.Model != "test-model" || req.ResponseFormat.Type != "json_object" {
			t.Errorf("request = %+v", req)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Messages[1].Content != "transcript" {
			t.Errorf("messages = %+v", req.Messages)
		}
		reply(w, "```json\n{\"violation\": true}\n```")
		return 0
	})

	raw, err := testClient(srv.URL).Judge(context.Background(), "system", "transcript")
	if err != nil {
		t.Fatalf("Judge() failed: %v", err)
	}
	if string(raw) != `{"violation": true}` {
		t.Errorf("Judge() = %s", raw)
	}
	if atomic.LoadInt32(hits) != 1 {
		t.Errorf("hits = %d, want 1", atomic.LoadInt32(hits))
	}
}

func TestHTTPClientRetriesServerErrors(t *testing.T) {
	var calls int32
	srv, hits := chatServer(t, func(w http.ResponseWriter, req chatRequest) int {
		if atomic.AddInt32(&calls, 1) < 3 {
			return http.StatusServiceUnavailable
		}
		reply(w, `{"ok": true}`)
		return 0
	})

	if _, err := testClient(srv.URL).Judge(context.Background(), "s", "u"); err != nil {
		t.Fatalf("Judge() failed: %v", err)
	}
	if atomic.LoadInt32(hits) != 3 {
		t.Errorf("hits = %d, want 3", atomic.LoadInt32(hits))
	}
}

func TestHTTPClientGivesUpAfterMaxRetries(t *testing.T) {
	srv, hits := chatServer(t, func(w http.ResponseWriter, req chatRequest) int {
		return http.StatusTooManyRequests
	})

	_, err := testClient(srv.URL).Judge(context.Background(), "s", "u")
	var he *httpError
	if !errors.As(err, &he) || he.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("Judge() error = %v, want http 429", err)
	}
	if atomic.LoadInt32(hits) != 3 {
		t.Errorf("hits = %d, want 3", atomic.LoadInt32(hits))
	}
}

func TestHTTPClientDoesNotRetryClientErrors(t *testing.T) {
	srv, hits := chatServer(t, func(w http.ResponseWriter, req chatRequest) int {
		return http.StatusBadRequest
	})

	if _, err := testClient(srv.URL).Judge(context.Background(), "s", "u"); err == nil {
		t.Fatal("Judge() should fail on 400")
	}
	if atomic.LoadInt32(hits) != 1 {
		t.Errorf("hits = %d, want 1", atomic.LoadInt32(hits))
	}
}

func TestHTTPClientInvalidContent(t *testing.T) {
	tests := []struct {
		name    string
		respond func(w http.ResponseWriter)
	}{
		{"prose instead of json", func(w http.ResponseWriter) { reply(w, "I think this call was fine.") }},
		{"no choices", func(w http.ResponseWriter) { w.Write([]byte(`{"choices": []}`)) }},
		{"not a completion", func(w http.ResponseWriter) { w.Write([]byte(`<html>`)) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := chatServer(t, func(w http.ResponseWriter, req chatRequest) int {
				tt.respond(w)
				return 0
			})
			_, err := testClient(srv.URL).Judge(context.Background(), "s", "u")
			if !errors.Is(err, ErrInvalidResponse) {
				t.Errorf("Judge() error = %v, want ErrInvalidResponse", err)
			}
		})
	}
}

func TestHTTPClientMissingCredential(t *testing.T) {
	c := NewHTTPClient(HTTPConfig{BaseURL: "http://127.0.0.1:0"})
	if _, err := c.Judge(context.Background(), "s", "u"); !errors.Is(err, ErrMissingCredential) {
		t.Errorf("Judge() error = %v, want ErrMissingCredential", err)
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{context.Canceled, false},
		{context.DeadlineExceeded, false},
		{&httpError{StatusCode: 500}, true},
		{&httpError{StatusCode: 429}, true},
		{&httpError{StatusCode: 401}, false},
		{errors.New("connection reset"), true},
	}
	for _, tt := range tests {
		if got := retryable(tt.err); got != tt.want {
			t.Errorf("retryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
