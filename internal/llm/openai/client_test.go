package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/openai/openai-go/option"

	xerrors "AutoAgent/internal/errors"
)

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(Config{})
	if err == nil {
		t.Fatalf("expected error when api key is missing")
	}
	if !xerrors.IsCode(err, xerrors.CodeSetupFailure) {
		t.Fatalf("expected setup failure, got %v", err)
	}
}

func TestGenerateSuccess(t *testing.T) {
	var captured struct {
		Authorization string
		Path          string
		Body          map[string]any
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.Authorization = r.Header.Get("Authorization")
		captured.Path = r.URL.Path
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&captured.Body); err != nil {
			t.Errorf("failed to decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "gpt-test",
			"choices": []map[string]any{
				{
					"index":         0,
					"finish_reason": "stop",
					"message": map[string]any{
						"role":    "assistant",
						"content": "  Thought: 分析\nAction: echo\nAction Input: hi  ",
					},
				},
			},
		})
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL, Model: "gpt-test", Timeout: time.Second},
		option.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	text, err := client.Generate(context.Background(), "测试", []string{"\nObservation:"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "Thought: 分析\nAction: echo\nAction Input: hi" {
		t.Fatalf("unexpected response: %q", text)
	}
	if !strings.HasPrefix(captured.Authorization, "Bearer ") {
		t.Fatalf("authorization header missing: %q", captured.Authorization)
	}
	if !strings.HasSuffix(captured.Path, "/chat/completions") {
		t.Fatalf("unexpected path %q", captured.Path)
	}
	if captured.Body["model"] != "gpt-test" {
		t.Fatalf("model field missing in request: %v", captured.Body["model"])
	}
	stop, ok := captured.Body["stop"].([]any)
	if !ok || len(stop) != 1 || stop[0] != "\nObservation:" {
		t.Fatalf("stop sequences not forwarded: %v", captured.Body["stop"])
	}
	if client.ModelName() != "gpt-test" {
		t.Fatalf("unexpected model name %q", client.ModelName())
	}
}

func TestGenerateHTTPErrorClassification(t *testing.T) {
	cases := []struct {
		status    int
		retryable bool
	}{
		{status: http.StatusBadRequest, retryable: false},
		{status: http.StatusTooManyRequests, retryable: true},
		{status: http.StatusInternalServerError, retryable: true},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"test"}}`))
		}))

		client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL, Timeout: time.Second},
			option.WithHTTPClient(srv.Client()))
		if err != nil {
			srv.Close()
			t.Fatalf("unexpected error: %v", err)
		}
		_, err = client.Generate(context.Background(), "test", nil)
		srv.Close()
		if err == nil {
			t.Fatalf("status %d: expected error", tc.status)
		}
		if got := xerrors.RetryableError(err); got != tc.retryable {
			t.Fatalf("status %d: retryable = %v, want %v (%v)", tc.status, got, tc.retryable, err)
		}
	}
}
