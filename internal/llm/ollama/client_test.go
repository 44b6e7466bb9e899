package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	xerrors "AutoAgent/internal/errors"
)

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{}); !xerrors.IsCode(err, xerrors.CodeSetupFailure) {
		t.Fatalf("expected setup failure when model is missing, got %v", err)
	}
}

func completion(content string) map[string]any {
	return map[string]any{
		"id": "chatcmpl-1", "object": "chat.completion", "created": 1, "model": "llama3",
		"choices": []map[string]any{{
			"index": 0, "finish_reason": "stop",
			"message": map[string]any{"role": "assistant", "content": content},
		}},
		"usage": map[string]any{"prompt_tokens": 5, "completion_tokens": 3, "total_tokens": 8},
	}
}

func TestGenerateUsesCompatibleEndpoint(t *testing.T) {
	var (
		path string
		body map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("failed to decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(completion(" Final Answer: ok \n"))
	}))
	defer srv.Close()

	temp := 0.1
	client, err := NewClient(Config{Host: srv.URL + "/", Model: "llama3", Temperature: &temp, Timeout: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	text, err := client.Generate(context.Background(), "hello", []string{"\nObservation:"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "Final Answer: ok" {
		t.Fatalf("unexpected text %q", text)
	}
	if path != "/v1/chat/completions" {
		t.Fatalf("unexpected path %s", path)
	}
	if body["model"] != "llama3" || body["temperature"] != 0.1 {
		t.Fatalf("unexpected request %+v", body)
	}
	if _, ok := body["max_tokens"]; ok {
		t.Fatalf("max_tokens should be omitted when not configured: %+v", body)
	}
	if stops, _ := body["stop"].([]any); len(stops) != 1 || stops[0] != "\nObservation:" {
		t.Fatalf("stop not forwarded: %+v", body["stop"])
	}
}

func TestGenerateEmptyAndHTTPErrors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		code   xerrors.Code
	}{
		{name: "模型不存在", status: http.StatusNotFound, code: xerrors.CodeModelRejected},
		{name: "服务异常", status: http.StatusInternalServerError, code: xerrors.CodeModelFailure},
		{name: "空响应", status: http.StatusOK, code: xerrors.CodeModelFailure},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				if tc.status == http.StatusOK {
					_ = json.NewEncoder(w).Encode(completion("   "))
					return
				}
				_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"message": "boom", "type": "api_error"}})
			}))
			defer srv.Close()

			client, err := NewClient(Config{Host: srv.URL, Model: "llama3", Timeout: time.Second})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if _, err := client.Generate(context.Background(), "hello", nil); !xerrors.IsCode(err, tc.code) {
				t.Fatalf("expected %s, got %v", tc.code, err)
			}
		})
	}
}

func TestCheckConnection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/models" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   []map[string]any{{"id": "llama3:latest", "object": "model", "created": 1, "owned_by": "library"}},
		})
	}))
	defer srv.Close()

	client, err := NewClient(Config{Host: srv.URL, Model: "llama3"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := client.CheckConnection(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	down, _ := NewClient(Config{Host: "http://127.0.0.1:1", Model: "llama3", Timeout: time.Second})
	if err := down.CheckConnection(context.Background()); !xerrors.IsCode(err, xerrors.CodeSetupFailure) {
		t.Fatalf("expected setup failure, got %v", err)
	}
}
