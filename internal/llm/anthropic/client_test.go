package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"

	xerrors "AutoAgent/internal/errors"
)

func TestNewClientRequiresKey(t *testing.T) {
	if _, err := NewClient(Config{}); !xerrors.IsCode(err, xerrors.CodeSetupFailure) {
		t.Fatalf("expected setup failure, got %v", err)
	}
}

func TestGenerateConcatenatesTextBlocks(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != "k" {
			t.Errorf("api key header missing")
		}
		defer r.Body.Close()
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":    "msg_1",
			"type":  "message",
			"role":  "assistant",
			"model": "claude-test",
			"content": []map[string]any{
				{"type": "text", "text": "Thought: look\n"},
				{"type": "text", "text": "Action: search"},
			},
			"stop_reason": "stop_sequence",
			"usage":       map[string]any{"input_tokens": 1, "output_tokens": 1},
		})
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "k", BaseURL: srv.URL, Model: "claude-test"}, option.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	text, err := client.Generate(context.Background(), "prompt", []string{"\nObservation:", "  "})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "Thought: look\nAction: search" {
		t.Fatalf("unexpected text %q", text)
	}
	stops, _ := body["stop_sequences"].([]any)
	if len(stops) != 1 {
		t.Fatalf("blank stop sequences should be dropped: %v", body["stop_sequences"])
	}
	if body["model"] != "claude-test" {
		t.Fatalf("unexpected model %v", body["model"])
	}
}

func TestGenerateRejectedRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"authentication_error","message":"bad key"}}`))
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "k", BaseURL: srv.URL}, option.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err = client.Generate(context.Background(), "prompt", nil)
	if !xerrors.IsCode(err, xerrors.CodeModelRejected) {
		t.Fatalf("expected rejected error, got %v", err)
	}
}
