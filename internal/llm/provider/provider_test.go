package provider

import (
	"context"
	"testing"

	xerrors "AutoAgent/internal/errors"
	"AutoAgent/internal/llm/openai"
	"AutoAgent/internal/llm/pythonbridge"
)

func TestNewRejectsUnknownProvider(t *testing.T) {
	_, err := New(context.Background(), Config{Provider: "mystery"})
	if !xerrors.IsCode(err, xerrors.CodeConfigInvalid) {
		t.Fatalf("expected config error, got %v", err)
	}
	_, err = New(context.Background(), Config{})
	if !xerrors.IsCode(err, xerrors.CodeConfigInvalid) {
		t.Fatalf("expected config error for empty provider, got %v", err)
	}
}

func TestNewWrapsBackendSetupFailure(t *testing.T) {
	_, err := New(context.Background(), Config{Provider: "OpenAI"})
	if !xerrors.IsCode(err, xerrors.CodeSetupFailure) {
		t.Fatalf("expected setup failure, got %v", err)
	}
}

func TestNewBuildsRetryingClient(t *testing.T) {
	client, err := New(context.Background(), Config{
		Provider: OpenAI,
		OpenAI:   openai.Config{APIKey: "sk-test", Model: "gpt-x"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.ModelName() != "gpt-x" {
		t.Fatalf("unexpected model %q", client.ModelName())
	}

	bridge, err := New(context.Background(), Config{
		Provider:     PythonBridge,
		PythonBridge: pythonbridge.Config{Script: "bridge.py", Model: "local"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bridge.ModelName() != "local" {
		t.Fatalf("unexpected model %q", bridge.ModelName())
	}
}
