package main

import (
	"context"
	"testing"

	"github.com/vinayprograms/agentkit/llm"
)

func TestLLMGenerateAdapter(t *testing.T) {
	mock := llm.NewMockProvider()
	mock.ChatFunc = func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		if len(req.Messages) != 1 || req.Messages[0].Content != "is `rm -rf data/` safe?" {
			t.Errorf("unexpected request %+v", req.Messages)
		}
		return &llm.ChatResponse{Content: "DENY", InputTokens: 12, OutputTokens: 1}, nil
	}
	adapter := &llmGenerateAdapter{provider: mock}

	result, err := adapter.Generate(context.Background(), "is `rm -rf data/` safe?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Content != "DENY" || result.InputTokens != 12 || result.OutputTokens != 1 {
		t.Errorf("unexpected result %+v", result)
	}
}

func TestLLMGenerateAdapter_Error(t *testing.T) {
	mock := llm.NewMockProvider()
	mock.ChatFunc = func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		return nil, context.Canceled
	}
	adapter := &llmGenerateAdapter{provider: mock}

	if _, err := adapter.Generate(context.Background(), "test prompt"); err == nil {
		t.Error("expected error")
	}
}
