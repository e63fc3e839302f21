package clients

import (
	"context"
	"testing"
)

func TestParseProvider(t *testing.T) {
	tests := []struct {
		in      string
		want    Provider
		wantErr bool
	}{
		{"google", Google, false},
		{"Gemini", Google, false},
		{"", Google, false},
		{"openai", OpenAI, false},
		{" Claude ", Anthropic, false},
		{"ollama", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseProvider(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseProvider(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseProvider(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNew_Validation(t *testing.T) {
	ctx := context.Background()
	if _, err := New(ctx, Options{Provider: OpenAI, APIKey: "k"}); err == nil {
		t.Error("expected error for missing model")
	}
	if _, err := New(ctx, Options{Provider: "ollama", Model: "llama3"}); err == nil {
		t.Error("expected error for unsupported provider")
	}
}

func TestNew_OpenAICompatible(t *testing.T) {
	llm, err := New(context.Background(), Options{Provider: OpenAI, APIKey: "k", BaseURL: "http://localhost:11434/v1", Model: "llama3"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if llm == nil {
		t.Fatal("New() returned nil model")
	}
}
