package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cliexplainer/internal/domain"

	"github.com/google/go-cmp/cmp"
)

// fastRetries shrinks the retry backoff for the duration of a test.
func fastRetries(t *testing.T) {
	t.Helper()
	prev := retryBaseDelay
	retryBaseDelay = time.Millisecond
	t.Cleanup(func() { retryBaseDelay = prev })
}

func helpToolDef() domain.ToolDefinition {
	return domain.ToolDefinition{
		Name:        "get_help_text",
		Description: "Run <tool> -h",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"cli_tool_name": map[string]any{"type": "string", "description": "program"},
				"subcommand":    map[string]any{"type": "string", "description": "optional subcommand"},
			},
			"required": []string{"cli_tool_name"},
		},
	}
}

func TestOpenAI_ChatToolCall(t *testing.T) {
	var got oaiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test" {
			t.Errorf("Authorization = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"choices": [{
				"message": {
					"role": "assistant",
					"content": "",
					"tool_calls": [{
						"id": "call_1",
						"type": "function",
						"function": {"name": "get_help_text", "arguments": "{\"cli_tool_name\":\"git\"}"}
					}]
				},
				"finish_reason": "tool_calls"
			}],
			"usage": {"prompt_tokens": 11, "completion_tokens": 7, "total_tokens": 18}
		}`))
	}))
	defer srv.Close()

	o := NewOpenAIWithClient(OpenAIConfig{APIKey: "sk-test", APIBase: srv.URL + "/v1/", Model: "gpt-test"}, srv.Client())
	resp, err := o.Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{
			{Role: "system", Content: "sys"},
			{Role: "user", Content: "how do I branch?"},
		},
		Tools: []domain.ToolDefinition{helpToolDef()},
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}

	if got.Model != "gpt-test" || len(got.Tools) != 1 || got.Tools[0].Function.Name != "get_help_text" {
		t.Fatalf("unexpected request: %+v", got)
	}
	if got.Stream {
		t.Fatal("request should not stream")
	}

	want := []domain.ToolCall{{ID: "call_1", Name: "get_help_text", Arguments: map[string]any{"cli_tool_name": "git"}}}
	if diff := cmp.Diff(want, resp.ToolCalls); diff != "" {
		t.Fatalf("tool calls mismatch (-want +got):\n%s", diff)
	}
	if resp.FinishReason != "tool_calls" || resp.Usage.TotalTokens != 18 {
		t.Fatalf("unexpected response metadata: %+v", resp)
	}
}

func TestOpenAI_SendsToolHistory(t *testing.T) {
	var got oaiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"done"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	o := NewOpenAIWithClient(OpenAIConfig{APIBase: srv.URL}, srv.Client())
	resp, err := o.Chat(context.Background(), domain.ChatRequest{Messages: []domain.Message{
		{Role: "assistant", ToolCalls: []domain.ToolCall{{ID: "c1", Name: "get_man_page", Arguments: map[string]any{"cli_tool_name": "tar"}}}},
		{Role: "tool", Content: "TAR(1)", ToolCallID: "c1", ToolName: "get_man_page"},
	}})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Content != "done" {
		t.Fatalf("content = %q", resp.Content)
	}
	if len(got.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(got.Messages))
	}
	if args := got.Messages[0].ToolCalls[0].Function.Arguments; args != `{"cli_tool_name":"tar"}` {
		t.Fatalf("arguments = %s", args)
	}
	if got.Messages[1].ToolCallID != "c1" || got.Messages[1].Name != "get_man_page" {
		t.Fatalf("tool result not linked: %+v", got.Messages[1])
	}
}

func TestOpenAI_NoAuthHeaderWithoutKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Error("Authorization header should be omitted")
		}
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	o := NewOpenAIWithClient(OpenAIConfig{APIBase: srv.URL}, srv.Client())
	resp, err := o.Chat(context.Background(), domain.ChatRequest{})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.FinishReason != "stop" {
		t.Fatalf("finish reason = %q", resp.FinishReason)
	}
}

func TestOpenAI_RetriesServerErrors(t *testing.T) {
	fastRetries(t)
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if hits < 3 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	o := NewOpenAIWithClient(OpenAIConfig{APIBase: srv.URL}, srv.Client())
	resp, err := o.Chat(context.Background(), domain.ChatRequest{})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Content != "ok" || hits != 3 {
		t.Fatalf("content=%q hits=%d", resp.Content, hits)
	}
}

func TestOpenAI_ClientErrorNotRetried(t *testing.T) {
	fastRetries(t)
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		http.Error(w, `{"error":"bad model"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	o := NewOpenAIWithClient(OpenAIConfig{APIBase: srv.URL}, srv.Client())
	if _, err := o.Chat(context.Background(), domain.ChatRequest{}); err == nil {
		t.Fatal("expected error for 400")
	}
	if hits != 1 {
		t.Fatalf("400 should not be retried, got %d hits", hits)
	}
}

func TestOpenAI_Healthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	good := NewOpenAIWithClient(OpenAIConfig{APIKey: "good", APIBase: srv.URL}, srv.Client())
	if err := good.Healthy(context.Background()); err != nil {
		t.Fatalf("expected healthy: %v", err)
	}
	bad := NewOpenAIWithClient(OpenAIConfig{APIKey: "bad", APIBase: srv.URL}, srv.Client())
	if err := bad.Healthy(context.Background()); err == nil {
		t.Fatal("expected invalid key error")
	}
}

func TestDecodeArguments(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want map[string]any
	}{
		{"object", `{"cli_tool_name":"ls"}`, map[string]any{"cli_tool_name": "ls"}},
		{"string wrapped", `"{\"cli_tool_name\":\"ls\"}"`, map[string]any{"cli_tool_name": "ls"}},
		{"empty", ``, map[string]any{}},
		{"garbage", `not json`, map[string]any{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if diff := cmp.Diff(tc.want, decodeArguments(json.RawMessage(tc.raw))); diff != "" {
				t.Fatalf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
