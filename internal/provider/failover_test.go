package provider

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"cliexplainer/internal/domain"
)

// mockProvider implements domain.Provider for testing.
type mockProvider struct {
	name      string
	healthy   bool
	chatErr   error
	chatResp  *domain.ChatResponse
	toolCalls bool
	calls     int
}

func (m *mockProvider) Name() string              { return m.name }
func (m *mockProvider) Models() []string          { return []string{"test-model"} }
func (m *mockProvider) SupportsToolCalling() bool { return m.toolCalls }

func (m *mockProvider) Healthy(ctx context.Context) error {
	if !m.healthy {
		return errors.New("unhealthy")
	}
	return nil
}

func (m *mockProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	m.calls++
	if m.chatErr != nil {
		return nil, m.chatErr
	}
	return m.chatResp, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFailoverProvider_UsesFirstProvider(t *testing.T) {
	p1 := &mockProvider{name: "primary", chatResp: &domain.ChatResponse{Content: "from-primary"}}
	p2 := &mockProvider{name: "secondary", chatResp: &domain.ChatResponse{Content: "from-secondary"}}
	fp := NewFailoverProvider([]domain.Provider{p1, p2}, testLogger())

	resp, err := fp.Chat(context.Background(), domain.ChatRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "from-primary" {
		t.Fatalf("expected 'from-primary', got %q", resp.Content)
	}
	if p2.calls != 0 {
		t.Fatalf("secondary should not be called, got %d calls", p2.calls)
	}
}

func TestFailoverProvider_FallsBackOnError(t *testing.T) {
	p1 := &mockProvider{name: "primary", chatErr: errors.New("api error")}
	p2 := &mockProvider{name: "secondary", chatResp: &domain.ChatResponse{Content: "from-secondary"}}
	fp := NewFailoverProvider([]domain.Provider{p1, p2}, testLogger())

	resp, err := fp.Chat(context.Background(), domain.ChatRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "from-secondary" {
		t.Fatalf("expected 'from-secondary', got %q", resp.Content)
	}
}

func TestFailoverProvider_AllProvidersFail(t *testing.T) {
	last := errors.New("fail 2")
	p1 := &mockProvider{name: "p1", chatErr: errors.New("fail 1")}
	p2 := &mockProvider{name: "p2", chatErr: last}
	fp := NewFailoverProvider([]domain.Provider{p1, p2}, testLogger())

	_, err := fp.Chat(context.Background(), domain.ChatRequest{})
	if !errors.Is(err, last) {
		t.Fatalf("expected last provider error to be wrapped, got %v", err)
	}
}

func TestFailoverProvider_SkipsProvidersWithoutToolCalling(t *testing.T) {
	p1 := &mockProvider{name: "plain", chatResp: &domain.ChatResponse{Content: "plain"}}
	p2 := &mockProvider{name: "tools", toolCalls: true, chatResp: &domain.ChatResponse{Content: "tools"}}
	fp := NewFailoverProvider([]domain.Provider{p1, p2}, testLogger())

	req := domain.ChatRequest{Tools: []domain.ToolDefinition{{Name: "get_help_text"}}}
	resp, err := fp.Chat(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "tools" || p1.calls != 0 {
		t.Fatalf("expected tool-capable provider only, got %q (plain calls=%d)", resp.Content, p1.calls)
	}

	// Without tools the first provider answers.
	resp, err = fp.Chat(context.Background(), domain.ChatRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "plain" {
		t.Fatalf("expected 'plain', got %q", resp.Content)
	}
}

func TestFailoverProvider_NoToolCapableProvider(t *testing.T) {
	fp := NewFailoverProvider([]domain.Provider{&mockProvider{name: "plain"}}, testLogger())
	req := domain.ChatRequest{Tools: []domain.ToolDefinition{{Name: "get_help_text"}}}
	if _, err := fp.Chat(context.Background(), req); !errors.Is(err, errNoCapableProvider) {
		t.Fatalf("expected errNoCapableProvider, got %v", err)
	}
}

func TestFailoverProvider_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p1 := &mockProvider{name: "p1", chatErr: context.Canceled}
	p2 := &mockProvider{name: "p2", chatResp: &domain.ChatResponse{Content: "late"}}
	fp := NewFailoverProvider([]domain.Provider{p1, p2}, testLogger())

	_, err := fp.Chat(ctx, domain.ChatRequest{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if p2.calls != 0 {
		t.Fatal("chain should stop after cancellation")
	}
}

func TestFailoverProvider_Healthy_AtLeastOneHealthy(t *testing.T) {
	p1 := &mockProvider{name: "sick", healthy: false}
	p2 := &mockProvider{name: "well", healthy: true}
	fp := NewFailoverProvider([]domain.Provider{p1, p2}, testLogger())

	if err := fp.Healthy(context.Background()); err != nil {
		t.Fatalf("expected healthy, got: %v", err)
	}
}

func TestFailoverProvider_Healthy_NoneHealthy(t *testing.T) {
	p1 := &mockProvider{name: "sick1", healthy: false}
	p2 := &mockProvider{name: "sick2", healthy: false}
	fp := NewFailoverProvider([]domain.Provider{p1, p2}, testLogger())

	err := fp.Healthy(context.Background())
	if err == nil {
		t.Fatal("expected unhealthy error")
	}
	if !strings.Contains(err.Error(), "sick1") || !strings.Contains(err.Error(), "sick2") {
		t.Fatalf("error should name every provider: %v", err)
	}
}

func TestFailoverProvider_Name(t *testing.T) {
	p1 := &mockProvider{name: "ollama"}
	p2 := &mockProvider{name: "openai"}
	fp := NewFailoverProvider([]domain.Provider{p1, p2}, testLogger())

	if name := fp.Name(); name != "failover(ollama→openai)" {
		t.Fatalf("expected 'failover(ollama→openai)', got %q", name)
	}
}

func TestFailoverProvider_ToolCalling(t *testing.T) {
	mixed := NewFailoverProvider([]domain.Provider{
		&mockProvider{name: "no-tools"},
		&mockProvider{name: "has-tools", toolCalls: true},
	}, testLogger())
	if !mixed.SupportsToolCalling() {
		t.Fatal("expected SupportsToolCalling=true")
	}

	none := NewFailoverProvider([]domain.Provider{
		&mockProvider{name: "no-tools1"},
		&mockProvider{name: "no-tools2"},
	}, testLogger())
	if none.SupportsToolCalling() {
		t.Fatal("expected SupportsToolCalling=false")
	}
}

func TestFailoverProvider_Models_Deduplicated(t *testing.T) {
	fp := NewFailoverProvider([]domain.Provider{&mockProvider{name: "p1"}, &mockProvider{name: "p2"}}, testLogger())

	if models := fp.Models(); len(models) != 1 {
		t.Fatalf("expected 1 unique model, got %d: %v", len(models), models)
	}
}
