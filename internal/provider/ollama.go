package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cliexplainer/internal/domain"

	"github.com/google/uuid"
	"github.com/ollama/ollama/api"
)

const (
	ollamaDefaultBase  = "http://localhost:11434"
	ollamaDefaultModel = "llama3.2"
)

// Ollama implements domain.Provider on the native Ollama chat API.
type Ollama struct {
	client       *api.Client
	apiBase      string
	defaultModel string
	logger       *slog.Logger
}

type OllamaConfig struct {
	APIBase      string
	DefaultModel string
	Timeout      time.Duration
	Logger       *slog.Logger
}

func NewOllama(cfg OllamaConfig) (*Ollama, error) {
	return NewOllamaWithClient(cfg, SharedHTTPClient(cfg.Timeout))
}

func NewOllamaWithClient(cfg OllamaConfig, client *http.Client) (*Ollama, error) {
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = ollamaDefaultModel
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	base := NormalizeOllamaBase(cfg.APIBase)
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama api base %q: %w", cfg.APIBase, err)
	}
	return &Ollama{
		client:       api.NewClient(u, client),
		apiBase:      base,
		defaultModel: cfg.DefaultModel,
		logger:       cfg.Logger,
	}, nil
}

// NormalizeOllamaBase turns the forms users put in OLLAMA_API_BASE or
// OLLAMA_HOST into the native API root: a missing scheme gets http://, and a
// trailing /v1 (the OpenAI-compatible prefix) is dropped.
func NormalizeOllamaBase(base string) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return ollamaDefaultBase
	}
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	base = strings.TrimRight(base, "/")
	base = strings.TrimSuffix(base, "/v1")
	return strings.TrimRight(base, "/")
}

func (o *Ollama) Name() string              { return "ollama" }
func (o *Ollama) Models() []string          { return []string{o.defaultModel} }
func (o *Ollama) SupportsToolCalling() bool { return true }

// APIBase reports the normalized endpoint the client talks to.
func (o *Ollama) APIBase() string { return o.apiBase }

// Healthy checks the server answers and the default model is pulled.
func (o *Ollama) Healthy(ctx context.Context) error {
	if err := o.client.Heartbeat(ctx); err != nil {
		return fmt.Errorf("ollama not reachable at %s: %w", o.apiBase, err)
	}
	if _, err := o.client.Show(ctx, &api.ShowRequest{Model: o.defaultModel}); err != nil {
		return fmt.Errorf("ollama model %s not available (try: ollama pull %s): %w", o.defaultModel, o.defaultModel, err)
	}
	return nil
}

func (o *Ollama) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = o.defaultModel
	}

	msgs, err := toOllamaMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	tools, err := toOllamaTools(req.Tools)
	if err != nil {
		return nil, err
	}

	stream := false
	chatReq := &api.ChatRequest{
		Model:    model,
		Messages: msgs,
		Tools:    tools,
		Stream:   &stream,
		Options:  map[string]any{},
	}
	if req.Temperature > 0 {
		chatReq.Options["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		chatReq.Options["num_predict"] = req.MaxTokens
	}

	start := time.Now()
	var out *domain.ChatResponse
	err = retryCall(ctx, o.logger, func() error {
		var content strings.Builder
		resp := &domain.ChatResponse{}
		cerr := o.client.Chat(ctx, chatReq, func(cr api.ChatResponse) error {
			content.WriteString(cr.Message.Content)
			for _, tc := range cr.Message.ToolCalls {
				call, err := fromOllamaToolCall(tc)
				if err != nil {
					return err
				}
				resp.ToolCalls = append(resp.ToolCalls, call)
			}
			if cr.Done {
				resp.FinishReason = cr.DoneReason
				resp.Usage = domain.Usage{
					PromptTokens:     cr.PromptEvalCount,
					CompletionTokens: cr.EvalCount,
					TotalTokens:      cr.PromptEvalCount + cr.EvalCount,
				}
			}
			return nil
		})
		if cerr != nil {
			return cerr
		}
		resp.Content = content.String()
		out = resp
		return nil
	}, ollamaRetryable)
	if err != nil {
		return nil, fmt.Errorf("ollama chat: %w", err)
	}

	out.LatencyMs = time.Since(start).Milliseconds()
	if out.FinishReason == "" {
		out.FinishReason = "stop"
	}
	return out, nil
}

// ollamaRetryable retries transport failures, 5xx and 429. Anything the
// server rejected outright (unknown model, bad request) is final.
func ollamaRetryable(err error) bool {
	var se api.StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500 || se.StatusCode == http.StatusTooManyRequests
	}
	var ue *url.Error
	return errors.As(err, &ue)
}

// The api package nests anonymous structs inside Tool and ToolCall, so both
// are built from their wire form.

func toOllamaTools(defs []domain.ToolDefinition) (api.Tools, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	tools := make(api.Tools, 0, len(defs))
	for _, d := range defs {
		raw, err := json.Marshal(map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        d.Name,
				"description": d.Description,
				"parameters":  d.Parameters,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("encode tool %s: %w", d.Name, err)
		}
		var t api.Tool
		if err := json.Unmarshal(raw, &t); err != nil {
			return nil, fmt.Errorf("encode tool %s: %w", d.Name, err)
		}
		tools = append(tools, t)
	}
	return tools, nil
}

func toOllamaMessages(in []domain.Message) ([]api.Message, error) {
	msgs := make([]api.Message, 0, len(in))
	for _, m := range in {
		am := api.Message{Role: m.Role, Content: m.Content}
		for _, tc := range m.ToolCalls {
			raw, err := json.Marshal(map[string]any{
				"function": map[string]any{
					"name":      tc.Name,
					"arguments": tc.Arguments,
				},
			})
			if err != nil {
				return nil, fmt.Errorf("encode tool call %s: %w", tc.Name, err)
			}
			var call api.ToolCall
			if err := json.Unmarshal(raw, &call); err != nil {
				return nil, fmt.Errorf("encode tool call %s: %w", tc.Name, err)
			}
			am.ToolCalls = append(am.ToolCalls, call)
		}
		msgs = append(msgs, am)
	}
	return msgs, nil
}

// fromOllamaToolCall converts a returned call. Ollama does not assign call
// IDs, so one is generated for pairing the result message.
func fromOllamaToolCall(tc api.ToolCall) (domain.ToolCall, error) {
	raw, err := json.Marshal(tc.Function.Arguments)
	if err != nil {
		return domain.ToolCall{}, fmt.Errorf("decode tool call %s: %w", tc.Function.Name, err)
	}
	return domain.ToolCall{
		ID:        uuid.NewString(),
		Name:      tc.Function.Name,
		Arguments: decodeArguments(raw),
	}, nil
}
