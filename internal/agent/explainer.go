package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cliexplainer/internal/domain"
	"cliexplainer/internal/tool"

	"github.com/google/uuid"
)

const (
	defaultMaxRounds    = 20
	defaultMaxToolCalls = 40
	defaultTurnTimeout  = 5 * time.Minute

	noAnswer = "I gathered the tool's documentation but the model returned no answer. Try rephrasing the question."
)

// Invocation records one tool call the model asked for.
type Invocation struct {
	Name      string
	Args      map[string]any
	Duplicate bool // already answered earlier in the turn; not re-run
	Elapsed   time.Duration
}

// Explanation is the outcome of one question.
type Explanation struct {
	TurnID          string
	Answer          string
	Calls           []Invocation
	Rounds          int  // provider requests made
	BudgetExhausted bool // the turn ran out of tool calls or rounds
	Usage           domain.Usage
	// Messages is the turn's conversation after the system prompt, ending
	// with the answer. Pass it as history to ask a follow-up about the same tool.
	Messages []domain.Message
}

// ToolCallObserver is told about every call before it runs.
type ToolCallObserver func(inv Invocation)

// Explainer drives the provider's tool calling for a single query: it offers
// the help and manual tools, runs whatever the model asks for in order, and
// returns the model's final text.
type Explainer struct {
	provider     domain.Provider
	tools        *tool.Registry
	help         *tool.HelpFetcher
	prompt       *PromptBuilder
	logger       *slog.Logger
	observer     ToolCallObserver
	maxRounds    int
	maxToolCalls int
	timeout      time.Duration
	model        string
	maxTokens    int
	temperature  float64
}

// ExplainerConfig holds the dependencies and limits for an Explainer.
type ExplainerConfig struct {
	Provider domain.Provider
	Tools    *tool.Registry
	// Help is used directly when the provider cannot call tools.
	Help         *tool.HelpFetcher
	Prompt       *PromptBuilder
	Logger       *slog.Logger
	Observer     ToolCallObserver
	MaxRounds    int
	MaxToolCalls int
	Timeout      time.Duration // whole turn; negative disables
	Model        string        // overrides the provider default
	MaxTokens    int
	Temperature  float64
}

func NewExplainer(cfg ExplainerConfig) *Explainer {
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = defaultMaxRounds
	}
	if cfg.MaxToolCalls <= 0 {
		cfg.MaxToolCalls = defaultMaxToolCalls
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTurnTimeout
	}
	if cfg.Prompt == nil {
		cfg.Prompt = NewPromptBuilder("")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Explainer{
		provider:     cfg.Provider,
		tools:        cfg.Tools,
		help:         cfg.Help,
		prompt:       cfg.Prompt,
		logger:       cfg.Logger,
		observer:     cfg.Observer,
		maxRounds:    cfg.MaxRounds,
		maxToolCalls: cfg.MaxToolCalls,
		timeout:      cfg.Timeout,
		model:        cfg.Model,
		maxTokens:    cfg.MaxTokens,
		temperature:  cfg.Temperature,
	}
}

// SetObserver replaces the tool-call observer. Not safe to call while Explain runs.
func (e *Explainer) SetObserver(fn ToolCallObserver) {
	e.observer = fn
}

// ProviderName reports which backend answers questions.
func (e *Explainer) ProviderName() string {
	return e.provider.Name()
}

// Explain answers q, continuing from history when it is non-empty. Provider
// failures are returned wrapped; tool failures are handed to the model as text
// and never end the turn.
func (e *Explainer) Explain(ctx context.Context, q domain.Query, history []domain.Message) (*Explanation, error) {
	if e.provider == nil {
		return nil, fmt.Errorf("explain %s: no provider configured", q.ToolName())
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	exp := &Explanation{TurnID: uuid.NewString()}
	logger := e.logger.With("turn", exp.TurnID, "tool", q.ToolName())
	logger.Info("explaining", "provider", e.provider.Name(), "query_len", len(q.Query()), "history", len(history))

	if !e.provider.SupportsToolCalling() || e.tools == nil {
		return e.explainInline(ctx, q, history, exp, logger)
	}

	messages := e.prompt.BuildMessages(q, history)
	turnStart := 1 + len(history)
	defs := e.tools.GetDefinitions()
	results := make(map[string]bool) // call key → already executed
	executed := 0

	for exp.Rounds < e.maxRounds {
		resp, err := e.chat(ctx, exp, messages, defs)
		if err != nil {
			return nil, fmt.Errorf("explain %s: %w", q.ToolName(), err)
		}
		logger.Debug("model replied", "round", exp.Rounds, "tool_calls", len(resp.ToolCalls), "content_len", len(resp.Content))

		e.recoverContentToolCalls(resp, logger)
		if !resp.HasToolCalls() {
			exp.Answer = finalAnswer(resp.Content)
			exp.Messages = turnMessages(messages[turnStart:], exp.Answer)
			return exp, nil
		}

		for i := range resp.ToolCalls {
			if resp.ToolCalls[i].ID == "" {
				resp.ToolCalls[i].ID = uuid.NewString()
			}
		}
		messages = e.prompt.AddAssistantMessage(messages, resp.Content, resp.ToolCalls)

		exhausted := false
		for _, tc := range resp.ToolCalls {
			inv := Invocation{Name: tc.Name, Args: tc.Arguments}
			key := callKey(tc)

			if executed >= e.maxToolCalls && !results[key] {
				exhausted = true
				messages = e.prompt.AddToolResult(messages, tc.ID, tc.Name, "Tool call limit reached; this call was not run.")
				continue
			}

			var result string
			if results[key] {
				inv.Duplicate = true
				result = fmt.Sprintf("You already called %s with these arguments; its result is earlier in this conversation. Do not call it again with the same inputs.", tc.Name)
				logger.Debug("duplicate tool call", "call", key)
			} else {
				e.notify(inv)
				start := time.Now()
				result = e.executeTool(ctx, tc, logger)
				inv.Elapsed = time.Since(start)
				results[key] = true
				executed++
			}
			exp.Calls = append(exp.Calls, inv)
			messages = e.prompt.AddToolResult(messages, tc.ID, tc.Name, result)
		}

		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("explain %s: %w", q.ToolName(), err)
		}
		if exhausted {
			break
		}
	}

	// Out of rounds or tool calls: one last request without tools.
	exp.BudgetExhausted = true
	logger.Warn("tool budget exhausted, requesting final answer",
		"rounds", exp.Rounds, "tool_calls", executed)
	messages = append(messages, domain.Message{Role: "user", Content: budgetExhaustedPrompt})
	resp, err := e.chat(ctx, exp, messages, nil)
	if err != nil {
		return nil, fmt.Errorf("explain %s: %w", q.ToolName(), err)
	}
	exp.Answer = finalAnswer(resp.Content)
	exp.Messages = turnMessages(messages[turnStart:], exp.Answer)
	return exp, nil
}

// explainInline serves providers without tool calling: the top-level help is
// fetched here and pasted into a single request.
func (e *Explainer) explainInline(ctx context.Context, q domain.Query, history []domain.Message, exp *Explanation, logger *slog.Logger) (*Explanation, error) {
	if e.help == nil {
		return nil, fmt.Errorf("explain %s: provider %s does not support tool calling", q.ToolName(), e.provider.Name())
	}
	logger.Info("provider lacks tool calling, inlining help text")

	inv := Invocation{Name: tool.HelpToolName, Args: map[string]any{"cli_tool_name": q.ToolName()}}
	e.notify(inv)
	start := time.Now()
	text, res := e.help.Lookup(ctx, q.ToolName(), "")
	inv.Elapsed = time.Since(start)
	exp.Calls = append(exp.Calls, inv)

	if res.NotFound {
		exp.Answer = text
		return exp, nil
	}

	messages := e.prompt.BuildInlineMessages(q, text, history)
	resp, err := e.chat(ctx, exp, messages, nil)
	if err != nil {
		return nil, fmt.Errorf("explain %s: %w", q.ToolName(), err)
	}
	exp.Answer = finalAnswer(resp.Content)
	exp.Messages = turnMessages(messages[1+len(history):], exp.Answer)
	return exp, nil
}

// turnMessages returns a copy of turn followed by the answer.
func turnMessages(turn []domain.Message, answer string) []domain.Message {
	out := make([]domain.Message, 0, len(turn)+1)
	out = append(out, turn...)
	return append(out, domain.Message{Role: "assistant", Content: answer})
}

func (e *Explainer) chat(ctx context.Context, exp *Explanation, messages []domain.Message, defs []domain.ToolDefinition) (*domain.ChatResponse, error) {
	resp, err := e.provider.Chat(ctx, domain.ChatRequest{
		Messages:    messages,
		Tools:       defs,
		Model:       e.model,
		MaxTokens:   e.maxTokens,
		Temperature: e.temperature,
	})
	exp.Rounds++
	if err != nil {
		return nil, fmt.Errorf("LLM error: %w", err)
	}
	if resp == nil {
		return nil, fmt.Errorf("LLM error: empty response from %s", e.provider.Name())
	}
	exp.Usage.PromptTokens += resp.Usage.PromptTokens
	exp.Usage.CompletionTokens += resp.Usage.CompletionTokens
	exp.Usage.TotalTokens += resp.Usage.TotalTokens
	return resp, nil
}

// recoverContentToolCalls handles models that write the call as JSON text.
// Only calls naming a registered tool are accepted, so an answer that merely
// contains a JSON example stays an answer.
func (e *Explainer) recoverContentToolCalls(resp *domain.ChatResponse, logger *slog.Logger) {
	if resp.HasToolCalls() || resp.Content == "" {
		return
	}
	extracted := extractToolCallsFromContent(resp.Content)
	if len(extracted) == 0 {
		return
	}
	for _, tc := range extracted {
		if e.tools.Get(tc.Name) == nil {
			return
		}
	}
	resp.ToolCalls = extracted
	resp.Content = ""
	logger.Info("extracted tool calls from content text", "count", len(extracted))
}

func (e *Explainer) executeTool(ctx context.Context, tc domain.ToolCall, logger *slog.Logger) string {
	logger.Info("executing tool", "name", tc.Name, "args", tc.Arguments)
	result, err := e.tools.Execute(ctx, tc.Name, tc.Arguments)
	if err != nil {
		logger.Warn("tool failed", "name", tc.Name, "error", err)
		return fmt.Sprintf("Error executing tool %s: %s", tc.Name, err.Error())
	}
	logger.Debug("tool completed", "name", tc.Name, "result_len", len(result))
	return result
}

func (e *Explainer) notify(inv Invocation) {
	if e.observer != nil {
		e.observer(inv)
	}
}

func finalAnswer(content string) string {
	answer := strings.TrimSpace(stripRolePrefix(content))
	if answer == "" {
		return noAnswer
	}
	return answer
}

// callKey identifies a call by name and arguments. String values are trimmed
// and empty ones dropped, so {"subcommand": ""} matches an omitted subcommand.
func callKey(tc domain.ToolCall) string {
	norm := make(map[string]any, len(tc.Arguments))
	for k, v := range tc.Arguments {
		switch val := v.(type) {
		case nil:
			continue
		case string:
			if s := strings.TrimSpace(val); s != "" {
				norm[k] = s
			}
		default:
			norm[k] = val
		}
	}
	// encoding/json sorts map keys, which makes the encoding canonical.
	b, err := json.Marshal(norm)
	if err != nil {
		return tc.Name + fmt.Sprint(norm)
	}
	return tc.Name + string(b)
}
