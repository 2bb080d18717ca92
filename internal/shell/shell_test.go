package shell

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"cliexplainer/internal/agent"
	"cliexplainer/internal/domain"

	"github.com/google/go-cmp/cmp"
)

type fakeExplainer struct {
	queries   []string
	histories [][]domain.Message
	fn        func(ctx context.Context, q domain.Query) (*agent.Explanation, error)
}

func (f *fakeExplainer) Explain(ctx context.Context, q domain.Query, history []domain.Message) (*agent.Explanation, error) {
	f.queries = append(f.queries, q.String())
	f.histories = append(f.histories, history)
	if f.fn != nil {
		return f.fn(ctx, q)
	}
	answer := "answer for " + q.ToolName()
	return &agent.Explanation{Answer: answer, Messages: []domain.Message{
		{Role: "user", Content: q.Query()},
		{Role: "assistant", Content: answer},
	}}, nil
}

func newTestShell(t *testing.T, in io.Reader, ex Explainer) (*Shell, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	r, err := NewRenderer(&out, RenderConfig{Style: "notty", WordWrap: 80})
	if err != nil {
		t.Fatalf("NewRenderer: %v", err)
	}
	sh, err := New(Config{
		Explainer: ex,
		In:        in,
		Out:       &out,
		Renderer:  r,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return sh, &out
}

func TestParseInput(t *testing.T) {
	tests := []struct {
		line     string
		tool     string
		question string
		err      error
	}{
		{"git show me how to create a branch", "git", "show me how to create a branch", nil},
		{"  tar \t extract   foo.tgz ", "tar", "extract   foo.tgz", nil},
		{"kubectl\tget pods", "kubectl", "get pods", nil},
		{"git", "", "", ErrMissingQuestion},
		{"   ", "", "", domain.ErrEmptyToolName},
	}
	for _, tt := range tests {
		q, err := ParseInput(tt.line)
		if !errors.Is(err, tt.err) {
			t.Errorf("ParseInput(%q) error = %v, want %v", tt.line, err, tt.err)
			continue
		}
		if err != nil {
			continue
		}
		if q.ToolName() != tt.tool || q.Query() != tt.question {
			t.Errorf("ParseInput(%q) = (%q, %q), want (%q, %q)", tt.line, q.ToolName(), q.Query(), tt.tool, tt.question)
		}
	}
}

func TestRun_AnswersThenQuits(t *testing.T) {
	ex := &fakeExplainer{}
	sh, out := newTestShell(t, strings.NewReader("git show me how to create a branch\nQuit\nls ignored\n"), ex)

	if err := sh.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if diff := cmp.Diff([]string{"git: show me how to create a branch"}, ex.queries); diff != "" {
		t.Fatalf("queries mismatch (-want +got):\n%s", diff)
	}
	got := out.String()
	for _, want := range []string{BannerText, Prompt, "Thinking...", "Explanation", "answer for git", "╭"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestRun_SingleTokenShowsHint(t *testing.T) {
	ex := &fakeExplainer{}
	sh, out := newTestShell(t, strings.NewReader("git\nquit\n"), ex)

	if err := sh.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(ex.queries) != 0 {
		t.Fatalf("explainer should not run, got %v", ex.queries)
	}
	if !strings.Contains(out.String(), usageHint) {
		t.Fatalf("expected usage hint:\n%s", out.String())
	}
}

func TestRun_EmptyLineReprompts(t *testing.T) {
	ex := &fakeExplainer{}
	sh, out := newTestShell(t, strings.NewReader("\n   \nquit\n"), ex)

	if err := sh.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n := strings.Count(out.String(), Prompt); n != 3 {
		t.Fatalf("expected 3 prompts, got %d", n)
	}
}

func TestRun_ErrorReportedAndLoopContinues(t *testing.T) {
	calls := 0
	ex := &fakeExplainer{fn: func(_ context.Context, q domain.Query) (*agent.Explanation, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("explain git: LLM error: connection refused")
		}
		return &agent.Explanation{Answer: "second answer"}, nil
	}}
	sh, out := newTestShell(t, strings.NewReader("git one\ngit two\n"), ex)

	if err := sh.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "An error occurred: explain git: LLM error: connection refused") {
		t.Fatalf("error not rendered:\n%s", got)
	}
	if !strings.Contains(got, "second answer") {
		t.Fatalf("loop should continue after an error:\n%s", got)
	}
}

func TestRun_PanicRecovered(t *testing.T) {
	ex := &fakeExplainer{fn: func(context.Context, domain.Query) (*agent.Explanation, error) {
		panic("nil map")
	}}
	sh, out := newTestShell(t, strings.NewReader("git q\nquit\n"), ex)

	if err := sh.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(out.String(), "An error occurred: nil map") {
		t.Fatalf("panic not reported:\n%s", out.String())
	}
}

func TestRun_EOFExits(t *testing.T) {
	sh, _ := newTestShell(t, strings.NewReader(""), &fakeExplainer{})
	if err := sh.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestRun_CancelWhileWaiting(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	sh, out := newTestShell(t, pr, &fakeExplainer{})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- sh.Run(ctx) }()
	cancel()

	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if !strings.Contains(out.String(), "Exiting...") {
		t.Fatalf("expected exit notice:\n%s", out.String())
	}
}

func TestRun_CancelWhileProcessing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ex := &fakeExplainer{fn: func(ctx context.Context, _ domain.Query) (*agent.Explanation, error) {
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	sh, out := newTestShell(t, strings.NewReader("git q\ngit never\n"), ex)

	if err := sh.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(ex.queries) != 1 {
		t.Fatalf("expected one turn, got %v", ex.queries)
	}
	got := out.String()
	if !strings.Contains(got, "Exiting...") || strings.Contains(got, "An error occurred") {
		t.Fatalf("interrupt should exit quietly:\n%s", got)
	}
}

func TestAsk_BudgetNotice(t *testing.T) {
	ex := &fakeExplainer{fn: func(context.Context, domain.Query) (*agent.Explanation, error) {
		return &agent.Explanation{Answer: "partial", BudgetExhausted: true}, nil
	}}
	sh, out := newTestShell(t, strings.NewReader(""), ex)

	if err := sh.Ask(context.Background(), "ffmpeg convert to mp3"); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if !strings.Contains(out.String(), "budget reached") {
		t.Fatalf("expected budget notice:\n%s", out.String())
	}
}

func TestAsk_FollowUpSendsPreviousTurnForSameTool(t *testing.T) {
	ex := &fakeExplainer{}
	sh, _ := newTestShell(t, strings.NewReader(""), ex)
	ctx := context.Background()

	for _, line := range []string{"git create a branch", "git delete it", "ls show hidden files"} {
		if err := sh.Ask(ctx, line); err != nil {
			t.Fatalf("Ask(%q): %v", line, err)
		}
	}

	if ex.histories[0] != nil {
		t.Fatalf("first question should start fresh, got %v", ex.histories[0])
	}
	want := []domain.Message{
		{Role: "user", Content: "create a branch"},
		{Role: "assistant", Content: "answer for git"},
	}
	if diff := cmp.Diff(want, ex.histories[1]); diff != "" {
		t.Fatalf("follow-up history (-want +got):\n%s", diff)
	}
	if ex.histories[2] != nil {
		t.Fatalf("a different tool should start fresh, got %v", ex.histories[2])
	}
}

func TestAsk_FailedTurnKeepsEarlierHistory(t *testing.T) {
	fail := false
	ex := &fakeExplainer{}
	ex.fn = func(_ context.Context, q domain.Query) (*agent.Explanation, error) {
		if fail {
			return nil, errors.New("LLM error: timeout")
		}
		return &agent.Explanation{Answer: "a", Messages: []domain.Message{{Role: "user", Content: q.Query()}}}, nil
	}
	sh, _ := newTestShell(t, strings.NewReader(""), ex)
	ctx := context.Background()

	sh.Ask(ctx, "git first")
	fail = true
	sh.Ask(ctx, "git second")
	fail = false
	sh.Ask(ctx, "git third")

	if len(ex.histories[2]) != 1 || ex.histories[2][0].Content != "first" {
		t.Fatalf("expected the last answered turn, got %v", ex.histories[2])
	}
}

func TestRun_SwitchClearsHistory(t *testing.T) {
	ex := &fakeExplainer{}
	sh, out := newTestShell(t, strings.NewReader("git one
SWITCH
git two
quit
"), ex)

	if err := sh.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(ex.queries) != 2 {
		t.Fatalf("switch must not reach the explainer, got %v", ex.queries)
	}
	if ex.histories[1] != nil {
		t.Fatalf("history should be cleared by switch, got %v", ex.histories[1])
	}
	if !strings.Contains(out.String(), "Conversation cleared") {
		t.Fatalf("expected switch notice:\n%s", out.String())
	}
}

func TestAsk_ReturnsValidationError(t *testing.T) {
	sh, _ := newTestShell(t, strings.NewReader(""), &fakeExplainer{})
	if err := sh.Ask(context.Background(), "git"); !errors.Is(err, ErrMissingQuestion) {
		t.Fatalf("expected ErrMissingQuestion, got %v", err)
	}
}

func TestObserveCall_UpdatesStatus(t *testing.T) {
	sh, out := newTestShell(t, strings.NewReader(""), &fakeExplainer{})

	sh.spinner.Start()
	sh.ObserveCall(agent.Invocation{Name: "get_help_text", Args: map[string]any{"cli_tool_name": "git", "subcommand": "branch"}})
	sh.ObserveCall(agent.Invocation{Name: "get_man_page", Args: map[string]any{"cli_tool_name": "git"}})
	sh.spinner.Stop()

	got := out.String()
	for _, want := range []string{"Reading `git branch -h`...", "Reading the man page for git..."} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestNew_RequiresExplainer(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected an error")
	}
}

func TestMarkdownStyle(t *testing.T) {
	tests := []struct {
		style    string
		terminal bool
		want     string
	}{
		{"", false, "notty"},
		{"", true, "auto"},
		{"auto", false, "notty"},
		{"auto", true, "auto"},
		{"dark", false, "dark"},
		{"notty", true, "notty"},
	}
	for _, tt := range tests {
		if got := markdownStyle(tt.style, tt.terminal); got != tt.want {
			t.Errorf("markdownStyle(%q, %v) = %q, want %q", tt.style, tt.terminal, got, tt.want)
		}
	}
}

func TestRenderer_AutoOffTerminalIsPlain(t *testing.T) {
	var out bytes.Buffer
	r, err := NewRenderer(&out, RenderConfig{Style: "auto"})
	if err != nil {
		t.Fatalf("NewRenderer: %v", err)
	}
	r.Explanation("**bold** text")
	if strings.Contains(out.String(), "\x1b[") {
		t.Fatalf("expected no ANSI escapes off a terminal:\n%q", out.String())
	}
}
