package shell

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"unicode"

	"cliexplainer/internal/agent"
	"cliexplainer/internal/domain"
	"cliexplainer/internal/tool"
)

const (
	Prompt     = "Enter the CLI tool and your question (or 'quit' to exit): "
	BannerText = "CLI Tool Explainer"

	quitKeyword   = "quit"
	switchKeyword = "switch"
	usageHint   = "Please enter a CLI tool followed by your question, e.g. 'git how do I create a branch'."
	maxLineSize = 1 << 20
)

// ErrMissingQuestion is returned by ParseInput for a line holding only a tool name.
var ErrMissingQuestion = errors.New("a question is required after the tool name")

// Explainer answers one query, continuing from history when it is non-empty.
// *agent.Explainer satisfies it.
type Explainer interface {
	Explain(ctx context.Context, q domain.Query, history []domain.Message) (*agent.Explanation, error)
}

// Shell is the interactive prompt loop.
type Shell struct {
	explainer Explainer
	in        io.Reader
	out       io.Writer
	render    *Renderer
	spinner   *Spinner
	logger    *slog.Logger

	// The last answered turn, offered as context while questions keep
	// naming the same tool.
	historyTool string
	history     []domain.Message
}

type Config struct {
	Explainer Explainer
	In        io.Reader
	Out       io.Writer
	Renderer  *Renderer // nil builds one with the default style
	Logger    *slog.Logger
	Animate   bool // animate the spinner; leave off when out is not a terminal
}

func New(cfg Config) (*Shell, error) {
	if cfg.Explainer == nil {
		return nil, errors.New("shell: explainer is required")
	}
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Renderer == nil {
		r, err := NewRenderer(cfg.Out, RenderConfig{})
		if err != nil {
			return nil, err
		}
		cfg.Renderer = r
	}
	return &Shell{
		explainer: cfg.Explainer,
		in:        cfg.In,
		out:       cfg.Out,
		render:    cfg.Renderer,
		spinner:   NewSpinner(cfg.Out, cfg.Animate),
		logger:    cfg.Logger,
	}, nil
}

// ParseInput splits line at the first run of whitespace into tool name and question.
func ParseInput(line string) (domain.Query, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return domain.Query{}, domain.ErrEmptyToolName
	}
	i := strings.IndexFunc(line, unicode.IsSpace)
	if i < 0 {
		return domain.Query{}, ErrMissingQuestion
	}
	return domain.NewQuery(line[:i], line[i:])
}

// Run shows the banner and serves questions until quit, end of input or ctx
// cancellation. Failed turns are reported and the loop continues.
func (s *Shell) Run(ctx context.Context) error {
	s.render.Banner(BannerText)

	lines := make(chan string)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go s.readLines(lines, readErr, done)

	fmt.Fprint(s.out, Prompt)
	for {
		select {
		case <-ctx.Done():
			s.exiting()
			return nil
		case err := <-readErr:
			fmt.Fprintln(s.out)
			if err != nil {
				return fmt.Errorf("read input: %w", err)
			}
			return nil
		case line := <-lines:
			line = strings.TrimSpace(line)
			if line == "" {
				fmt.Fprint(s.out, Prompt)
				continue
			}
			if strings.EqualFold(line, quitKeyword) {
				s.logger.Info("user requested quit")
				return nil
			}
			if strings.EqualFold(line, switchKeyword) {
				s.Reset()
				s.render.Notice("Conversation cleared. Ask about any tool.")
				fmt.Fprint(s.out, "\n"+Prompt)
				continue
			}
			if err := s.Ask(ctx, line); err != nil && ctx.Err() != nil {
				s.exiting()
				return nil
			}
			fmt.Fprint(s.out, "\n"+Prompt)
		}
	}
}

// Ask runs a single turn for line and renders the answer or the failure.
func (s *Shell) Ask(ctx context.Context, line string) error {
	q, err := ParseInput(line)
	if err != nil {
		s.render.Error(usageHint)
		return err
	}

	if q.ToolName() != s.historyTool {
		s.Reset()
	}
	exp, err := s.explain(ctx, q, s.history)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Warn("explain failed", "tool", q.ToolName(), "error", err)
		s.render.Error("An error occurred: " + err.Error())
		return err
	}

	s.historyTool, s.history = q.ToolName(), exp.Messages
	s.render.Explanation(exp.Answer)
	if exp.BudgetExhausted {
		s.render.Notice("Tool call budget reached; the answer may be incomplete.")
	}
	s.logger.Info("explained", "tool", q.ToolName(), "calls", len(exp.Calls), "rounds", exp.Rounds)
	return nil
}

// Reset drops the follow-up context so the next question starts fresh.
func (s *Shell) Reset() {
	s.historyTool, s.history = "", nil
}

// ObserveCall updates the spinner with the documentation being read. It is
// meant to be installed as the explainer's tool-call observer.
func (s *Shell) ObserveCall(inv agent.Invocation) {
	name := tool.ArgsString(inv.Args, "cli_tool_name")
	switch inv.Name {
	case tool.HelpToolName:
		argv := tool.HelpArgs(name, tool.ArgsString(inv.Args, "subcommand"))
		s.spinner.SetLabel("Reading `" + strings.Join(argv, " ") + "`...")
	case tool.ManToolName:
		s.spinner.SetLabel("Reading the man page for " + name + "...")
	}
}

func (s *Shell) explain(ctx context.Context, q domain.Query, history []domain.Message) (exp *agent.Explanation, err error) {
	s.spinner.Start()
	defer s.spinner.Stop()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("explainer panicked", "tool", q.ToolName(), "panic", r)
			exp, err = nil, fmt.Errorf("%v", r)
		}
	}()
	return s.explainer.Explain(ctx, q, history)
}

func (s *Shell) exiting() {
	s.spinner.Stop()
	fmt.Fprintln(s.out)
	s.render.Notice("Exiting...")
}

// readLines feeds lines from the input until EOF or until done is closed.
func (s *Shell) readLines(lines chan<- string, errc chan<- error, done <-chan struct{}) {
	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		select {
		case lines <- scanner.Text():
		case <-done:
			return
		}
	}
	errc <- scanner.Err()
}
