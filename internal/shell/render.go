package shell

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

const (
	defaultStyle    = "auto"
	plainStyle      = "notty"
	defaultWordWrap = 100
)

// Renderer draws the shell's panels. Colour follows the output writer, so a
// pipe or a file gets plain text inside the borders.
type Renderer struct {
	out    io.Writer
	md     *glamour.TermRenderer
	banner lipgloss.Style
	panel  lipgloss.Style
	title  lipgloss.Style
	errs   lipgloss.Style
	dim    lipgloss.Style
}

type RenderConfig struct {
	Style    string // glamour standard style name
	WordWrap int
	// Terminal reports whether out is a terminal. With the "auto" style a
	// non-terminal gets plain markdown output.
	Terminal bool
}

// markdownStyle picks the glamour style. glamour's own "auto" inspects
// os.Stdout, which need not be the writer being rendered to.
func markdownStyle(style string, terminal bool) string {
	if style == "" {
		style = defaultStyle
	}
	if style == defaultStyle && !terminal {
		return plainStyle
	}
	return style
}

func NewRenderer(out io.Writer, cfg RenderConfig) (*Renderer, error) {
	if cfg.WordWrap <= 0 {
		cfg.WordWrap = defaultWordWrap
	}
	md, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(markdownStyle(cfg.Style, cfg.Terminal)),
		glamour.WithWordWrap(cfg.WordWrap),
	)
	if err != nil {
		return nil, fmt.Errorf("markdown renderer: %w", err)
	}

	lg := lipgloss.NewRenderer(out)
	return &Renderer{
		out: out,
		md:  md,
		banner: lg.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("2")).
			Bold(true).
			Padding(0, 1),
		panel: lg.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("4")).
			Padding(0, 1),
		title: lg.NewStyle().Bold(true).Foreground(lipgloss.Color("4")),
		errs:  lg.NewStyle().Foreground(lipgloss.Color("1")),
		dim:   lg.NewStyle().Faint(true),
	}, nil
}

func (r *Renderer) Banner(text string) {
	fmt.Fprintln(r.out, r.banner.Render(text))
}

// Explanation renders answer as markdown inside the titled panel. Markdown
// that fails to render is shown as-is.
func (r *Renderer) Explanation(answer string) {
	body, err := r.md.Render(answer)
	if err != nil {
		body = answer
	}
	body = strings.Trim(body, "\n")
	fmt.Fprintln(r.out, r.panel.Render(r.title.Render("Explanation")+"\n\n"+body))
}

func (r *Renderer) Error(msg string) {
	fmt.Fprintln(r.out, r.errs.Render(msg))
}

// Notice prints a faint status line.
func (r *Renderer) Notice(msg string) {
	fmt.Fprintln(r.out, r.dim.Render(msg))
}
