package tool

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	HelpToolName = "get_help_text"
	ManToolName  = "get_man_page"

	defaultMaxOutputBytes = 65536
	truncatedMarker       = "\n... (output truncated)"
)

// HelpTool exposes a HelpFetcher to the model.
type HelpTool struct {
	fetcher        *HelpFetcher
	maxOutputBytes int
}

// NewHelpTool caps results at maxOutputBytes; 0 uses the default, negative disables the cap.
func NewHelpTool(fetcher *HelpFetcher, maxOutputBytes int) *HelpTool {
	return &HelpTool{fetcher: fetcher, maxOutputBytes: outputCap(maxOutputBytes)}
}

func (t *HelpTool) Name() string { return HelpToolName }

func (t *HelpTool) Description() string {
	return "Gets help text for a tool or subcommand using the '-h' flag. Takes the tool name and an optional subcommand."
}

func (t *HelpTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"cli_tool_name": {Type: "string", Description: "The name of the CLI tool."},
			"subcommand":    {Type: "string", Description: "The subcommand (optional)."},
		},
		[]string{"cli_tool_name"},
	)
}

func (t *HelpTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	name := strings.TrimSpace(ArgsString(args, "cli_tool_name"))
	if name == "" {
		return "", fmt.Errorf("missing argument: cli_tool_name")
	}
	out := t.fetcher.Fetch(ctx, name, ArgsString(args, "subcommand"))
	return truncate(out, t.maxOutputBytes), nil
}

// ManTool exposes a ManFetcher to the model.
type ManTool struct {
	fetcher        *ManFetcher
	maxOutputBytes int
}

func NewManTool(fetcher *ManFetcher, maxOutputBytes int) *ManTool {
	return &ManTool{fetcher: fetcher, maxOutputBytes: outputCap(maxOutputBytes)}
}

func (t *ManTool) Name() string { return ManToolName }

func (t *ManTool) Description() string {
	return "Gets the man page for a tool. Takes the tool name."
}

func (t *ManTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"cli_tool_name": {Type: "string", Description: "The name of the CLI tool."},
		},
		[]string{"cli_tool_name"},
	)
}

func (t *ManTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	name := strings.TrimSpace(ArgsString(args, "cli_tool_name"))
	if name == "" {
		return "", fmt.Errorf("missing argument: cli_tool_name")
	}
	return truncate(t.fetcher.Fetch(ctx, name), t.maxOutputBytes), nil
}

func outputCap(n int) int {
	if n == 0 {
		return defaultMaxOutputBytes
	}
	return n
}

// truncate cuts s to at most limit bytes without splitting a rune.
func truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + truncatedMarker
}
