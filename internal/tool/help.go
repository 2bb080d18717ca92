package tool

import (
	"context"
	"fmt"
	"strings"
)

const helpFlag = "-h"

// HelpFetcher runs `<tool> [subcommand] -h` and returns what the program printed.
type HelpFetcher struct {
	runner Runner
}

func NewHelpFetcher(runner Runner) *HelpFetcher {
	return &HelpFetcher{runner: runner}
}

// HelpArgs builds the argument vector for a help request. An empty subcommand is omitted.
func HelpArgs(toolName, subcommand string) []string {
	argv := []string{toolName}
	if sub := strings.TrimSpace(subcommand); sub != "" {
		argv = append(argv, sub)
	}
	return append(argv, helpFlag)
}

// Fetch never fails: a missing program, a non-zero exit and a timeout all come
// back as strings starting with "Error: ".
func (f *HelpFetcher) Fetch(ctx context.Context, toolName, subcommand string) string {
	text, _ := f.Lookup(ctx, toolName, subcommand)
	return text
}

// Lookup is Fetch that also hands back the raw process result, for callers
// that need to tell a missing program apart from help text.
func (f *HelpFetcher) Lookup(ctx context.Context, toolName, subcommand string) (string, RunResult) {
	res := f.runner.Run(ctx, HelpArgs(toolName, subcommand))
	switch {
	case res.NotFound:
		return fmt.Sprintf("Error: Command '%s' not found.", toolName), res
	case res.TimedOut:
		return fmt.Sprintf("Error: Command '%s' timed out.", toolName), res
	case res.Err != nil:
		return "Error: " + res.Err.Error(), res
	case res.ExitCode != 0:
		return "Error: " + diagnostic(res), res
	}
	return res.Stdout, res
}

// diagnostic picks the text that explains a failed run. Plenty of programs
// (git among them) print usage on stdout and exit non-zero for -h, leaving
// stderr empty.
func diagnostic(res RunResult) string {
	if strings.TrimSpace(res.Stderr) != "" {
		return res.Stderr
	}
	return res.Stdout
}
