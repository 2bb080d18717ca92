package tool

import (
	"context"
	"fmt"
)

const (
	defaultManProgram = "man"
	manNotFoundMsg    = "Error: 'man' command not found.  Is it installed?"
	manErrorPrefix    = "Error getting man page: "
)

// ManFetcher runs the manual page viewer for a tool.
type ManFetcher struct {
	runner  Runner
	program string
}

// NewManFetcher uses program as the viewer; empty means "man".
func NewManFetcher(runner Runner, program string) *ManFetcher {
	if program == "" {
		program = defaultManProgram
	}
	return &ManFetcher{runner: runner, program: program}
}

func (f *ManFetcher) Program() string { return f.program }

// Fetch returns the page text, or an error string when the page or the viewer is missing.
func (f *ManFetcher) Fetch(ctx context.Context, toolName string) string {
	res := f.runner.Run(ctx, []string{f.program, toolName})
	switch {
	case res.NotFound:
		if f.program == defaultManProgram {
			return manNotFoundMsg
		}
		return fmt.Sprintf("Error: '%s' command not found.  Is it installed?", f.program)
	case res.TimedOut:
		return manErrorPrefix + "timed out"
	case res.Err != nil:
		return manErrorPrefix + res.Err.Error()
	case res.ExitCode != 0:
		return manErrorPrefix + res.Stderr
	}
	return res.Stdout
}
