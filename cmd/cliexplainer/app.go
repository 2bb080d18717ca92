package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"cliexplainer/internal/agent"
	"cliexplainer/internal/config"
	"cliexplainer/internal/provider"
	"cliexplainer/internal/shell"
	"cliexplainer/internal/tool"

	"golang.org/x/term"
)

// app holds what every command builds from the loaded configuration.
type app struct {
	cfg     *config.Config
	cfgPath string
	found   bool // config file existed
	runner  *tool.ExecRunner
	help    *tool.HelpFetcher
	man     *tool.ManFetcher
	logFile *os.File
}

func setup() (*app, error) {
	cfgPath := resolveConfigPath()
	cfg, found, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	applyFlags(cfg)
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	rt := &app{cfg: cfg, cfgPath: cfgPath, found: found}
	if err := rt.setupLogger(); err != nil {
		return nil, err
	}
	logger.Debug("config", "path", cfgPath, "loaded", found, "provider", cfg.General.DefaultProvider)

	rt.runner = tool.NewExecRunner(tool.ExecConfig{
		Timeout: cfg.Tools.Timeout,
		Env:     cfg.Tools.Env,
		Logger:  logger.With("component", "runner"),
	})
	rt.help = tool.NewHelpFetcher(rt.runner)
	rt.man = tool.NewManFetcher(rt.runner, cfg.Tools.ManProgram)
	return rt, nil
}

// applyFlags lays the persistent flags over the loaded config. Naming a
// provider selects it alone, enabled, with no failover chain.
func applyFlags(cfg *config.Config) {
	if providerFlag != "" {
		cfg.General.DefaultProvider = providerFlag
		cfg.General.FailoverChain = nil
		if pc, ok := cfg.Providers[providerFlag]; ok {
			pc.Enabled = true
			cfg.Providers[providerFlag] = pc
		}
	}
	if modelFlag != "" {
		if pc, ok := cfg.Providers[cfg.General.DefaultProvider]; ok {
			pc.DefaultModel = modelFlag
			cfg.Providers[cfg.General.DefaultProvider] = pc
		}
	}
	if logLevelFlag != "" {
		cfg.General.LogLevel = logLevelFlag
	}
}

func (rt *app) setupLogger() error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(rt.cfg.General.LogLevel)); err != nil {
		return fmt.Errorf("log level: %w", err)
	}

	var w io.Writer = os.Stderr
	if path := rt.cfg.General.LogFile; path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("cannot create log directory: %w", err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		rt.logFile = f
		w = f
	}
	logger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return nil
}

func (rt *app) Close() {
	if rt.logFile != nil {
		rt.logFile.Close()
	}
}

func (rt *app) newExplainer() (*agent.Explainer, error) {
	prov, err := provider.NewFactory(rt.cfg, logger).Build()
	if err != nil {
		return nil, fmt.Errorf("provider: %w", err)
	}

	reg, err := tool.NewRegistry(logger,
		tool.NewHelpTool(rt.help, rt.cfg.Tools.MaxOutputBytes),
		tool.NewManTool(rt.man, rt.cfg.Tools.MaxOutputBytes),
	)
	if err != nil {
		return nil, err
	}

	ac := rt.cfg.Agent
	return agent.NewExplainer(agent.ExplainerConfig{
		Provider:     prov,
		Tools:        reg,
		Help:         rt.help,
		Prompt:       agent.NewPromptBuilder(ac.SystemPromptExtra),
		Logger:       logger.With("component", "explainer"),
		MaxRounds:    ac.MaxRounds,
		MaxToolCalls: ac.MaxToolCalls,
		Timeout:      ac.Timeout,
		MaxTokens:    ac.MaxTokens,
		Temperature:  ac.Temperature,
	}), nil
}

func (rt *app) newShell(in io.Reader, out io.Writer) (*shell.Shell, error) {
	ex, err := rt.newExplainer()
	if err != nil {
		return nil, err
	}
	tty := isTerminal(out)
	r, err := shell.NewRenderer(out, shell.RenderConfig{
		Style:    rt.cfg.UI.Style,
		WordWrap: rt.cfg.UI.WordWrap,
		Terminal: tty,
	})
	if err != nil {
		return nil, err
	}
	sh, err := shell.New(shell.Config{
		Explainer: ex,
		In:        in,
		Out:       out,
		Renderer:  r,
		Logger:    logger.With("component", "shell"),
		Animate:   tty,
	})
	if err != nil {
		return nil, err
	}
	ex.SetObserver(sh.ObserveCall)
	logger.Debug("explainer ready", "provider", ex.ProviderName())
	return sh, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
