package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"cliexplainer/internal/config"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"
	logger  *slog.Logger

	configPath   string // overridable via --config flag
	providerFlag string
	modelFlag    string
	logLevelFlag string
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	root := &cobra.Command{
		Use:   "cliexplainer [tool question...]",
		Short: "Explain how to use command-line tools from their own help text",
		Long: `cliexplainer answers questions about command-line programs. It reads the
program's -h output and manual page, follows subcommands, and has an LLM
(Ollama by default) write the answer.`,
		Version:      version,
		SilenceUsage: true,
		RunE:         runChat,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (default: ~/.cliexplainer/config.yaml)")
	root.PersistentFlags().StringVar(&providerFlag, "provider", "", "provider to use, overriding general.defaultProvider")
	root.PersistentFlags().StringVar(&modelFlag, "model", "", "model for the selected provider")
	root.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "debug, info, warn or error")

	root.AddCommand(chatCmd())
	root.AddCommand(askCmd())
	root.AddCommand(helpTextCmd())
	root.AddCommand(manCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(initCmd())
	root.AddCommand(configCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat [tool question...]",
		Short: "Start the interactive explainer (the default command)",
		RunE:  runChat,
	}
}

func askCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "ask <tool> <question...>",
		Short:   "Answer one question and exit",
		Example: "  cliexplainer ask git how do I rename a branch",
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup()
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sh, err := rt.newShell(os.Stdin, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if err := sh.Ask(ctx, strings.Join(args, " ")); err != nil {
				// Already rendered.
				cmd.SilenceErrors = true
				return err
			}
			return nil
		},
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// runChat starts the shell. Arguments, when given, are asked first.
func runChat(cmd *cobra.Command, args []string) error {
	rt, err := setup()
	if err != nil {
		return err
	}
	defer rt.Close()

	// Graceful shutdown on signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sh, err := rt.newShell(os.Stdin, cmd.OutOrStdout())
	if err != nil {
		return err
	}

	if len(args) > 0 {
		if err := sh.Ask(ctx, strings.Join(args, " ")); err != nil && ctx.Err() != nil {
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout())
	}
	return sh.Run(ctx)
}
