package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cliexplainer/internal/config"
	"cliexplainer/internal/provider"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const healthTimeout = 10 * time.Second

func helpTextCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "help-text <tool> [subcommand]",
		Short: "Print what `<tool> [subcommand] -h` returns, as the model sees it",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup()
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sub := ""
			if len(args) == 2 {
				sub = args[1]
			}
			printRaw(cmd.OutOrStdout(), rt.help.Fetch(ctx, args[0], sub))
			return nil
		},
	}
}

func manCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "man <tool>",
		Short: "Print the manual page for <tool>, as the model sees it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup()
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			printRaw(cmd.OutOrStdout(), rt.man.Fetch(ctx, args[0]))
			return nil
		},
	}
}

func printRaw(w io.Writer, text string) {
	fmt.Fprint(w, text)
	if !strings.HasSuffix(text, "\n") {
		fmt.Fprintln(w)
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show provider health",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup()
			if err != nil {
				return err
			}
			defer rt.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config: %s (loaded: %v)\n", rt.cfgPath, rt.found)
			fmt.Fprintf(out, "man viewer: %s\n", rt.man.Program())

			factory := provider.NewFactory(rt.cfg, logger)
			for _, name := range factory.Names() {
				marker := " "
				if name == rt.cfg.General.DefaultProvider {
					marker = "*"
				}
				status, _ := providerStatus(cmd.Context(), factory, name)
				fmt.Fprintf(out, "%s %-10s %s\n", marker, name, status)
			}
			return nil
		},
	}
}

// providerStatus describes one provider; ok reports a passed health check.
func providerStatus(ctx context.Context, factory *provider.Factory, name string) (status string, ok bool) {
	p, err := factory.Get(name)
	if err != nil {
		return err.Error(), false
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	if err := p.Healthy(ctx); err != nil {
		return "unhealthy: " + err.Error(), false
	}
	status = fmt.Sprintf("healthy (model %s)", strings.Join(p.Models(), ", "))
	if ep := provider.Endpoint(p); ep != "" {
		status += " at " + ep
	}
	return status, true
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := config.ExpandPath(resolveConfigPath())
			if _, err := os.Stat(cfgPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", cfgPath)
			}
			if err := config.Save(cfgPath, config.Defaults()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", cfgPath)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Show, get and set configuration values. API keys are masked in output. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup()
			if err != nil {
				return err
			}
			defer rt.Close()
			return printYAML(cmd.OutOrStdout(), config.Sanitize(rt.cfg))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get <path>",
		Short: "Get a config value (e.g. agent.maxToolCalls)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup()
			if err != nil {
				return err
			}
			defer rt.Close()
			val, err := config.GetByPath(config.Sanitize(rt.cfg), args[0])
			if err != nil {
				return err
			}
			return printYAML(cmd.OutOrStdout(), val)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <path> <value>",
		Short: "Set a config value (e.g. general.defaultProvider openai)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, _, err := config.LoadOrDefault(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "value", args[1], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List every config path",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup()
			if err != nil {
				return err
			}
			defer rt.Close()
			for _, p := range config.ListPaths(rt.cfg) {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), resolveConfigPath())
		},
	})

	return cmd
}

func printYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
