package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"cliexplainer/internal/config"
	"cliexplainer/internal/provider"
	"cliexplainer/internal/tool"

	"github.com/spf13/cobra"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your cliexplainer setup",
		Long: `Verifies that the configuration loads, that the documentation programs
are installed, and that the selected provider answers. Reports pass/fail for
each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			cfgPath := config.ExpandPath(resolveConfigPath())
			fmt.Fprintf(out, "cliexplainer doctor v%s\n", version)
			fmt.Fprintf(out, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file
			if _, err := os.Stat(cfgPath); err != nil {
				printWarn(out, "Config file", fmt.Sprintf("not found at %s, using defaults", cfgPath))
				warned++
			} else {
				printPass(out, "Config file", cfgPath)
				passed++
			}

			// 2. Config loads and validates
			cfg, _, err := config.LoadOrDefault(cfgPath)
			if err == nil {
				applyFlags(cfg)
				err = config.Validate(cfg)
			}
			if err != nil {
				printFail(out, "Config validation", err.Error())
				failed++
				fmt.Fprintf(out, "\n%d passed, %d failed\n", passed, failed)
				return fmt.Errorf("config is invalid")
			}
			printPass(out, "Config validation", "valid")
			passed++

			// 3. Manual page viewer
			viewer := tool.NewManFetcher(nil, cfg.Tools.ManProgram).Program()
			if path, err := exec.LookPath(viewer); err != nil {
				printWarn(out, "Man viewer", fmt.Sprintf("%q not found; only -h output will be available", viewer))
				warned++
			} else {
				printPass(out, "Man viewer", path)
				passed++
			}

			// 4. Providers
			factory := provider.NewFactory(cfg, logger)
			if _, err := factory.Build(); err != nil {
				printFail(out, "Provider", err.Error())
				failed++
			} else {
				printPass(out, "Provider", cfg.General.DefaultProvider)
				passed++
			}
			defaultReachable := false
			for _, name := range factory.Names() {
				pc := cfg.Providers[name]
				if !pc.Enabled {
					continue
				}
				status, ok := providerStatus(cmd.Context(), factory, name)
				if !ok {
					printWarn(out, "Reach: "+name, status)
					warned++
				} else {
					printPass(out, "Reach: "+name, status)
					passed++
				}
				if name == cfg.General.DefaultProvider {
					defaultReachable = ok
				}
			}
			if !defaultReachable {
				printFallback(cmd.Context(), out, factory)
			}

			// 5. Log file writable
			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					printWarn(out, "Log file", fmt.Sprintf("cannot create log directory: %v", err))
					warned++
				} else {
					printPass(out, "Log file", cfg.General.LogFile)
					passed++
				}
			}

			// Summary
			fmt.Fprintf(out, "\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Fprintf(out, "Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Fprintf(out, "\nPlease fix the failed checks before running cliexplainer.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Fprintf(out, "\ncliexplainer should work but consider fixing the warnings.\n")
			} else {
				fmt.Fprintf(out, "\nAll checks passed! cliexplainer is ready to run.\n")
			}
			return nil
		},
	}
}

// printFallback points at a provider that answers when the default does not.
func printFallback(ctx context.Context, w io.Writer, factory *provider.Factory) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	if name, _ := factory.HealthyProvider(ctx); name != "" {
		fmt.Fprintf(w, "         %-20s try --provider %s\n", "", name)
		return
	}
	fmt.Fprintf(w, "         %-20s no enabled provider is reachable\n", "")
}

func printPass(w io.Writer, check, detail string) {
	fmt.Fprintf(w, "  [PASS] %-20s %s\n", check, detail)
}

func printFail(w io.Writer, check, detail string) {
	fmt.Fprintf(w, "  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(w io.Writer, check, detail string) {
	fmt.Fprintf(w, "  [WARN] %-20s %s\n", check, detail)
}
