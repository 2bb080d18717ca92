package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for cliexplainer.
type Config struct {
	General   GeneralConfig             `yaml:"general"`
	Providers map[string]ProviderConfig `yaml:"providers"`
	Agent     AgentConfig               `yaml:"agent"`
	Tools     ToolsConfig               `yaml:"tools"`
	UI        UIConfig                  `yaml:"ui"`
}

type GeneralConfig struct {
	LogLevel        string   `yaml:"logLevel"`
	LogFile         string   `yaml:"logFile,omitempty"` // optional log file path
	DefaultProvider string   `yaml:"defaultProvider"`
	FailoverChain   []string `yaml:"failoverChain,omitempty"` // provider failover order
}

// ProviderConfig configures one LLM backend. Type selects the client
// implementation; it defaults to the map key so "ollama", "openai", "gemini"
// and "anthropic" need no type, while e.g. an "lmstudio" entry sets type: openai.
type ProviderConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Type         string        `yaml:"type,omitempty"`
	APIBase      string        `yaml:"apiBase,omitempty"`
	APIKey       string        `yaml:"apiKey,omitempty"`
	DefaultModel string        `yaml:"defaultModel,omitempty"`
	Timeout      time.Duration `yaml:"timeout,omitempty"`
}

// Kind returns the client implementation name for the provider entry.
func (p ProviderConfig) Kind(name string) string {
	if p.Type != "" {
		return p.Type
	}
	return name
}

type AgentConfig struct {
	MaxRounds         int           `yaml:"maxRounds"`
	MaxToolCalls      int           `yaml:"maxToolCalls"`
	Timeout           time.Duration `yaml:"timeout"`
	Temperature       float64       `yaml:"temperature,omitempty"`
	MaxTokens         int           `yaml:"maxTokens,omitempty"`
	SystemPromptExtra string        `yaml:"systemPromptExtra,omitempty"` // custom text appended to system prompt
}

type ToolsConfig struct {
	Timeout        time.Duration `yaml:"timeout"`        // per child process
	MaxOutputBytes int           `yaml:"maxOutputBytes"` // cap on text handed to the model, negative disables
	ManProgram     string        `yaml:"manProgram"`     // manual page viewer
	Env            []string      `yaml:"env,omitempty"`  // extra KEY=VALUE for child processes
}

type UIConfig struct {
	Style    string `yaml:"style"` // glamour style: auto, dark, light, notty, ascii, dracula, pink, tokyo-night
	WordWrap int    `yaml:"wordWrap"`
}

// KnownProviderKinds lists the provider implementations the factory can build.
var KnownProviderKinds = []string{"ollama", "openai", "gemini", "anthropic"}

var knownStyles = []string{"auto", "dark", "light", "notty", "ascii", "dracula", "pink", "tokyo-night"}

// DefaultConfigDir returns the default config directory (~/.cliexplainer).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cliexplainer"
	}
	return filepath.Join(home, ".cliexplainer")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Load reads the YAML file at path over Defaults, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	path, err := resolveHome(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}
	if cfg.Providers == nil {
		cfg.Providers = make(map[string]ProviderConfig)
	}

	ApplyEnv(cfg)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault behaves like Load but falls back to Defaults (with environment
// overrides) when the file does not exist. The boolean reports whether a file was read.
func LoadOrDefault(path string) (*Config, bool, error) {
	resolved, err := resolveHome(path)
	if err != nil {
		return nil, false, err
	}
	if _, err := os.Stat(resolved); os.IsNotExist(err) {
		cfg := Defaults()
		ApplyEnv(cfg)
		if err := Validate(cfg); err != nil {
			return nil, false, fmt.Errorf("config validation: %w", err)
		}
		return cfg, false, nil
	}
	cfg, err := Load(resolved)
	if err != nil {
		return nil, true, err
	}
	return cfg, true, nil
}

// ApplyEnv overlays the well-known environment variables onto cfg.
func ApplyEnv(cfg *Config) {
	if cfg.Providers == nil {
		cfg.Providers = make(map[string]ProviderConfig)
	}
	update := func(name string, fn func(*ProviderConfig)) {
		pc := cfg.Providers[name]
		fn(&pc)
		cfg.Providers[name] = pc
	}

	if v := firstEnv("OLLAMA_API_BASE", "OLLAMA_HOST"); v != "" {
		update("ollama", func(pc *ProviderConfig) { pc.APIBase = v })
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		update("openai", func(pc *ProviderConfig) {
			pc.APIKey = v
			pc.Enabled = true
		})
	}
	if v := os.Getenv("OPENAI_API_BASE"); v != "" {
		update("openai", func(pc *ProviderConfig) { pc.APIBase = v })
	}
	if v := firstEnv("GEMINI_API_KEY", "GOOGLE_API_KEY"); v != "" {
		update("gemini", func(pc *ProviderConfig) {
			pc.APIKey = v
			pc.Enabled = true
		})
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		update("anthropic", func(pc *ProviderConfig) {
			pc.APIKey = v
			pc.Enabled = true
		})
	}
	if v := os.Getenv("CLIEXPLAINER_PROVIDER"); v != "" {
		cfg.General.DefaultProvider = v
	}
	if v := os.Getenv("CLIEXPLAINER_MODEL"); v != "" {
		update(cfg.General.DefaultProvider, func(pc *ProviderConfig) { pc.DefaultModel = v })
	}
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	path, err := resolveHome(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	// API keys may live in the file.
	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if cfg.General.DefaultProvider == "" {
		errs = append(errs, "general.defaultProvider is required")
	} else if _, ok := cfg.Providers[cfg.General.DefaultProvider]; !ok {
		errs = append(errs, fmt.Sprintf("general.defaultProvider references unknown provider: %s", cfg.General.DefaultProvider))
	}

	// Validate failover chain references exist in providers.
	for _, provName := range cfg.General.FailoverChain {
		if _, ok := cfg.Providers[provName]; !ok {
			errs = append(errs, fmt.Sprintf("general.failoverChain references unknown provider: %s", provName))
		}
	}

	for name, pc := range cfg.Providers {
		if !slices.Contains(KnownProviderKinds, pc.Kind(name)) {
			errs = append(errs, fmt.Sprintf("providers.%s: unknown type %q (want one of: %s)",
				name, pc.Kind(name), strings.Join(KnownProviderKinds, ", ")))
		}
		if pc.Timeout < 0 {
			errs = append(errs, fmt.Sprintf("providers.%s.timeout must be >= 0", name))
		}
	}

	if cfg.Agent.MaxRounds < 1 || cfg.Agent.MaxRounds > 200 {
		errs = append(errs, "agent.maxRounds must be between 1 and 200")
	}
	if cfg.Agent.MaxToolCalls < 1 || cfg.Agent.MaxToolCalls > 500 {
		errs = append(errs, "agent.maxToolCalls must be between 1 and 500")
	}
	if cfg.Agent.Timeout < 0 {
		errs = append(errs, "agent.timeout must be >= 0")
	}
	if cfg.Agent.Temperature < 0 || cfg.Agent.Temperature > 2 {
		errs = append(errs, "agent.temperature must be between 0 and 2")
	}
	if cfg.Agent.MaxTokens < 0 {
		errs = append(errs, "agent.maxTokens must be >= 0")
	}

	if cfg.Tools.Timeout < 0 {
		errs = append(errs, "tools.timeout must be >= 0")
	}
	if strings.TrimSpace(cfg.Tools.ManProgram) == "" {
		errs = append(errs, "tools.manProgram is required")
	}
	for _, kv := range cfg.Tools.Env {
		if !strings.Contains(kv, "=") {
			errs = append(errs, fmt.Sprintf("tools.env entry %q must be KEY=VALUE", kv))
		}
	}

	if !slices.Contains(knownStyles, cfg.UI.Style) {
		errs = append(errs, "ui.style must be one of: "+strings.Join(knownStyles, ", "))
	}
	if cfg.UI.WordWrap < 0 {
		errs = append(errs, "ui.wordWrap must be >= 0")
	}

	if len(errs) > 0 {
		slices.Sort(errs)
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func resolveHome(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot resolve home directory: %w", err)
		}
		return filepath.Join(home, path[2:]), nil
	}
	return path, nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	resolved, err := resolveHome(path)
	if err != nil {
		return path
	}
	return resolved
}
