package config

import "time"

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:        "warn",
			DefaultProvider: "ollama",
		},
		Providers: map[string]ProviderConfig{
			"ollama": {
				Enabled:      true,
				APIBase:      "http://localhost:11434",
				DefaultModel: "llama3.2",
			},
			"openai": {
				Enabled:      false,
				APIBase:      "https://api.openai.com/v1",
				DefaultModel: "gpt-4o-mini",
			},
			"gemini": {
				Enabled:      false,
				DefaultModel: "gemini-2.0-flash",
			},
			"anthropic": {
				Enabled:      false,
				APIBase:      "https://api.anthropic.com/v1",
				DefaultModel: "claude-3-5-haiku-latest",
			},
		},
		Agent: AgentConfig{
			MaxRounds:    20,
			MaxToolCalls: 40,
			Timeout:      5 * time.Minute,
		},
		Tools: ToolsConfig{
			Timeout:        30 * time.Second,
			MaxOutputBytes: 65536,
			ManProgram:     "man",
			Env:            defaultToolEnv(),
		},
		UI: UIConfig{
			Style:    "auto",
			WordWrap: 100,
		},
	}
}

// defaultToolEnv keeps man and friends from paging or sizing to a terminal
// that is not there.
func defaultToolEnv() []string {
	return []string{
		"MANPAGER=cat",
		"PAGER=cat",
		"MANWIDTH=100",
		"GIT_PAGER=cat",
	}
}
