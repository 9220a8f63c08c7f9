package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"sidepanel/internal/provider"
)

// Config holds all sidepanel configuration.
type Config struct {
	// Provider endpoints and credentials
	Providers ProvidersConfig `yaml:"providers"`

	// Chat behaviour shared by the panel and the CLI
	Chat ChatConfig `yaml:"chat"`

	// Chrome connection
	Browser BrowserConfig `yaml:"browser"`

	// Daemon HTTP surface
	Server ServerConfig `yaml:"server"`

	// Persistent key/value store
	Store StoreConfig `yaml:"store"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// ProvidersConfig carries the local server URLs and hosted API keys.
type ProvidersConfig struct {
	OllamaURL    string `yaml:"ollama_url"`
	LMStudioURL  string `yaml:"lmstudio_url"`
	OpenAIAPIKey string `yaml:"openai_api_key"`
	GeminiAPIKey string `yaml:"gemini_api_key"`
	GroqAPIKey   string `yaml:"groq_api_key"`
}

// ChatConfig mirrors the panel's chat settings.
type ChatConfig struct {
	Personas      map[string]string `yaml:"personas"`
	Persona       string            `yaml:"persona"`
	SelectedModel string            `yaml:"selected_model"`
	ModelHost     string            `yaml:"model_host"`    // ollama, lmstudio, openai, gemini, groq
	ChatMode      string            `yaml:"chat_mode"`     // web, page, chat
	WebMode       string            `yaml:"web_mode"`      // duckduckgo, brave, google
	WebLimit      int               `yaml:"web_limit"`     // thousands of chars, 50 = unlimited
	PageMode      string            `yaml:"page_mode"`     // text, html
	ContextLimit  int               `yaml:"context_limit"` // thousands of chars, 50 = unlimited
	GenerateTitle bool              `yaml:"generate_title"`
	RewriteQuery  bool              `yaml:"rewrite_query"`
	Temperature   float64           `yaml:"temperature"`
}

// BrowserConfig configures the Chrome DevTools connection.
type BrowserConfig struct {
	DebuggerURL    string   `yaml:"debugger_url"`
	Launch         bool     `yaml:"launch"`
	Bin            string   `yaml:"bin"`
	Flags          []string `yaml:"flags"`
	Headless       bool     `yaml:"headless"`
	PollIntervalMs int      `yaml:"poll_interval_ms"`
}

// ServerConfig configures the daemon listener.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// StoreConfig configures the SQLite key/value store.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Providers: ProvidersConfig{
			OllamaURL:   "http://localhost:11434",
			LMStudioURL: "http://localhost:1234",
		},

		Chat: ChatConfig{
			Personas:      DefaultPersonas(),
			Persona:       "Bruce",
			ChatMode:      "chat",
			WebMode:       "brave",
			WebLimit:      48,
			PageMode:      "text",
			ContextLimit:  48,
			GenerateTitle: true,
			RewriteQuery:  true,
			Temperature:   0.5,
		},

		Browser: BrowserConfig{
			Launch:         true,
			Headless:       false,
			PollIntervalMs: 500,
		},

		Server: ServerConfig{
			Addr: "127.0.0.1:7420",
		},

		Store: StoreConfig{
			Path: "sidepanel.db",
		},

		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// DefaultPersonas returns the built-in persona prompts.
func DefaultPersonas() map[string]string {
	return map[string]string{
		"Researcher": `You are a meticulous academic specializing in the analysis of research papers. For each paper:
Clearly and concisely restate the core problem statement(s).
Summarize the central arguments and key findings, emphasizing specific data and factual evidence.
Extract the primary takeaways and explain their broader implications.
Formulate three insightful questions based on the paper, and provide well-reasoned answers strictly grounded in the text.
Avoid speculation or unsupported interpretations. Maintain a precise and analytical tone throughout.`,
		"Jan": `You are a strategist, Jan, who excels at logical problem-solving, critical thinking, and long-term planning. Your responses should prioritize clarity, efficiency, and foresight when addressing challenges.
Behavior: Break down complex problems into manageable parts. Provide structured, step-by-step strategies based on careful analysis. Assess situations with a calculated mindset, always weighing potential risks and outcomes before recommending actions.
Mannerisms: Use precise, organized language. Ask clarifying questions when necessary to fully understand the context. Present your thoughts in a logical, methodical way.
Additional Notes: Always consider the long-term consequences of actions. Emphasize thorough planning, adaptability, and strategic thinking as key to sustainable success.`,
		"Bruce": `You are a capable all-around assistant, Bruce. Your role is to help users across a wide range of tasks: answering questions, explaining concepts, analyzing text, writing, or brainstorming ideas.
Be clear, direct, and honest. Don't be overly friendly or polite, just get to the point. When explaining complex or technical topics, break them down in the simplest language possible, using analogies and real-world examples when helpful.
Offer critical feedback when needed. Assume the user can handle straight talk and values clarity over comfort.`,
	}
}

// StateDir returns the directory holding config, store and logs.
func StateDir() string {
	if dir := os.Getenv("SIDEPANEL_STATE_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".sidepanel"
	}
	return filepath.Join(home, ".sidepanel")
}

// DefaultConfigPath returns the config file location.
func DefaultConfigPath() string {
	if path := os.Getenv("SIDEPANEL_CONFIG"); path != "" {
		return path
	}
	return filepath.Join(StateDir(), "config.yaml")
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.Providers.OpenAIAPIKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Providers.GeminiAPIKey = key
	}
	if key := os.Getenv("GROQ_API_KEY"); key != "" {
		c.Providers.GroqAPIKey = key
	}
	if url := os.Getenv("OLLAMA_URL"); url != "" {
		c.Providers.OllamaURL = url
	}
	if url := os.Getenv("LMSTUDIO_URL"); url != "" {
		c.Providers.LMStudioURL = url
	}
	if model := os.Getenv("SIDEPANEL_MODEL"); model != "" {
		c.Chat.SelectedModel = model
	}
}

// StorePath resolves the store path against the state directory.
func (c *Config) StorePath() string {
	if c.Store.Path == "" || c.Store.Path == ":memory:" || filepath.IsAbs(c.Store.Path) {
		return c.Store.Path
	}
	return filepath.Join(StateDir(), c.Store.Path)
}

// Credentials returns the provider endpoints and keys.
func (c *Config) Credentials() provider.Credentials {
	return provider.Credentials{
		OllamaURL:    c.Providers.OllamaURL,
		LMStudioURL:  c.Providers.LMStudioURL,
		OpenAIAPIKey: c.Providers.OpenAIAPIKey,
		GeminiAPIKey: c.Providers.GeminiAPIKey,
		GroqAPIKey:   c.Providers.GroqAPIKey,
	}
}

// PollInterval returns the tab visibility poll interval.
func (c *Config) PollInterval() time.Duration {
	if c.Browser.PollIntervalMs <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(c.Browser.PollIntervalMs) * time.Millisecond
}

// PersonaPrompt returns the active persona text, or "" when unset.
func (c *Config) PersonaPrompt() string {
	if c.Chat.Personas == nil {
		return ""
	}
	return c.Chat.Personas[c.Chat.Persona]
}

// ValidChatModes lists the supported chat modes.
var ValidChatModes = []string{"web", "page", "chat"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Chat.ChatMode != "" {
		valid := false
		for _, m := range ValidChatModes {
			if c.Chat.ChatMode == m {
				valid = true
				break
			}
		}
		if !valid {
			return fmt.Errorf("invalid chat mode: %s (valid: %v)", c.Chat.ChatMode, ValidChatModes)
		}
	}
	if c.Chat.ContextLimit < 0 || c.Chat.WebLimit < 0 {
		return fmt.Errorf("context_limit and web_limit must be non-negative")
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server addr not configured")
	}
	return nil
}
