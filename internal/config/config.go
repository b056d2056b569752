package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config represents the main application configuration. It is loaded once at
// startup and treated as immutable afterwards; changing policy requires a
// restart.
type Config struct {
	Safety    SafetyConfig    `json:"safety"`
	Reasoning ReasoningConfig `json:"reasoning"`
	Server    ServerConfig    `json:"server"`
	Events    EventsConfig    `json:"events"`
	Memory    MemoryConfig    `json:"memory"`
	AuditLog  string          `json:"audit_log"`
	WorkDir   string          `json:"work_dir"` // root under which remediation targets are resolved
}

// SafetyConfig is the mutation policy enforced by the safety governor. It is
// an explicit value object passed into every governor call; business logic
// never reads ambient environment state.
type SafetyConfig struct {
	SafeMode             bool     `json:"safe_mode"`
	AutoFixLowRisk       bool     `json:"auto_fix_low_risk"`
	MaxFileModifications int      `json:"max_file_modifications"`
	AllowedExtensions    []string `json:"allowed_extensions"`
	BackupsEnabled       bool     `json:"backups_enabled"`
}

// ExtensionAllowed reports whether the target path's extension is on the
// modification whitelist.
func (sc SafetyConfig) ExtensionAllowed(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, allowed := range sc.AllowedExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

// ReasoningConfig defines the external reasoning backend attempts. MaxTokens
// caps the completion; PromptBudget caps the prompt sent to the provider.
type ReasoningConfig struct {
	Providers    []ProviderCredentials `json:"providers"`
	Timeout      time.Duration         `json:"timeout"`
	MaxTokens    int                   `json:"max_tokens"`
	PromptBudget int                   `json:"prompt_budget"`
}

// ProviderCredentials represents credentials for one LLM provider.
type ProviderCredentials struct {
	Provider string `json:"provider"`
	APIKey   string `json:"api_key"`
	Model    string `json:"model"`
}

// ServerConfig configures the collaborator-facing HTTP surface.
type ServerConfig struct {
	Port         int    `json:"port"`
	ServiceToken string `json:"service_token"` // HMAC secret for service JWTs; empty disables the check
}

// EventsConfig configures the optional Kafka lifecycle-event producer.
type EventsConfig struct {
	Enable  bool     `json:"enable"`
	Brokers []string `json:"brokers"`
	Topic   string   `json:"topic"`
}

// MemoryConfig configures the chromem-backed decision memory.
type MemoryConfig struct {
	Enable bool   `json:"enable"`
	Path   string `json:"path"`
}

// defaultExtensions is the safe source-code whitelist applied when
// ALLOWED_FILE_EXTENSIONS is unset.
var defaultExtensions = []string{
	".go", ".js", ".ts", ".py", ".java", ".rb", ".php", ".cs",
	".yaml", ".yml", ".json", ".toml", ".env", ".conf", ".ini",
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		Safety: SafetyConfig{
			SafeMode:             getEnvBool("AUTONOMOUS_SAFE_MODE", true),
			AutoFixLowRisk:       getEnvBool("AUTO_FIX_LOW_RISK", false),
			MaxFileModifications: getEnvInt("MAX_FILE_MODIFICATIONS", 5),
			AllowedExtensions:    normalizeExtensions(getEnvList("ALLOWED_FILE_EXTENSIONS", defaultExtensions)),
			BackupsEnabled:       getEnvBool("ENABLE_BACKUPS", true),
		},
		Reasoning: ReasoningConfig{
			Providers:    loadProviders(),
			Timeout:      time.Duration(getEnvInt("REASONING_TIMEOUT_SECONDS", 30)) * time.Second,
			MaxTokens:    getEnvInt("REASONING_MAX_TOKENS", 4096),
			PromptBudget: getEnvInt("REASONING_PROMPT_BUDGET", 8192),
		},
		Server: ServerConfig{
			Port:         getEnvInt("SERVER_PORT", 8080),
			ServiceToken: getEnv("SERVICE_TOKEN_SECRET", ""),
		},
		Events: EventsConfig{
			Enable:  getEnvBool("KAFKA_ENABLE", false),
			Brokers: getEnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
			Topic:   getEnv("KAFKA_TOPIC", "apiguardian-events"),
		},
		Memory: MemoryConfig{
			Enable: getEnvBool("DECISION_MEMORY_ENABLE", false),
			Path:   getEnv("DECISION_MEMORY_PATH", ""),
		},
		AuditLog: getEnv("AUDIT_LOG_PATH", "apiguardian-audit.jsonl"),
		WorkDir:  getEnv("WORK_DIR", "."),
	}
}

// normalizeExtensions lower-cases whitelist entries and ensures the leading
// dot, so ALLOWED_FILE_EXTENSIONS=go,yaml matches filepath.Ext output.
func normalizeExtensions(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		out = append(out, e)
	}
	return out
}

// loadProviders builds the reasoning attempt list from provider env vars.
// Providers without an API key are skipped.
func loadProviders() []ProviderCredentials {
	candidates := []ProviderCredentials{
		{Provider: "cerebras", APIKey: os.Getenv("CEREBRAS_API_KEY"), Model: getEnv("CEREBRAS_MODEL", "llama3.3-70b")},
		{Provider: "anthropic", APIKey: os.Getenv("ANTHROPIC_API_KEY"), Model: getEnv("ANTHROPIC_MODEL", "claude-sonnet-4-5-20250929")},
		{Provider: "openai", APIKey: os.Getenv("OPENAI_API_KEY"), Model: getEnv("OPENAI_MODEL", "gpt-4o")},
	}

	providers := make([]ProviderCredentials, 0, len(candidates))
	for _, c := range candidates {
		if c.APIKey != "" {
			providers = append(providers, c)
		}
	}
	return providers
}

// Validate checks the safety policy for obvious misconfiguration.
func (sc SafetyConfig) Validate() error {
	if sc.MaxFileModifications < 0 {
		return fmt.Errorf("max_file_modifications must not be negative")
	}
	if len(sc.AllowedExtensions) == 0 {
		return fmt.Errorf("allowed_extensions must not be empty")
	}
	return nil
}

// Validate checks the full loaded configuration. The engine only validates
// the safety policy itself; the serve command validates everything down to
// the HTTP surface.
func (c *Config) Validate() error {
	if err := c.Safety.Validate(); err != nil {
		return err
	}
	if c.Reasoning.Timeout < time.Second {
		return fmt.Errorf("reasoning timeout must be at least 1 second")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Events.Enable && len(c.Events.Brokers) == 0 {
		return fmt.Errorf("kafka enabled but no brokers configured")
	}
	return nil
}

// getEnv retrieves environment variable with fallback
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool retrieves boolean environment variable with fallback
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvInt retrieves integer environment variable with fallback
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvList retrieves a comma-separated environment variable with fallback.
// Entries are trimmed; empty entries are dropped.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
