package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config represents the application configuration
type Config struct {
	Database   DatabaseConfig   `json:"database"`
	Schema     SchemaConfig     `json:"schema"`
	Generation GenerationConfig `json:"generation"`
	Prompt     PromptConfig     `json:"prompt"`
	Memory     MemoryConfig     `json:"memory"`
	Pipeline   PipelineConfig   `json:"pipeline"`
	Logging    LoggingConfig    `json:"logging"`
}

// DatabaseConfig represents the DuckDB connection configuration
type DatabaseConfig struct {
	Path         string `json:"path"          env:"DB_PATH"`
	QueryTimeout string `json:"query_timeout" env:"DB_QUERY_TIMEOUT"`
	MaxRows      int    `json:"max_rows"      env:"DB_MAX_ROWS"`
}

// SchemaConfig locates the schema snapshot used for prompt context and
// validation
type SchemaConfig struct {
	SnapshotPath string `json:"snapshot_path" env:"SCHEMA_SNAPSHOT"`
}

// GenerationConfig represents the generation backend configuration
type GenerationConfig struct {
	Provider string `json:"provider" env:"PROVIDER"` // openai, anthropic, ollama
	Model    string `json:"model"    env:"MODEL"`
	APIKey   string `json:"api_key"  env:"API_KEY"`
	BaseURL  string `json:"base_url" env:"BASE_URL"`
	Timeout  string `json:"timeout"  env:"GEN_TIMEOUT"`
}

// PromptConfig tunes prompt assembly
type PromptConfig struct {
	MaxContextBytes int `json:"max_context_bytes" env:"PROMPT_MAX_CONTEXT_BYTES"`
	Window          int `json:"window"            env:"PROMPT_WINDOW"`
}

// MemoryConfig tunes conversation memory
type MemoryConfig struct {
	TurnCap   int `json:"turn_cap"   env:"MEMORY_TURN_CAP"`
	EntityCap int `json:"entity_cap" env:"MEMORY_ENTITY_CAP"`
}

// PipelineConfig tunes the ask pipeline
type PipelineConfig struct {
	Retries int `json:"retries" env:"PIPELINE_RETRIES"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `json:"level"  env:"LOG_LEVEL"`  // debug, info, warn, error
	Format string `json:"format" env:"LOG_FORMAT"` // text, json
	Output string `json:"output" env:"LOG_OUTPUT"` // stdout, stderr, file
	File   string `json:"file"   env:"LOG_FILE"`
}

// DefaultConfig returns the built-in defaults, before the file, environment,
// and flag layers are applied.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:         "~/.config/db-chat/database.db",
			QueryTimeout: "30s",
			MaxRows:      1000,
		},
		Schema: SchemaConfig{
			SnapshotPath: "~/.config/db-chat/schema.json",
		},
		Generation: GenerationConfig{
			Provider: "openai",
			Model:    "gpt-4o-mini",
			Timeout:  "60s",
		},
		Prompt: PromptConfig{
			MaxContextBytes: 8192,
			Window:          3,
		},
		Memory: MemoryConfig{
			TurnCap:   50,
			EntityCap: 50,
		},
		Pipeline: PipelineConfig{
			Retries: 1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
			File:   "~/.config/db-chat/logs/app.log",
		},
	}
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig() (*Config, error) {
	return LoadConfigWithOverrides(nil)
}

// LoadConfigWithOverrides loads configuration with optional command-line flag
// overrides. Layering order: built-in defaults, then the config file, then
// DB_CHAT_* environment variables, then flags.
func LoadConfigWithOverrides(flagOverrides map[string]interface{}) (*Config, error) {
	config := DefaultConfig()

	configPath := getConfigPath()
	if _, err := os.Stat(configPath); err == nil {
		if err := loadConfigFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// Only variables that are actually set touch the struct, so file values
	// survive unless explicitly overridden.
	if err := env.ParseWithOptions(config, env.Options{
		Prefix: "DB_CHAT_",
	}); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	if flagOverrides != nil {
		applyFlagOverrides(config, flagOverrides)
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// loadConfigFromFile loads configuration from a JSON file
func loadConfigFromFile(config *Config, configPath string) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var fileConfig Config
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	mergeConfigs(config, &fileConfig)

	return nil
}

// applyFlagOverrides applies command-line flag overrides to configuration
func applyFlagOverrides(config *Config, overrides map[string]interface{}) {
	for key, value := range overrides {
		switch key {
		case "db":
			if str, ok := value.(string); ok && str != "" {
				config.Database.Path = str
			}
		case "schema":
			if str, ok := value.(string); ok && str != "" {
				config.Schema.SnapshotPath = str
			}
		case "provider":
			if str, ok := value.(string); ok && str != "" {
				config.Generation.Provider = str
			}
		case "model":
			if str, ok := value.(string); ok && str != "" {
				config.Generation.Model = str
			}
		case "window":
			if n, ok := value.(int); ok && n > 0 {
				config.Prompt.Window = n
			}
		case "retries":
			if n, ok := value.(int); ok && n >= 0 {
				config.Pipeline.Retries = n
			}
		case "log-level":
			if str, ok := value.(string); ok && str != "" {
				config.Logging.Level = str
			}
		}
	}
}

// mergeConfigs merges source configuration into target configuration
func mergeConfigs(target, source *Config) {
	var mergeValues func(t, s reflect.Value)
	mergeValues = func(t, s reflect.Value) {
		if t.Kind() != s.Kind() {
			return
		}

		if t.Kind() == reflect.Struct {
			for i := range s.NumField() {
				mergeValues(t.Field(i), s.Field(i))
			}
		} else if !s.IsZero() {
			t.Set(s)
		}
	}

	mergeValues(reflect.ValueOf(target).Elem(), reflect.ValueOf(source).Elem())
}

// validateConfig validates the configuration for common errors
func validateConfig(config *Config) error {
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf(
			"invalid log level: %s (must be debug, info, warn, or error)",
			config.Logging.Level,
		)
	}

	validLogFormats := map[string]bool{
		"text": true, "json": true,
	}
	if !validLogFormats[strings.ToLower(config.Logging.Format)] {
		return fmt.Errorf("invalid log format: %s (must be text or json)", config.Logging.Format)
	}

	validLogOutputs := map[string]bool{
		"stdout": true, "stderr": true, "file": true,
	}
	if !validLogOutputs[strings.ToLower(config.Logging.Output)] {
		return fmt.Errorf(
			"invalid log output: %s (must be stdout, stderr, or file)",
			config.Logging.Output,
		)
	}

	validProviders := map[string]bool{
		"openai": true, "anthropic": true, "ollama": true,
	}
	if !validProviders[strings.ToLower(config.Generation.Provider)] {
		return fmt.Errorf(
			"invalid generation provider: %s (must be openai, anthropic, or ollama)",
			config.Generation.Provider,
		)
	}

	if _, err := time.ParseDuration(config.Database.QueryTimeout); err != nil {
		return fmt.Errorf("invalid database query timeout: %s", config.Database.QueryTimeout)
	}

	if _, err := time.ParseDuration(config.Generation.Timeout); err != nil {
		return fmt.Errorf("invalid generation timeout: %s", config.Generation.Timeout)
	}

	if config.Prompt.MaxContextBytes <= 0 {
		return fmt.Errorf("prompt max context bytes must be positive: %d", config.Prompt.MaxContextBytes)
	}

	if config.Prompt.Window < 0 {
		return fmt.Errorf("prompt window must not be negative: %d", config.Prompt.Window)
	}

	if config.Memory.TurnCap <= 0 {
		return fmt.Errorf("memory turn cap must be positive: %d", config.Memory.TurnCap)
	}

	if config.Pipeline.Retries < 0 {
		return fmt.Errorf("pipeline retries must not be negative: %d", config.Pipeline.Retries)
	}

	return nil
}

// GenerationTimeout returns the parsed generation timeout. Validation has
// already checked the duration parses.
func (c *Config) GenerationTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Generation.Timeout)
	return d
}

// QueryTimeout returns the parsed database query timeout.
func (c *Config) QueryTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Database.QueryTimeout)
	return d
}

// SaveConfig saves configuration to file
func SaveConfig(config *Config) error {
	configPath := getConfigPath()

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// getConfigPath returns the path to the configuration file
func getConfigPath() string {
	if configPath := os.Getenv("DB_CHAT_CONFIG"); configPath != "" {
		return expandPath(configPath)
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}

	return filepath.Join(homeDir, ".config", "db-chat", "config.json")
}

// expandPath expands ~ to home directory in file paths
func expandPath(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	if path == "~" {
		return homeDir
	}

	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir, path[2:])
	}

	return path
}

// ExpandAllPaths expands all paths in the configuration
func (c *Config) ExpandAllPaths() {
	c.Database.Path = expandPath(c.Database.Path)
	c.Schema.SnapshotPath = expandPath(c.Schema.SnapshotPath)
	c.Logging.File = expandPath(c.Logging.File)
}

// GetConfigDir returns the configuration directory
func GetConfigDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".config/db-chat"
	}

	return filepath.Join(homeDir, ".config", "db-chat")
}

// EnsureDirectories creates necessary directories for the configuration
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		filepath.Dir(c.Database.Path),
		filepath.Dir(c.Logging.File),
	}

	for _, dir := range dirs {
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", dir, err)
			}
		}
	}

	return nil
}
