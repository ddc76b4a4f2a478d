package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	AnthropicAPIKey string
	OpenAIAPIKey    string
	GoogleAPIKey    string

	Backends             []BackendConfig
	InvokeTimeoutSeconds int
	ConcurrencyLimit     int
	ConfigDir            string
}

// FileConfig represents the structure of ~/.taskrelay/config.yaml
type FileConfig struct {
	APIKeys              APIKeysConfig   `yaml:"api_keys"`
	Backends             []BackendConfig `yaml:"backends"`
	InvokeTimeoutSeconds int             `yaml:"invoke_timeout_seconds,omitempty"`
	ConcurrencyLimit     int             `yaml:"concurrency_limit,omitempty"`
}

// APIKeysConfig holds API key configuration from file.
type APIKeysConfig struct {
	Anthropic string `yaml:"anthropic"`
	OpenAI    string `yaml:"openai"`
	Google    string `yaml:"google"`
}

// BackendConfig describes one backend entry.
type BackendConfig struct {
	ID           string   `yaml:"id"`
	Priority     int      `yaml:"priority"`
	CostPerUnit  float64  `yaml:"cost_per_unit"`
	Capabilities []string `yaml:"capabilities,omitempty"`
	Model        string   `yaml:"model,omitempty"`
}

// Load reads configuration from the config file and environment variables.
// Environment variables take precedence over file configuration.
func Load() (*Config, error) {
	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}
	return loadFrom(filepath.Join(configDir, "config.yaml"), configDir)
}

// LoadFile loads configuration from a specific file.
func LoadFile(path string) (*Config, error) {
	return loadFrom(path, filepath.Dir(path))
}

func loadFrom(path, configDir string) (*Config, error) {
	fileConfig, err := loadFileConfig(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		AnthropicAPIKey:      getEnvOrDefault("ANTHROPIC_API_KEY", fileConfig.APIKeys.Anthropic),
		OpenAIAPIKey:         getEnvOrDefault("OPENAI_API_KEY", fileConfig.APIKeys.OpenAI),
		GoogleAPIKey:         getEnvOrDefault("GOOGLE_API_KEY", fileConfig.APIKeys.Google),
		Backends:             fileConfig.Backends,
		InvokeTimeoutSeconds: fileConfig.InvokeTimeoutSeconds,
		ConcurrencyLimit:     fileConfig.ConcurrencyLimit,
		ConfigDir:            configDir,
	}

	if len(cfg.Backends) == 0 {
		cfg.Backends = DefaultBackends()
	}
	if cfg.InvokeTimeoutSeconds <= 0 {
		cfg.InvokeTimeoutSeconds = 60
	}
	if cfg.ConcurrencyLimit <= 0 {
		cfg.ConcurrencyLimit = 3
	}

	return cfg, nil
}

// DefaultBackends returns the backend set used when the config file does not
// declare one.
func DefaultBackends() []BackendConfig {
	return []BackendConfig{
		{
			ID:           "anthropic",
			Priority:     1,
			CostPerUnit:  0.003,
			Capabilities: []string{"complex-extraction-capable", "citation-capable"},
		},
		{
			ID:          "openai",
			Priority:    2,
			CostPerUnit: 0.002,
		},
		{
			ID:          "google",
			Priority:    3,
			CostPerUnit: 0.001,
		},
	}
}

// HasKey returns true if the API key for the given backend id is configured.
func (c *Config) HasKey(id string) bool {
	switch id {
	case "anthropic":
		return c.AnthropicAPIKey != ""
	case "openai":
		return c.OpenAIAPIKey != ""
	case "google":
		return c.GoogleAPIKey != ""
	default:
		return false
	}
}

// loadFileConfig reads the config file, returning an empty config if the
// file does not exist.
func loadFileConfig(path string) (*FileConfig, error) {
	cfg := &FileConfig{}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// getEnvOrDefault returns the environment variable value if set,
// otherwise returns the default value.
func getEnvOrDefault(envVar, defaultValue string) string {
	if val := os.Getenv(envVar); val != "" {
		return val
	}
	return defaultValue
}

func getConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	configDir := filepath.Join(home, ".taskrelay")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", err
	}
	return configDir, nil
}
