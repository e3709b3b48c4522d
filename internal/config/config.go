package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the memory gateway configuration.
type Config struct {
	HTTP    HTTPConfig    `yaml:"http"`
	Admin   AdminConfig   `yaml:"admin"`
	Model   ModelConfig   `yaml:"model"`
	Cloud   CloudConfig   `yaml:"cloud"`
	Routing RoutingConfig `yaml:"routing"`
	Memory  MemoryConfig  `yaml:"memory"`
	Batch   BatchConfig   `yaml:"batch"`
	Logging LoggingConfig `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// HTTPConfig holds gateway server settings.
type HTTPConfig struct {
	Port            int    `yaml:"port"`
	Bind            string `yaml:"bind"`
	ReadTimeoutSec  int    `yaml:"read_timeout_sec"`
	HandlerTimeout  int    `yaml:"handler_timeout_sec"`
	ShutdownSec     int    `yaml:"shutdown_timeout_sec"`
	MaxRequestBytes int    `yaml:"max_request_bytes"`
}

// AdminConfig holds the ops server settings (/metrics, /healthz).
type AdminConfig struct {
	Port int `yaml:"port"` // 0 disables the admin server
}

// ModelConfig holds the local model runtime endpoint settings.
type ModelConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	CompletionName string `yaml:"completion_model"`
	VisionName     string `yaml:"vision_model"`
	EmbeddingName  string `yaml:"embedding_model"`
	EmbeddingDims  int    `yaml:"embedding_dims"`
	TimeoutSec     int    `yaml:"timeout_sec"`
}

// CloudConfig holds cloud fallback provider settings.
type CloudConfig struct {
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// RoutingConfig holds decision policy thresholds.
type RoutingConfig struct {
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	PrivacyThreshold    float64 `yaml:"privacy_threshold"`
}

// MemoryConfig holds memory store settings.
type MemoryConfig struct {
	Driver        string   `yaml:"driver"` // inmemory, redis (default: inmemory)
	Addrs         []string `yaml:"addrs"`
	Password      string   `yaml:"password"`
	KeyPrefix     string   `yaml:"key_prefix"`
	MinSimilarity float64  `yaml:"min_similarity"`
}

// BatchConfig holds batch endpoint settings.
type BatchConfig struct {
	// Workers bounds concurrent image processing. The default of 1 reflects a
	// capacity constraint of the model runtime, which serves one generation
	// request at a time.
	Workers int `yaml:"workers"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.Port <= 0 {
		c.HTTP.Port = 3000
	}
	if c.HTTP.Bind == "" {
		c.HTTP.Bind = "0.0.0.0"
	}
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 30
	}
	if c.HTTP.HandlerTimeout <= 0 {
		c.HTTP.HandlerTimeout = 300
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.HTTP.MaxRequestBytes <= 0 {
		c.HTTP.MaxRequestBytes = 10 << 20
	}
	if c.Model.TimeoutSec <= 0 {
		c.Model.TimeoutSec = 120
	}
	if c.Model.EmbeddingDims <= 0 {
		c.Model.EmbeddingDims = 768
	}
	if c.Cloud.Model == "" {
		c.Cloud.Model = "gpt-4o-mini"
	}
	if c.Cloud.TimeoutSec <= 0 {
		c.Cloud.TimeoutSec = 60
	}
	if c.Routing.ConfidenceThreshold <= 0 {
		c.Routing.ConfidenceThreshold = 0.7
	}
	if c.Routing.PrivacyThreshold <= 0 {
		c.Routing.PrivacyThreshold = 0.5
	}
	if c.Memory.Driver == "" {
		c.Memory.Driver = "inmemory"
	}
	if c.Memory.KeyPrefix == "" {
		c.Memory.KeyPrefix = "cactus:"
	}
	if c.Memory.MinSimilarity <= 0 {
		c.Memory.MinSimilarity = 0.5
	}
	if c.Batch.Workers <= 0 {
		c.Batch.Workers = 1
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if c.Admin.Port < 0 || c.Admin.Port > 65535 {
		return fmt.Errorf("admin.port must be between 0 and 65535, got %d", c.Admin.Port)
	}
	if c.Model.BaseURL == "" {
		return fmt.Errorf("model.base_url is required")
	}
	if c.Routing.ConfidenceThreshold > 1 {
		return fmt.Errorf("routing.confidence_threshold must be in [0,1], got %v", c.Routing.ConfidenceThreshold)
	}
	if c.Routing.PrivacyThreshold > 1 {
		return fmt.Errorf("routing.privacy_threshold must be in [0,1], got %v", c.Routing.PrivacyThreshold)
	}
	switch c.Memory.Driver {
	case "inmemory":
	case "redis":
		if len(c.Memory.Addrs) == 0 {
			return fmt.Errorf("memory.addrs is required for the redis driver")
		}
	default:
		return fmt.Errorf("memory.driver must be \"inmemory\" or \"redis\", got %q", c.Memory.Driver)
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
