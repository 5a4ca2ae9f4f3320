// Package config loads the engine configuration from YAML, expanding
// ${VAR} references from the environment.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Model       ModelConfig       `yaml:"model"`
	State       StateConfig       `yaml:"state"`
	Redis       RedisConfig       `yaml:"redis"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Agent       AgentConfig       `yaml:"agent"`
	Transports  TransportConfig   `yaml:"transports"`
	Servers     []ServerConfig    `yaml:"servers"`
	Credentials CredentialsConfig `yaml:"credentials"`
}

type ModelConfig struct {
	Provider string `yaml:"provider"` // anthropic | openai
	Name     string `yaml:"name"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
}

type StateConfig struct {
	Driver      string `yaml:"driver"` // sqlite | postgres
	DataDir     string `yaml:"data_dir"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

type RedisConfig struct {
	Addr string `yaml:"addr"` // empty disables broadcasting
}

type MetricsConfig struct {
	Listen string `yaml:"listen"` // empty disables the endpoint
}

type AgentConfig struct {
	MaxTurns        int      `yaml:"max_turns"`
	ApprovalTimeout string   `yaml:"approval_timeout"` // Go duration, e.g. "168h"
	SystemPrompt    string   `yaml:"system_prompt"`
	Servers         []string `yaml:"servers"` // active capability/server names
}

type TransportConfig struct {
	ConnectTimeout  string `yaml:"connect_timeout"`
	ResponseTimeout string `yaml:"response_timeout"`
}

// ServerConfig describes one remotely configured MCP server.
type ServerConfig struct {
	Name        string `yaml:"name"`
	Endpoint    string `yaml:"endpoint"`
	Transport   string `yaml:"transport"` // sse | streamable
	AuthMode    string `yaml:"auth_mode"` // oauth | none
	AccessToken string `yaml:"access_token"`
}

type CredentialsConfig struct {
	File string `yaml:"file"`
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)}`)

func expandEnv(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envPattern.FindStringSubmatch(match)[1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

func expandAll(cfg *Config) {
	cfg.Model.APIKey = expandEnv(cfg.Model.APIKey)
	cfg.Model.BaseURL = expandEnv(cfg.Model.BaseURL)
	cfg.State.DataDir = expandEnv(cfg.State.DataDir)
	cfg.State.PostgresDSN = expandEnv(cfg.State.PostgresDSN)
	cfg.Redis.Addr = expandEnv(cfg.Redis.Addr)
	cfg.Credentials.File = expandEnv(cfg.Credentials.File)
	for i, s := range cfg.Servers {
		s.Endpoint = expandEnv(s.Endpoint)
		s.AccessToken = expandEnv(s.AccessToken)
		cfg.Servers[i] = s
	}
}

func applyDefaults(cfg *Config) {
	if cfg.State.Driver == "" {
		cfg.State.Driver = "sqlite"
	}
	if cfg.State.DataDir == "" {
		home, _ := os.UserHomeDir()
		cfg.State.DataDir = home + "/.weft"
	}
	if cfg.Credentials.File == "" {
		cfg.Credentials.File = cfg.State.DataDir + "/credentials.yaml"
	}
	if cfg.Agent.MaxTurns == 0 {
		cfg.Agent.MaxTurns = 50
	}
	if cfg.Agent.ApprovalTimeout == "" {
		cfg.Agent.ApprovalTimeout = "168h"
	}
}

// Timeout parses the configured checkpoint wait bound.
func (c *AgentConfig) Timeout() (time.Duration, error) {
	d, err := time.ParseDuration(c.ApprovalTimeout)
	if err != nil {
		return 0, fmt.Errorf("approval_timeout: %w", err)
	}
	return d, nil
}

// Load reads and parses the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML, expands ${VAR} references and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	expandAll(&cfg)
	applyDefaults(&cfg)
	return &cfg, nil
}
