package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

type LLMConfig struct {
	Provider string `toml:"provider"`
	Model    string `toml:"model"`
	APIKey   string `toml:"api_key"`
	BaseURL  string `toml:"base_url"`
}

type GraphConfig struct {
	URI      string `toml:"uri"`
	User     string `toml:"user"`
	Password string `toml:"password"`
}

type SearchConfig struct {
	APIKey  string `toml:"api_key"`
	BaseURL string `toml:"base_url"`
	Country string `toml:"country"`
	Lang    string `toml:"lang"`
}

type EngineConfig struct {
	CollaboratorTimeoutSeconds int `toml:"collaborator_timeout_seconds"`
	MatrixTopN                 int `toml:"matrix_top_n"`
	MatrixRefreshMinutes       int `toml:"matrix_refresh_minutes"`
	RecentPathLimit            int `toml:"recent_path_limit"`
	ExpanderBatchSize          int `toml:"expander_batch_size"`
	ExpanderIntervalMinutes    int `toml:"expander_interval_minutes"`
}

type ServerConfig struct {
	Port string `toml:"port"`
}

type Config struct {
	Server ServerConfig `toml:"server"`
	LLM    LLMConfig    `toml:"llm"`
	Graph  GraphConfig  `toml:"graph"`
	Search SearchConfig `toml:"search"`
	Engine EngineConfig `toml:"engine"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: "5000"},
		LLM:    LLMConfig{Provider: "deepseek", Model: "deepseek-chat"},
		Search: SearchConfig{BaseURL: "https://google.serper.dev", Country: "eg", Lang: "ar"},
		Engine: EngineConfig{
			CollaboratorTimeoutSeconds: 12,
			MatrixTopN:                 200,
			MatrixRefreshMinutes:       10,
			RecentPathLimit:            500,
			ExpanderBatchSize:          10,
			ExpanderIntervalMinutes:    60,
		},
	}
}

// Load reads a TOML file over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides config values from the environment. Env vars win over
// the file so deployments can keep secrets out of it.
func (c *Config) ApplyEnv() {
	set := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.Server.Port, "PORT")
	set(&c.LLM.Provider, "LLM_PROVIDER")
	set(&c.LLM.Model, "LLM_MODEL")
	set(&c.LLM.APIKey, "LLM_API_KEY")
	set(&c.LLM.APIKey, "DEEPSEEK_API_KEY")
	set(&c.LLM.BaseURL, "LLM_BASE_URL")
	set(&c.Graph.URI, "GRAPH_URI")
	set(&c.Graph.User, "GRAPH_USER")
	set(&c.Graph.Password, "GRAPH_PASSWORD")
	set(&c.Search.APIKey, "SERPER_API_KEY")
	set(&c.Search.BaseURL, "SERPER_BASE_URL")
}

// CollaboratorTimeout is the bound on a single generative or search call.
func (c *Config) CollaboratorTimeout() time.Duration {
	secs := c.Engine.CollaboratorTimeoutSeconds
	if secs <= 0 {
		secs = 12
	}
	return time.Duration(secs) * time.Second
}

// MatrixRefreshInterval is how often the matrix cache refreshes.
func (c *Config) MatrixRefreshInterval() time.Duration {
	mins := c.Engine.MatrixRefreshMinutes
	if mins <= 0 {
		mins = 10
	}
	return time.Duration(mins) * time.Minute
}
