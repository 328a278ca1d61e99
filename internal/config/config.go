// Package config loads tcwright configuration from an optional YAML file
// with environment variable overrides on top.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds all tcwright configuration.
type Config struct {
	// Server settings
	Server ServerConfig `yaml:"server"`

	// Remote store (GitLab) settings
	GitLab GitLabConfig `yaml:"gitlab"`

	// Generation backend
	LLM LLMConfig `yaml:"llm"`

	// Traceability builder
	Trace TraceConfig `yaml:"trace"`
}

// ServerConfig configures the HTTP backend.
type ServerConfig struct {
	Addr         string   `yaml:"addr"`
	CORSOrigins  []string `yaml:"cors_origins"`
	StaticDir    string   `yaml:"static_dir"`
	ScratchDir   string   `yaml:"scratch_dir"`
	ReadTimeout  string   `yaml:"read_timeout"`
	WriteTimeout string   `yaml:"write_timeout"`
}

// GitLabConfig configures the remote store. All three of BaseURL, ProjectID
// and Token must be present; a missing value switches the backend into
// local scratch mode.
type GitLabConfig struct {
	BaseURL       string `yaml:"base_url"`
	ProjectID     string `yaml:"project_id"`
	Token         string `yaml:"token"`
	DefaultBranch string `yaml:"default_branch"`
	Timeout       string `yaml:"timeout"`
}

// Configured reports whether every credential needed to reach the real
// store is present.
func (g GitLabConfig) Configured() bool {
	return g.BaseURL != "" && g.ProjectID != "" && g.Token != ""
}

// LLMConfig configures the generation backend.
type LLMConfig struct {
	Provider string `yaml:"provider"` // stub, openai, gemini
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	Timeout  string `yaml:"timeout"`
}

// TraceConfig configures the traceability matrix builder.
type TraceConfig struct {
	CasesDir    string `yaml:"cases_dir"`
	OutDir      string `yaml:"out_dir"`
	CIServerURL string `yaml:"ci_server_url"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":8000",
			CORSOrigins: []string{
				"http://localhost:5173",
				"http://127.0.0.1:5173",
			},
			ScratchDir:   "out",
			ReadTimeout:  "30s",
			WriteTimeout: "120s",
		},
		GitLab: GitLabConfig{
			DefaultBranch: "main",
			Timeout:       "20s",
		},
		LLM: LLMConfig{
			Provider: "stub",
			Model:    "gpt-4o-mini",
			Timeout:  "60s",
		},
		Trace: TraceConfig{
			CasesDir: "apps",
			OutDir:   "traceability",
		},
	}
}

// Load loads configuration from a YAML file. A missing file is not an
// error: defaults plus environment overrides apply.
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

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides. Env wins over
// file values so a containerized deployment needs no config file at all.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("GITLAB_BASE_URL"); v != "" {
		c.GitLab.BaseURL = v
	}
	if v := os.Getenv("GITLAB_PROJECT_ID"); v != "" {
		c.GitLab.ProjectID = v
	}
	if v := os.Getenv("GITLAB_TOKEN"); v != "" {
		c.GitLab.Token = v
	}
	if v := os.Getenv("GITLAB_DEFAULT_BRANCH"); v != "" {
		c.GitLab.DefaultBranch = v
	}

	// Provider keys first, explicit LLM_PROVIDER last so it wins.
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.LLM.APIKey = v
		if c.LLM.Provider == "" || c.LLM.Provider == "stub" {
			c.LLM.Provider = "openai"
		}
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.LLM.APIKey = v
		if c.LLM.Provider == "" || c.LLM.Provider == "stub" {
			c.LLM.Provider = "gemini"
		}
	}
	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		c.LLM.Provider = v
	}
	if v := os.Getenv("OPENAI_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("GEMINI_MODEL"); v != "" && c.LLM.Provider == "gemini" {
		c.LLM.Model = v
	}

	if v := os.Getenv("TCWRIGHT_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("TCWRIGHT_OUT_DIR"); v != "" {
		c.Server.ScratchDir = v
	}
	if v := os.Getenv("TCWRIGHT_STATIC_DIR"); v != "" {
		c.Server.StaticDir = v
	}
	if v := os.Getenv("CI_SERVER_URL"); v != "" {
		c.Trace.CIServerURL = v
	}
}
