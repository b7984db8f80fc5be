// Package config loads and validates YAML configuration with environment
// variable expansion.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/LunaDeerTech/Agentex/agent"
	"github.com/LunaDeerTech/Agentex/llms"
	"github.com/LunaDeerTech/Agentex/reasoning"
	"github.com/LunaDeerTech/Agentex/retrieval"
)

// ============================================================================
// CONFIG TYPES
// ============================================================================

// Config is the root configuration.
type Config struct {
	Server    ServerConfig     `yaml:"server,omitempty" json:"server,omitempty"`
	LLM       LLMConfig        `yaml:"llm" json:"llm"`
	Agent     AgentConfig      `yaml:"agent,omitempty" json:"agent,omitempty"`
	Retrieval retrieval.Config `yaml:"retrieval,omitempty" json:"retrieval,omitempty"`
	Logging   LoggingConfig    `yaml:"logging,omitempty" json:"logging,omitempty"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host string `yaml:"host,omitempty" json:"host,omitempty"`
	Port int    `yaml:"port,omitempty" json:"port,omitempty"`
}

// LLMConfig selects and configures the LLM provider.
type LLMConfig struct {
	Provider    string `yaml:"provider,omitempty" json:"provider,omitempty"`
	llms.Config `yaml:",inline"`
}

// AgentConfig selects and configures the agent variant.
type AgentConfig struct {
	Type           string               `yaml:"type,omitempty" json:"type,omitempty"`
	agent.Config   `yaml:",inline"`
	KnowledgeBases []string             `yaml:"knowledge_bases,omitempty" json:"knowledge_bases,omitempty"`
	RAG            reasoning.RAGConfig  `yaml:"rag,omitempty" json:"rag,omitempty"`
	Plan           reasoning.PlanConfig `yaml:"plan,omitempty" json:"plan,omitempty"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty" json:"level,omitempty"`
	Format string `yaml:"format,omitempty" json:"format,omitempty"`
}

// ============================================================================
// DEFAULTS AND VALIDATION
// ============================================================================

// SetDefaults fills zero-valued fields throughout the tree.
func (c *Config) SetDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	c.LLM.Config.SetDefaults()
	if c.Agent.Type == "" {
		c.Agent.Type = "react"
	}
	c.Agent.Config.SetDefaults()
	c.Agent.RAG.SetDefaults()
	c.Agent.Plan.SetDefaults()
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "simple"
	}
}

// Validate checks required fields after defaulting.
func (c *Config) Validate() error {
	if err := c.LLM.Config.Validate(); err != nil {
		return fmt.Errorf("llm: %w", err)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server: port %d out of range", c.Server.Port)
	}
	return nil
}

// ============================================================================
// LOADING
// ============================================================================

// Load reads a YAML config file, expands env references, applies defaults,
// and validates. Env files (.env.local, .env) are loaded first so they can
// satisfy ${VAR} references.
func Load(path string) (*Config, error) {
	if err := LoadEnvFiles(); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(raw)
}

// Parse decodes YAML config bytes with env expansion.
func Parse(raw []byte) (*Config, error) {
	var data any
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	expanded, err := yaml.Marshal(ExpandEnvVarsInData(normalizeKeys(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to expand config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// normalizeKeys converts yaml.v3's map[string]any trees recursively; keys
// are already strings but nested values may mix types.
func normalizeKeys(data any) any {
	switch v := data.(type) {
	case map[string]any:
		result := make(map[string]any, len(v))
		for key, value := range v {
			result[key] = normalizeKeys(value)
		}
		return result
	case []any:
		result := make([]any, len(v))
		for i, item := range v {
			result[i] = normalizeKeys(item)
		}
		return result
	default:
		return v
	}
}
