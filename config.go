package agentgrid

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/agentgrid-dev/agentgrid/agent"
	"github.com/agentgrid-dev/agentgrid/script"
	"github.com/agentgrid-dev/agentgrid/table"
)

// Config is the top-level runtime configuration.
type Config struct {
	// HTTPPort is the observability server port setting; it defaults to
	// 8080. cmd/agentgrid does not read it and takes the server port from
	// its -http-port flag (or the PORT environment variable).
	HTTPPort int `yaml:"http_port"`

	// Agents are started in declaration order.
	Agents []AgentDef `yaml:"agents"`
}

// AgentDef declares one scripted agent.
type AgentDef struct {
	Name string `yaml:"name"`

	// Script is a path to a script file; Code is inline source. Code wins
	// when both are set.
	Script string `yaml:"script,omitempty"`
	Code   string `yaml:"code,omitempty"`

	// Messages the agent accepts, in addition to any the script registers
	// itself via addmessage.
	Messages []MessageDef `yaml:"messages,omitempty"`

	// Settings holds the per-agent configuration knobs
	// (luaStartNewThreadTime, logMessages, logReplication).
	Settings map[string]any `yaml:"settings,omitempty"`
}

// MessageDef declares one accepted message.
type MessageDef struct {
	Name        string              `yaml:"name"`
	DisplayName string              `yaml:"display_name,omitempty"`
	Description string              `yaml:"description,omitempty"`
	Icon        string              `yaml:"icon,omitempty"`
	Parameters  map[string]ParamDef `yaml:"parameters,omitempty"`
}

// ParamDef describes one parameter of a message.
type ParamDef struct {
	Default any `yaml:"default,omitempty"`
}

// FileReader interface for reading files (testable)
type FileReader interface {
	ReadFile(path string) ([]byte, error)
}

// OSFileReader implements FileReader using os.ReadFile
type OSFileReader struct{}

func (r *OSFileReader) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// ConfigLoader loads configuration from a file
type ConfigLoader struct {
	fileReader FileReader
}

// NewConfigLoader creates a new config loader
func NewConfigLoader(fr FileReader) *ConfigLoader {
	return &ConfigLoader{fileReader: fr}
}

// LoadConfig loads and parses a config file
func (cl *ConfigLoader) LoadConfig(configPath string) (*Config, error) {
	data, err := cl.fileReader.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if config.HTTPPort == 0 {
		config.HTTPPort = 8080
	}

	return &config, nil
}

// Validate checks the configuration for construction-time errors.
func (c *Config) Validate() error {
	seen := make(map[string]bool)
	for _, def := range c.Agents {
		if def.Name == "" {
			return fmt.Errorf("agent with empty name")
		}
		if seen[def.Name] {
			return fmt.Errorf("duplicate agent %q", def.Name)
		}
		seen[def.Name] = true
		if def.Script == "" && def.Code == "" {
			return fmt.Errorf("agent %q declares neither script nor code", def.Name)
		}
		for _, msg := range def.Messages {
			if msg.Name == "" {
				return fmt.Errorf("agent %q declares a message with empty name", def.Name)
			}
		}
	}
	return nil
}

// Build creates and starts the declared agents on a fresh collection.
func (c *Config) Build(factory script.Factory) (*Agents, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	g := New(factory)
	for _, def := range c.Agents {
		a, err := g.AddScriptedAgent(def.Name, def.Script, def.Code)
		if err != nil {
			return nil, fmt.Errorf("failed to create agent %q: %w", def.Name, err)
		}

		applySettings(a.Config(), def.Settings)

		for _, msg := range def.Messages {
			descs := table.New()
			for param, p := range msg.Parameters {
				d := descs.Sub(param)
				if p.Default != nil {
					if v, err := table.Norm(p.Default); err == nil {
						d.Set("default", v)
					}
				}
			}
			if err := a.AddMessage(msg.Name, descs, msg.DisplayName, msg.Description, msg.Icon); err != nil {
				return nil, fmt.Errorf("agent %q: %w", def.Name, err)
			}
		}
	}
	return g, nil
}

func applySettings(cfg *agent.Config, settings map[string]any) {
	if len(settings) == 0 {
		return
	}
	t := table.New()
	for k, v := range settings {
		if n, err := table.Norm(v); err == nil {
			t.Set(k, n)
		}
	}
	cfg.SetTable(t)
}
