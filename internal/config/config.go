package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"stageline/internal/logger"
)

// FileName is the optional per-workspace config file.
const FileName = "stageline.yml"

// Config models stageline.yml.
type Config struct {
	Paths struct {
		JobsDir        string `yaml:"jobs_dir" json:"jobs_dir"`
		Blocker        string `yaml:"blocker" json:"blocker"`
		KnowledgeStore string `yaml:"knowledge_store" json:"knowledge_store"`
		Schema         string `yaml:"schema" json:"schema"`
	} `yaml:"paths" json:"paths"`
	History struct {
		Enabled *bool `yaml:"enabled" json:"enabled"`
	} `yaml:"history" json:"history"`
	Log struct {
		Level string `yaml:"level" json:"level"`
		JSON  bool   `yaml:"json" json:"json"`
	} `yaml:"log" json:"log"`
	Server struct {
		Addr     string `yaml:"addr" json:"addr"`
		BasePath string `yaml:"base_path" json:"base_path"`
	} `yaml:"server" json:"server"`
	Webhooks []WebhookConfig `yaml:"webhooks" json:"webhooks,omitempty"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Events         []string `yaml:"events" json:"events,omitempty"`
	Secret         string   `yaml:"secret" json:"-"`
	TimeoutSeconds int      `yaml:"timeout_seconds" json:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled" json:"enabled,omitempty"`
}

// RunEvents are the webhook event names a run can emit.
var RunEvents = []string{"run.completed", "run.blocked", "run.failed"}

// HistoryEnabled reports whether runs are recorded in the workspace database.
func (c *Config) HistoryEnabled() bool {
	return c.History.Enabled == nil || *c.History.Enabled
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Paths.JobsDir) == "" {
		return fmt.Errorf("config.paths.jobs_dir is required")
	}
	if strings.TrimSpace(c.Paths.Blocker) == "" {
		return fmt.Errorf("config.paths.blocker is required")
	}
	if strings.TrimSpace(c.Paths.KnowledgeStore) == "" {
		return fmt.Errorf("config.paths.knowledge_store is required")
	}
	if strings.TrimSpace(c.Paths.Schema) == "" {
		return fmt.Errorf("config.paths.schema is required")
	}
	if c.Log.Level != "" && !logger.ValidLevel(c.Log.Level) {
		return fmt.Errorf("config.log.level %q is not one of debug, info, warn, error, disabled", c.Log.Level)
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("webhooks[%d].url is required", i)
		}
		u, err := url.Parse(hook.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("webhooks[%d].url must be an http(s) URL", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("webhooks[%d].timeout_seconds must not be negative", i)
		}
		for _, evt := range hook.Events {
			if !knownRunEvent(evt) {
				return fmt.Errorf("webhooks[%d] references unknown event %s", i, evt)
			}
		}
	}
	return nil
}

func knownRunEvent(evt string) bool {
	for _, known := range RunEvents {
		if strings.TrimSpace(evt) == known {
			return true
		}
	}
	return false
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// ResolvePath anchors p at the workspace unless it is already absolute.
func ResolvePath(workspace, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, p)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses config from raw YAML bytes on top of the defaults and validates it.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `paths:
  jobs_dir: JOBS
  blocker: BLOCKER.md
  knowledge_store: 02_structured/knowledge_base.csv
  schema: 02_structured/structurer_schema.json

history:
  enabled: true

log:
  level: info
  json: false

server:
  addr: 127.0.0.1:8080
  base_path: /v0
`
