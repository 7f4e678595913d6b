package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models taskgraph.yml.
type Config struct {
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Workspace string `yaml:"workspace"`
	Storage   struct {
		Root       string   `yaml:"root"`
		SigningKey string   `yaml:"signing_key"`
		PublicURL  string   `yaml:"public_url"`
		URLExpiry  Duration `yaml:"url_expiry"`
	} `yaml:"storage"`
	Server struct {
		Addr      string `yaml:"addr"`
		BasePath  string `yaml:"base_path"`
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"server"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
	Webhooks []Webhook `yaml:"webhooks"`
}

type Webhook struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Active reports whether the hook should receive deliveries; hooks are
// enabled unless switched off explicitly.
func (w Webhook) Active() bool { return w.Enabled == nil || *w.Enabled }

// Duration reads Go duration strings such as "90s" or "1h".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	v, err := time.ParseDuration(strings.TrimSpace(n.Value))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", n.Value, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (any, error) { return time.Duration(d).String(), nil }

// Default returns the configuration used when no file is present.
func Default() *Config {
	var cfg Config
	cfg.Database.Path = filepath.Join(".taskgraph", "tasks.db")
	cfg.Workspace = "default"
	cfg.Storage.Root = filepath.Join(".taskgraph", "blobs")
	cfg.Storage.URLExpiry = Duration(time.Hour)
	cfg.Server.Addr = ":8080"
	cfg.Server.BasePath = "/api"
	cfg.Log.Level = "info"
	return &cfg
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Database.Path) == "" {
		return fmt.Errorf("config.database.path is required")
	}
	if strings.TrimSpace(c.Workspace) == "" {
		return fmt.Errorf("config.workspace is required")
	}
	if strings.TrimSpace(c.Storage.Root) == "" {
		return fmt.Errorf("config.storage.root is required")
	}
	if c.Storage.URLExpiry < 0 {
		return fmt.Errorf("config.storage.url_expiry must not be negative")
	}
	if c.Storage.PublicURL != "" {
		if _, err := url.Parse(c.Storage.PublicURL); err != nil {
			return fmt.Errorf("config.storage.public_url: %w", err)
		}
		if c.Storage.SigningKey == "" {
			return fmt.Errorf("config.storage.public_url requires config.storage.signing_key")
		}
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("config.log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	for i, h := range c.Webhooks {
		if h.URL == "" {
			return fmt.Errorf("webhooks[%d].url is required", i)
		}
		u, err := url.Parse(h.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("webhooks[%d].url must be an http(s) URL", i)
		}
		if h.TimeoutSeconds < 0 {
			return fmt.Errorf("webhooks[%d].timeout_seconds must not be negative", i)
		}
		for _, e := range h.Events {
			if strings.TrimSpace(e) == "" {
				return fmt.Errorf("webhooks[%d] has an empty event type", i)
			}
		}
	}
	return nil
}

// Path returns the config file path inside dir.
func Path(dir string) string {
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, "taskgraph.yml")
}

// LoadOptional returns the defaults when the file does not exist.
func LoadOptional(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses YAML over the defaults and validates the result.
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

// Marshal renders cfg as YAML, used by `tg config show`.
func (c *Config) Marshal() ([]byte, error) { return yaml.Marshal(c) }
