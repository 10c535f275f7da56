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

const (
	FileName = "boardline.yml"

	AuthModeHMAC = "hmac"
	AuthModeOIDC = "oidc"
)

// Config models boardline.yml.
type Config struct {
	API struct {
		BaseURL string `yaml:"base_url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"api"`
	Auth struct {
		Mode       string `yaml:"mode"`
		Issuer     string `yaml:"issuer"`
		ClientID   string `yaml:"client_id"`
		RolesClaim string `yaml:"roles_claim"`
		JWTSecret  string `yaml:"jwt_secret"`
	} `yaml:"auth"`
	Server struct {
		Addr     string `yaml:"addr"`
		Database string `yaml:"database"`
		// Admins lists emails granted ADMIN when their profile is first synced.
		Admins []string `yaml:"admins"`
	} `yaml:"server"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with bl init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("config.api.base_url is required")
	}
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("config.api.base_url %q is not an absolute url", c.API.BaseURL)
	}
	if c.API.Timeout != "" {
		d, err := time.ParseDuration(c.API.Timeout)
		if err != nil {
			return fmt.Errorf("config.api.timeout: %w", err)
		}
		if d <= 0 {
			return fmt.Errorf("config.api.timeout must be positive")
		}
	}
	switch c.Auth.Mode {
	case AuthModeHMAC:
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("config.auth.jwt_secret is required for mode hmac")
		}
	case AuthModeOIDC:
		if c.Auth.Issuer == "" || c.Auth.ClientID == "" {
			return fmt.Errorf("config.auth.issuer and config.auth.client_id are required for mode oidc")
		}
	default:
		return fmt.Errorf("config.auth.mode must be 'hmac' or 'oidc'")
	}
	for _, email := range c.Server.Admins {
		if !strings.Contains(email, "@") {
			return fmt.Errorf("config.server.admins contains invalid email %q", email)
		}
	}
	return nil
}

// APITimeout returns the configured HTTP timeout, 10s when unset.
func (c *Config) APITimeout() time.Duration {
	if d, err := time.ParseDuration(c.API.Timeout); err == nil && d > 0 {
		return d
	}
	return 10 * time.Second
}

// IsAdminEmail reports whether email is listed in server.admins.
func (c *Config) IsAdminEmail(email string) bool {
	for _, a := range c.Server.Admins {
		if strings.EqualFold(a, email) {
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

// GenerateDefault returns default config YAML.
func GenerateDefault(secret string) string {
	return fmt.Sprintf(defaultTemplate, secret)
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

// Default returns the default Config for local development.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(GenerateDefault("change-me")), &cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
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

const defaultTemplate = `api:
  base_url: http://127.0.0.1:8080
  timeout: 10s

auth:
  # hmac: tokens minted by the development backend (bl serve)
  # oidc: ID tokens from an OpenID Connect provider
  mode: hmac
  jwt_secret: %s
  issuer: ""
  client_id: ""
  roles_claim: roles

server:
  addr: 127.0.0.1:8080
  database: server.db
  admins: []
`
