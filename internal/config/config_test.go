package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.API.BaseURL != "http://127.0.0.1:8080" {
		t.Fatalf("unexpected base url %q", cfg.API.BaseURL)
	}
	if cfg.APITimeout() != 10*time.Second {
		t.Fatalf("unexpected timeout %s", cfg.APITimeout())
	}
}

func TestFromYAMLOverridesDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte(`
api:
  base_url: https://board.example.com
  timeout: 3s
auth:
  mode: oidc
  issuer: https://id.example.com/
  client_id: abc
server:
  admins: [root@example.com]
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.APITimeout() != 3*time.Second {
		t.Fatalf("timeout=%s", cfg.APITimeout())
	}
	if cfg.Server.Addr != "127.0.0.1:8080" {
		t.Fatalf("expected default addr to survive, got %q", cfg.Server.Addr)
	}
	if !cfg.IsAdminEmail("ROOT@example.com") || cfg.IsAdminEmail("x@example.com") {
		t.Fatalf("admin email matching wrong")
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"relative url": "api:\n  base_url: /api\n",
		"bad timeout":  "api:\n  timeout: soon\n",
		"bad mode":     "auth:\n  mode: basic\n",
		"oidc missing": "auth:\n  mode: oidc\n",
		"no secret":    "auth:\n  jwt_secret: \"\"\n",
		"bad admin":    "server:\n  admins: [nobody]\n",
	}
	for name, doc := range cases {
		if _, err := FromYAML([]byte(doc)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadOptionalAndLoad(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	if err != nil || cfg != nil {
		t.Fatalf("expected nil config, got %v %v", cfg, err)
	}
	if _, err := Load(dir); err == nil || !strings.Contains(err.Error(), "bl init") {
		t.Fatalf("expected not-found hint, got %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(GenerateDefault("s3cret")), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err = Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Auth.JWTSecret != "s3cret" {
		t.Fatalf("secret=%q", cfg.Auth.JWTSecret)
	}
}
