package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFromYAMLOverlaysDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte(`
database:
  path: /tmp/x.db
storage:
  url_expiry: 15m
webhooks:
  - url: https://hooks.example.com/tg
    events: [task.create]
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Database.Path != "/tmp/x.db" {
		t.Fatalf("expected db path override, got %s", cfg.Database.Path)
	}
	if cfg.Workspace != "default" || cfg.Server.BasePath != "/api" {
		t.Fatalf("defaults lost: %+v", cfg)
	}
	if time.Duration(cfg.Storage.URLExpiry) != 15*time.Minute {
		t.Fatalf("expected 15m expiry, got %v", time.Duration(cfg.Storage.URLExpiry))
	}
	if len(cfg.Webhooks) != 1 || !cfg.Webhooks[0].Active() {
		t.Fatalf("expected one active webhook, got %+v", cfg.Webhooks)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"log level":    "log:\n  level: loud\n",
		"webhook url":  "webhooks:\n  - url: ftp://x\n",
		"public url":   "storage:\n  public_url: http://localhost:8080/blobs\n",
		"base path":    "server:\n  base_path: api\n",
		"bad duration": "storage:\n  url_expiry: soon\n",
	}
	for name, doc := range cases {
		if _, err := FromYAML([]byte(doc)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestLoadOptionalMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadOptional(filepath.Join(t.TempDir(), "taskgraph.yml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Root != filepath.Join(".taskgraph", "blobs") {
		t.Fatalf("unexpected storage root %s", cfg.Storage.Root)
	}
	path := Path(t.TempDir())
	if err := os.WriteFile(path, []byte("workspace: team\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = FromFile(path)
	if err != nil || cfg.Workspace != "team" {
		t.Fatalf("from file: %v %+v", err, cfg)
	}
	out, err := cfg.Marshal()
	if err != nil || !strings.Contains(string(out), "url_expiry: 1h0m0s") {
		t.Fatalf("marshal: %v\n%s", err, out)
	}
}
