package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr bool
		checkFn func(t *testing.T, cfg *Config)
	}{
		{
			name: "minimal valid config",
			yaml: `
terraform:
  templates_dir: ./templates
`,
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Terraform.TemplatesDir != "./templates" {
					t.Error("templates_dir not parsed")
				}
				// Defaults applied.
				if cfg.Terraform.Binary != "terraform" {
					t.Error("default terraform binary not applied")
				}
				if len(cfg.Terraform.SeedFiles) == 0 {
					t.Error("default seed files not applied")
				}
				if cfg.Storage.BucketPrefix != "terraflow-tmp" {
					t.Error("default bucket prefix not applied")
				}
				if cfg.Terraform.Timeouts.TimeoutFor("apply") != 15*time.Minute {
					t.Error("default apply timeout not applied")
				}
				if cfg.API.Listen != "127.0.0.1:8080" {
					t.Error("default listen address not applied")
				}
			},
		},
		{
			name: "full config",
			yaml: `
service:
  name: terraflow-staging
  log_level: debug
terraform:
  binary: /usr/local/bin/terraform
  templates_dir: /srv/templates
  workspace_root: /var/lib/terraflow/workspaces
  seed_files: [main.tf, backend.tf]
  timeouts:
    init: 90s
    apply: 20m
storage:
  bucket_prefix: tf-scratch
  region: eu-west-1
history:
  path: /var/lib/terraflow/history.db
api:
  listen: 0.0.0.0:9090
  auth:
    api_key: hunter2
`,
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Service.Name != "terraflow-staging" {
					t.Error("service.name not parsed")
				}
				if cfg.Terraform.Timeouts.TimeoutFor("init") != 90*time.Second {
					t.Error("timeouts.init not parsed")
				}
				if cfg.Terraform.Timeouts.TimeoutFor("apply") != 20*time.Minute {
					t.Error("timeouts.apply not parsed")
				}
				// Unset timeouts still fall back.
				if cfg.Terraform.Timeouts.TimeoutFor("destroy") != 15*time.Minute {
					t.Error("timeouts.destroy fallback not applied")
				}
				if cfg.Storage.BucketPrefix != "tf-scratch" {
					t.Error("bucket_prefix not parsed")
				}
				if cfg.API.Auth.APIKey != "hunter2" {
					t.Error("api key not parsed")
				}
			},
		},
		{
			name: "env var interpolation",
			yaml: `
terraform:
  templates_dir: ${TEMPLATES_DIR}
`,
			env: map[string]string{"TEMPLATES_DIR": "/opt/templates"},
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Terraform.TemplatesDir != "/opt/templates" {
					t.Errorf("env var not expanded, got %q", cfg.Terraform.TemplatesDir)
				}
			},
		},
		{
			name:    "missing templates_dir rejected",
			yaml:    "service:\n  name: x\n",
			wantErr: true,
		},
		{
			name: "seed file with path separator rejected",
			yaml: `
terraform:
  templates_dir: ./templates
  seed_files: ["../escape.tf"]
`,
			wantErr: true,
		},
		{
			name: "uppercase bucket prefix rejected",
			yaml: `
terraform:
  templates_dir: ./templates
storage:
  bucket_prefix: Terraflow
`,
			wantErr: true,
		},
		{
			name:    "invalid yaml",
			yaml:    "terraform: [",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := Load(writeConfig(t, tt.yaml))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() failed: %v", err)
			}
			if tt.checkFn != nil {
				tt.checkFn(t, cfg)
			}
		})
	}
}

func TestLoadDirectoryResolvesConfigYAML(t *testing.T) {
	dir := t.TempDir()
	yaml := "terraform:\n  templates_dir: ./templates\n"
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load(dir) failed: %v", err)
	}
	if cfg.Terraform.TemplatesDir != "./templates" {
		t.Error("config.yaml inside directory not loaded")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing config")
	}
}

func TestDiscoverConfigPathEnvOverride(t *testing.T) {
	path := writeConfig(t, "terraform:\n  templates_dir: ./templates\n")
	t.Setenv("TERRAFLOW_CONFIG", path)

	got, err := DiscoverConfigPath()
	if err != nil {
		t.Fatalf("DiscoverConfigPath() failed: %v", err)
	}
	if got != path {
		t.Errorf("got %q, want %q", got, path)
	}
}
