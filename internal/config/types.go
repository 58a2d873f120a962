package config

import "time"

// Config represents the complete terraflow configuration.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Terraform TerraformConfig `yaml:"terraform"`
	Storage   StorageConfig   `yaml:"storage"`
	History   HistoryConfig   `yaml:"history"`
	API       APIConfig       `yaml:"api,omitempty"`
	Metrics   MetricsConfig   `yaml:"metrics,omitempty"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	// PIDLockPath holds the single-instance lock file.
	// Empty means <history dir>/terraflow.pid.
	PIDLockPath string `yaml:"pid_lock_path,omitempty"`
}

// TerraformConfig defines how the terraform binary is driven.
type TerraformConfig struct {
	// Binary is the terraform executable; resolved on PATH when not absolute.
	Binary string `yaml:"binary"`
	// TemplatesDir is the source root that seed files are copied from.
	// Each template's files live under <templates_dir>/<template_name>/.
	TemplatesDir string `yaml:"templates_dir"`
	// SeedFiles is the fixed list of files copied into each workspace.
	// Files missing at the source are skipped, not errors.
	SeedFiles []string `yaml:"seed_files"`
	// WorkspaceRoot is where per-template workspaces are created.
	// Empty means a terraflow directory under the OS temp dir.
	WorkspaceRoot string          `yaml:"workspace_root,omitempty"`
	Timeouts      *TimeoutsConfig `yaml:"timeouts,omitempty"`
}

// TimeoutsConfig defines per-subcommand subprocess timeouts.
type TimeoutsConfig struct {
	Init    time.Duration `yaml:"init"`
	Apply   time.Duration `yaml:"apply"`
	Destroy time.Duration `yaml:"destroy"`
	Storage time.Duration `yaml:"storage,omitempty"`
}

// StorageConfig defines the cloud object storage collaborator.
type StorageConfig struct {
	// BucketPrefix tags buckets as temporary; reconciliation only ever
	// touches buckets whose name starts with this prefix.
	BucketPrefix string `yaml:"bucket_prefix"`
	// AWSBinary is the aws CLI executable used by the s3api-backed client.
	AWSBinary string `yaml:"aws_binary"`
	Region    string `yaml:"region,omitempty"`
}

// HistoryConfig defines run-history storage settings.
type HistoryConfig struct {
	Path string `yaml:"path"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Listen string        `yaml:"listen"`
	Auth   APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	// APIKey is a single bearer token. Empty disables auth.
	APIKey string `yaml:"api_key"`
}

// MetricsConfig defines prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "terraflow",
			LogLevel:  "info",
			LogFormat: "json",
		},
		Terraform: TerraformConfig{
			Binary:       "terraform",
			TemplatesDir: "./templates",
			SeedFiles: []string{
				"main.tf",
				"variables.tf",
				"outputs.tf",
				"terraform.tfvars",
			},
			Timeouts: DefaultTimeouts(),
		},
		Storage: StorageConfig{
			BucketPrefix: "terraflow-tmp",
			AWSBinary:    "aws",
		},
		History: HistoryConfig{
			Path: "./data/history.db",
		},
		API: APIConfig{
			Listen: "127.0.0.1:8080",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// DefaultTimeouts returns default subprocess timeouts.
func DefaultTimeouts() *TimeoutsConfig {
	return &TimeoutsConfig{
		Init:    2 * time.Minute,
		Apply:   15 * time.Minute,
		Destroy: 15 * time.Minute,
		Storage: 60 * time.Second,
	}
}

// TimeoutFor returns the timeout for a terraform subcommand, falling back
// to defaults when unset.
func (t *TimeoutsConfig) TimeoutFor(subcommand string) time.Duration {
	def := DefaultTimeouts()
	if t == nil {
		t = def
	}
	switch subcommand {
	case "init":
		if t.Init > 0 {
			return t.Init
		}
		return def.Init
	case "apply":
		if t.Apply > 0 {
			return t.Apply
		}
		return def.Apply
	case "destroy":
		if t.Destroy > 0 {
			return t.Destroy
		}
		return def.Destroy
	default:
		if t.Storage > 0 {
			return t.Storage
		}
		return def.Storage
	}
}
