package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file or a directory holding
// config.yaml, expands ${ENV_VAR} references, applies defaults, verifies the
// integrity checksum when present, and validates the result.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	expanded := expandEnvVars(string(data))

	cfg := Defaults()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", absPath, err)
	}

	applyDefaults(cfg)

	if err := verifyConfigHash(absPath); err != nil {
		return nil, err
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// DiscoverConfigPath finds the config by checking standard locations.
// Priority order: $TERRAFLOW_CONFIG, ~/.config/terraflow, /etc/terraflow, ./config.yaml
func DiscoverConfigPath() (string, error) {
	if p := os.Getenv("TERRAFLOW_CONFIG"); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		userConfigDir := filepath.Join(homeDir, ".config", "terraflow")
		if _, err := os.Stat(userConfigDir); err == nil {
			return userConfigDir, nil
		}
	}

	systemConfigDir := "/etc/terraflow"
	if _, err := os.Stat(systemConfigDir); err == nil {
		return systemConfigDir, nil
	}

	legacyConfigPath := "./config.yaml"
	if _, err := os.Stat(legacyConfigPath); err == nil {
		return legacyConfigPath, nil
	}

	return "", fmt.Errorf("no config found (checked: $TERRAFLOW_CONFIG, ~/.config/terraflow, /etc/terraflow, ./config.yaml)")
}

// expandEnvVars substitutes ${VAR} references with environment values.
// Unset variables expand to the empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})
}

func applyDefaults(cfg *Config) {
	def := Defaults()
	if cfg.Service.Name == "" {
		cfg.Service.Name = def.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = def.Service.LogLevel
	}
	if cfg.Terraform.Binary == "" {
		cfg.Terraform.Binary = def.Terraform.Binary
	}
	if len(cfg.Terraform.SeedFiles) == 0 {
		cfg.Terraform.SeedFiles = def.Terraform.SeedFiles
	}
	if cfg.Terraform.Timeouts == nil {
		cfg.Terraform.Timeouts = DefaultTimeouts()
	}
	if cfg.Storage.BucketPrefix == "" {
		cfg.Storage.BucketPrefix = def.Storage.BucketPrefix
	}
	if cfg.Storage.AWSBinary == "" {
		cfg.Storage.AWSBinary = def.Storage.AWSBinary
	}
	if cfg.History.Path == "" {
		cfg.History.Path = def.History.Path
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = def.API.Listen
	}
}

func validate(cfg *Config) error {
	if strings.TrimSpace(cfg.Terraform.TemplatesDir) == "" {
		return fmt.Errorf("terraform.templates_dir is required")
	}
	for _, f := range cfg.Terraform.SeedFiles {
		if strings.ContainsAny(f, `/\`) {
			return fmt.Errorf("terraform.seed_files entry %q must be a bare filename", f)
		}
	}
	if strings.TrimSpace(cfg.Storage.BucketPrefix) == "" {
		return fmt.Errorf("storage.bucket_prefix is required")
	}
	// Bucket names embed the prefix; keep it DNS-safe.
	for _, r := range cfg.Storage.BucketPrefix {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '-' {
			return fmt.Errorf("storage.bucket_prefix %q must be lowercase alphanumeric or '-'", cfg.Storage.BucketPrefix)
		}
	}
	return nil
}
