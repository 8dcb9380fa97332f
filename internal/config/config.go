// Package config loads engine configuration from the environment, with
// an optional YAML policy file overriding the upload validation rules.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all environment-based configuration for coursedrive.
type Config struct {
	// Remote API endpoint (required).
	APIBaseURL string `env:"COURSEDRIVE_API_URL"`

	// Course whose files this client manages (required).
	CourseID string `env:"COURSEDRIVE_COURSE_ID"`

	// Upload pipeline tuning.
	UploadConcurrency int   `env:"UPLOAD_CONCURRENCY" envDefault:"3"`
	MaxFileSizeMB     int64 `env:"MAX_FILE_SIZE_MB" envDefault:"100"`

	// AllowedTypes is the MIME allow-list for uploads. Empty accepts
	// everything.
	AllowedTypes []string `env:"ALLOWED_TYPES" envSeparator:"," envDefault:"application/pdf,image/png,image/jpeg,image/gif,text/plain,text/markdown"`

	// PolicyFile optionally points at a YAML file overriding the
	// upload policy above.
	PolicyFile string `env:"UPLOAD_POLICY_FILE"`

	// DropDir, when set, is watched for files to auto-upload.
	DropDir string `env:"DROP_DIR"`

	// StatsDBPath is where the dedupe savings cache lives. Defaults to
	// ~/.coursedrive/stats.db when empty.
	StatsDBPath string `env:"STATS_DB_PATH"`

	// Environment controls log format.
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// policyFile is the YAML shape of an upload policy override.
type policyFile struct {
	MaxFileSizeMB int64    `yaml:"max_file_size_mb"`
	AllowedTypes  []string `yaml:"allowed_types"`
}

// Load reads configuration from environment variables. It first
// attempts to load a .env file if present, then parses env vars, then
// applies the policy file override if one is configured.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if cfg.PolicyFile != "" {
		if err := cfg.applyPolicyFile(cfg.PolicyFile); err != nil {
			return nil, fmt.Errorf("applying policy file: %w", err)
		}
	}

	if cfg.DropDir != "" {
		absDir, err := filepath.Abs(cfg.DropDir)
		if err != nil {
			return nil, fmt.Errorf("resolving drop dir to absolute path: %w", err)
		}

		cfg.DropDir = absDir
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.APIBaseURL == "" {
		return fmt.Errorf("COURSEDRIVE_API_URL is required")
	}

	if c.CourseID == "" {
		return fmt.Errorf("COURSEDRIVE_COURSE_ID is required")
	}

	if c.UploadConcurrency < 1 {
		return fmt.Errorf("UPLOAD_CONCURRENCY must be at least 1")
	}

	if c.MaxFileSizeMB < 1 {
		return fmt.Errorf("MAX_FILE_SIZE_MB must be at least 1")
	}

	return nil
}

// applyPolicyFile overlays the YAML policy onto the config. Zero
// values in the file leave the corresponding env-derived setting
// untouched.
func (c *Config) applyPolicyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var p policyFile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	if p.MaxFileSizeMB > 0 {
		c.MaxFileSizeMB = p.MaxFileSizeMB
	}

	if len(p.AllowedTypes) > 0 {
		c.AllowedTypes = p.AllowedTypes
	}

	return nil
}

// MaxFileSizeBytes returns the per-file size cap in bytes.
func (c *Config) MaxFileSizeBytes() int64 {
	return c.MaxFileSizeMB * 1024 * 1024
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
