package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"drivebyfix/pkg/utils"

	"gopkg.in/yaml.v3"
)

type Backend string

const (
	BackendDrive Backend = "drive"
	BackendS3    Backend = "s3"
)

const (
	DefaultConcurrency    = 10
	DefaultBackupFolder   = "drive-by-fix backups"
	DefaultSpoolThreshold = "64MiB"
	DefaultS3Region       = "us-east-1"

	envPrefix = "DRIVEBYFIX_"
)

type Config struct {
	Backend        Backend     `json:"backend" yaml:"backend"`
	Concurrency    int         `json:"concurrency" yaml:"concurrency"`
	BackupFolder   string      `json:"backup_folder" yaml:"backup_folder"`
	SpoolThreshold string      `json:"spool_threshold" yaml:"spool_threshold"`
	SpoolDir       string      `json:"spool_dir,omitempty" yaml:"spool_dir,omitempty"`
	MetricsFile    string      `json:"metrics_file,omitempty" yaml:"metrics_file,omitempty"`
	Drive          DriveConfig `json:"drive" yaml:"drive"`
	S3             S3Config    `json:"s3" yaml:"s3"`
}

type DriveConfig struct {
	// CredentialsFile is the OAuth client JSON downloaded from the Google
	// Cloud console.
	CredentialsFile string `json:"credentials_file" yaml:"credentials_file"`
	TokenFile       string `json:"token_file" yaml:"token_file"`
}

type S3Config struct {
	Endpoint        string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Region          string `json:"region" yaml:"region"`
	Bucket          string `json:"bucket" yaml:"bucket"`
	Prefix          string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	AccessKeyID     string `json:"access_key_id,omitempty" yaml:"access_key_id,omitempty"`
	SecretAccessKey string `json:"secret_access_key,omitempty" yaml:"secret_access_key,omitempty"`
	UsePathStyle    bool   `json:"use_path_style" yaml:"use_path_style"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// GetConfigDir returns the drivebyfix configuration directory
func GetConfigDir() string {
	if dir := os.Getenv(envPrefix + "CONFIG_DIR"); dir != "" {
		return dir
	}

	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "drivebyfix")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ".drivebyfix"
	}
	return filepath.Join(home, ".drivebyfix")
}

// GetConfigPath returns the path of the default config file
func GetConfigPath() string {
	return filepath.Join(GetConfigDir(), "config.json")
}

// LoadConfig reads a JSON or YAML file over the defaults. The format follows
// the file extension; anything other than .yaml or .yml is parsed as JSON.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.ApplyDefaults()
	cfg.expandPaths()
	return cfg, nil
}

// Load resolves the effective configuration: defaults, then the file at path
// (or the default config file when path is empty and the file exists), then
// DRIVEBYFIX_* environment variables.
func Load(path string) (*Config, error) {
	var cfg *Config
	switch {
	case path != "":
		loaded, err := LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	default:
		if _, err := os.Stat(GetConfigPath()); err == nil {
			loaded, err := LoadConfig(GetConfigPath())
			if err != nil {
				return nil, err
			}
			cfg = loaded
		} else {
			cfg = Default()
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	cfg.expandPaths()
	return cfg, nil
}

// ApplyEnv overlays DRIVEBYFIX_* variables that are set and non-empty.
func (c *Config) ApplyEnv() error {
	c.Backend = Backend(getEnv(envPrefix+"BACKEND", string(c.Backend)))
	if v := os.Getenv(envPrefix + "CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %sCONCURRENCY %q: %w", envPrefix, v, err)
		}
		c.Concurrency = n
	}
	c.BackupFolder = getEnv(envPrefix+"BACKUP_FOLDER", c.BackupFolder)
	c.SpoolThreshold = getEnv(envPrefix+"SPOOL_THRESHOLD", c.SpoolThreshold)
	c.SpoolDir = getEnv(envPrefix+"SPOOL_DIR", c.SpoolDir)
	c.MetricsFile = getEnv(envPrefix+"METRICS_FILE", c.MetricsFile)

	c.Drive.CredentialsFile = getEnv(envPrefix+"DRIVE_CREDENTIALS_FILE", c.Drive.CredentialsFile)
	c.Drive.TokenFile = getEnv(envPrefix+"DRIVE_TOKEN_FILE", c.Drive.TokenFile)

	c.S3.Endpoint = getEnv(envPrefix+"S3_ENDPOINT", c.S3.Endpoint)
	c.S3.Region = getEnv(envPrefix+"S3_REGION", c.S3.Region)
	c.S3.Bucket = getEnv(envPrefix+"S3_BUCKET", c.S3.Bucket)
	c.S3.Prefix = getEnv(envPrefix+"S3_PREFIX", c.S3.Prefix)
	c.S3.AccessKeyID = getEnv(envPrefix+"S3_ACCESS_KEY_ID", c.S3.AccessKeyID)
	c.S3.SecretAccessKey = getEnv(envPrefix+"S3_SECRET_ACCESS_KEY", c.S3.SecretAccessKey)
	if v := os.Getenv(envPrefix + "S3_USE_PATH_STYLE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %sS3_USE_PATH_STYLE %q: %w", envPrefix, v, err)
		}
		c.S3.UsePathStyle = b
	}
	return nil
}

// ApplyDefaults fills every unset field.
func (c *Config) ApplyDefaults() {
	if c.Backend == "" {
		c.Backend = BackendDrive
	}
	if c.Concurrency == 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.BackupFolder == "" {
		c.BackupFolder = DefaultBackupFolder
	}
	if c.SpoolThreshold == "" {
		c.SpoolThreshold = DefaultSpoolThreshold
	}
	if c.Drive.CredentialsFile == "" {
		c.Drive.CredentialsFile = filepath.Join(GetConfigDir(), "credentials.json")
	}
	if c.Drive.TokenFile == "" {
		c.Drive.TokenFile = filepath.Join(GetConfigDir(), "token.json")
	}
	if c.S3.Region == "" {
		c.S3.Region = DefaultS3Region
	}
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Backend {
	case BackendDrive, BackendS3:
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q (want %q or %q)", c.Backend, BackendDrive, BackendS3))
	}
	if c.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("concurrency must be positive, got %d", c.Concurrency))
	}
	if _, err := c.SpoolThresholdBytes(); err != nil {
		errs = append(errs, err)
	}
	if c.Backend == BackendS3 && c.S3.Bucket == "" {
		errs = append(errs, errors.New("s3 backend requires s3.bucket"))
	}
	return errors.Join(errs...)
}

// SpoolThresholdBytes parses SpoolThreshold.
func (c *Config) SpoolThresholdBytes() (int64, error) {
	n, err := utils.ParseDataSize(c.SpoolThreshold)
	if err != nil {
		return 0, fmt.Errorf("invalid spool_threshold: %w", err)
	}
	return n, nil
}

func (c *Config) expandPaths() {
	c.SpoolDir = expandPath(c.SpoolDir)
	c.MetricsFile = expandPath(c.MetricsFile)
	c.Drive.CredentialsFile = expandPath(c.Drive.CredentialsFile)
	c.Drive.TokenFile = expandPath(c.Drive.TokenFile)
}

// expandPath expands ~ and environment variables in paths
func expandPath(path string) string {
	if path == "" {
		return path
	}

	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[2:])
		}
	}

	return os.ExpandEnv(path)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
