// Package config loads configuration from environment variables, optionally
// overlaid by a YAML file named in CONFIG_FILE.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Hash scopes for content deduplication.
const (
	HashScopeGlobal   = "global"
	HashScopeContract = "contract"
)

// Config holds all server configuration.
type Config struct {
	// Server
	ListenAddr  string `yaml:"listen_addr"`
	MetricsAddr string `yaml:"metrics_addr"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Database (empty = in-memory metadata)
	DatabaseURL string `yaml:"database_url"`

	// Storage preference, highest first ("remote", "s3", "local")
	StorageOrder     []string `yaml:"storage_order"`
	LocalStoragePath string   `yaml:"local_storage_path"`
	RemoteRetries    int      `yaml:"remote_retries"`

	FTP FTPConfig `yaml:"ftp"`
	S3  S3Config  `yaml:"s3"`

	// Extraction: "tika" posts to TikaURL, "docx" reads .docx files in
	// process and rejects everything else.
	Extractor string `yaml:"extractor"`
	TikaURL   string `yaml:"tika_url"`

	// Versioning
	HashAlgorithm           string `yaml:"hash_algorithm"`
	HashScope               string `yaml:"hash_scope"`
	CleanupOnExtractFailure bool   `yaml:"cleanup_on_extract_failure"`

	// Bearer token secret shared with the identity service. Empty trusts the
	// X-User-ID header instead.
	JWTSecret string `yaml:"jwt_secret"`

	// Uploads
	MaxUploadSize int64 `yaml:"max_upload_size"`

	// Orphan sweep (0 interval disables the periodic job)
	SweepInterval time.Duration `yaml:"sweep_interval"`
	SweepGrace    time.Duration `yaml:"sweep_grace"`
}

// FTPConfig holds the remote file service settings.
type FTPConfig struct {
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	BasePath string        `yaml:"base_path"`
	Timeout  time.Duration `yaml:"timeout"`
}

// S3Config holds object store settings.
type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"use_ssl"`
	Prefix    string `yaml:"prefix"`
}

// Load reads configuration from environment variables with defaults, then
// applies CONFIG_FILE if set.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:       envOr("LISTEN_ADDR", ":8080"),
		MetricsAddr:      envOr("METRICS_ADDR", ":9090"),
		LogLevel:         envOr("LOG_LEVEL", "info"),
		LogFormat:        envOr("LOG_FORMAT", "json"),
		DatabaseURL:      envOr("DATABASE_URL", ""),
		StorageOrder:     envList("STORAGE_ORDER", []string{"remote", "local"}),
		LocalStoragePath: envOr("LOCAL_STORAGE_PATH", "/data/contracts"),
		RemoteRetries:    envInt("REMOTE_RETRIES", 0),
		FTP: FTPConfig{
			Host:     envOr("FTP_HOST", ""),
			Port:     envInt("FTP_PORT", 21),
			Username: envOr("FTP_USERNAME", "anonymous"),
			Password: envOr("FTP_PASSWORD", ""),
			BasePath: envOr("FTP_BASE_PATH", "/contracts"),
			Timeout:  envDuration("FTP_TIMEOUT", 10*time.Second),
		},
		S3: S3Config{
			Endpoint:  envOr("S3_ENDPOINT", ""),
			Bucket:    envOr("S3_BUCKET", "contracts"),
			AccessKey: envOr("S3_ACCESS_KEY", "minioadmin"),
			SecretKey: envOr("S3_SECRET_KEY", "minioadmin"),
			Region:    envOr("S3_REGION", "us-east-1"),
			UseSSL:    envBool("S3_USE_SSL", false),
			Prefix:    envOr("S3_PREFIX", ""),
		},
		Extractor:               envOr("EXTRACTOR", "tika"),
		TikaURL:                 envOr("TIKA_URL", "http://localhost:9998"),
		HashAlgorithm:           envOr("HASH_ALGORITHM", "sha256"),
		HashScope:               envOr("HASH_SCOPE", HashScopeGlobal),
		CleanupOnExtractFailure: envBool("CLEANUP_ON_EXTRACT_FAILURE", true),
		JWTSecret:               envOr("JWT_SECRET", ""),
		MaxUploadSize:           envInt64("MAX_UPLOAD_SIZE", 50*1024*1024), // 50MB default
		SweepInterval:           envDuration("SWEEP_INTERVAL", 0),
		SweepGrace:              envDuration("SWEEP_GRACE", 24*time.Hour),
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyFile overlays values present in a YAML file. Keys absent from the
// file keep their environment/default values.
func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Validate checks option values that have a closed set of choices.
func (c *Config) Validate() error {
	switch c.HashScope {
	case HashScopeGlobal, HashScopeContract:
	default:
		return fmt.Errorf("HASH_SCOPE must be %q or %q, got %q", HashScopeGlobal, HashScopeContract, c.HashScope)
	}
	switch c.HashAlgorithm {
	case "md5", "sha256", "blake2b":
	default:
		return fmt.Errorf("unsupported HASH_ALGORITHM %q", c.HashAlgorithm)
	}
	switch c.Extractor {
	case "tika", "docx":
	default:
		return fmt.Errorf("EXTRACTOR must be \"tika\" or \"docx\", got %q", c.Extractor)
	}
	if len(c.StorageOrder) == 0 {
		return fmt.Errorf("STORAGE_ORDER must name at least one backend")
	}
	for _, name := range c.StorageOrder {
		switch name {
		case "remote", "local", "s3":
		default:
			return fmt.Errorf("unknown storage backend %q in STORAGE_ORDER", name)
		}
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
