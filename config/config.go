// Package config loads the proxy configuration from a TOML or YAML file
// with ARTIFACT_CACHE_ environment overrides.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/wolfeidau/artifact-cache/repository"
)

// EnvPrefix prefixes environment overrides, e.g. ARTIFACT_CACHE_SERVER_LISTEN.
const EnvPrefix = "ARTIFACT_CACHE"

// Config is the complete process configuration.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Log          LogConfig          `mapstructure:"log"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	Upstream     UpstreamConfig     `mapstructure:"upstream"`
	Repositories []RepositoryConfig `mapstructure:"repository"`
	Policies     []PolicyConfig     `mapstructure:"policy"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Listen            string        `mapstructure:"listen"`
	AuthToken         string        `mapstructure:"auth_token"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

// StorageConfig locates the cache, its index and deployed artifacts.
type StorageConfig struct {
	Path         string `mapstructure:"path"`
	DeployPath   string `mapstructure:"deploy_path"`
	DeployPrefix string `mapstructure:"deploy_prefix"`
	IndexPath    string `mapstructure:"index_path"`
}

// CachePath is the directory holding cached artifacts.
func (s StorageConfig) CachePath() string {
	return filepath.Join(s.Path, "cache")
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// MetricsConfig configures metric export.
type MetricsConfig struct {
	Prometheus    bool          `mapstructure:"prometheus"`
	OTLPEndpoint  string        `mapstructure:"otlp_endpoint"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// UpstreamConfig holds defaults for remote repository clients.
type UpstreamConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	RetryMax     int           `mapstructure:"retry_max"`
	RetryWaitMin time.Duration `mapstructure:"retry_wait_min"`
	RetryWaitMax time.Duration `mapstructure:"retry_wait_max"`
	Checksums    bool          `mapstructure:"checksums"`
}

// RepositoryConfig describes one repository. URL is an http(s) base URL
// for maven2 repositories and a directory for file repositories.
type RepositoryConfig struct {
	Name    string          `mapstructure:"name"`
	Type    repository.Type `mapstructure:"type"`
	URL     string          `mapstructure:"url"`
	Timeout time.Duration   `mapstructure:"timeout"`
}

// PolicyConfig names the repositories of a build policy, in fallback order.
type PolicyConfig struct {
	Name         string   `mapstructure:"name"`
	Repositories []string `mapstructure:"repositories"`
}

// FieldError reports an invalid configuration field.
type FieldError struct {
	Field  string
	Reason string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func newFieldError(field, reason string) error {
	return FieldError{Field: field, Reason: reason}
}

func indexedField(section, name, field string) string {
	return fmt.Sprintf("%s[%s].%s", section, name, field)
}
