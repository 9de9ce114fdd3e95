package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/wolfeidau/artifact-cache/repository"
	"github.com/wolfeidau/artifact-cache/repository/maven"
)

// Default names used when no repositories are configured.
const (
	DefaultRepository = "central"
	DefaultPolicy     = "default"
)

// Load reads the configuration at path. An empty path loads defaults and
// environment overrides only. The file type follows its extension.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook())); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := absPaths(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.auth_token", "")
	v.SetDefault("server.read_header_timeout", "10s")
	v.SetDefault("server.request_timeout", "5m")
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("storage.path", "./data")
	v.SetDefault("storage.deploy_path", "")
	v.SetDefault("storage.deploy_prefix", "")
	v.SetDefault("storage.index_path", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 10)
	v.SetDefault("log.max_age_days", 0)
	v.SetDefault("log.compress", true)

	v.SetDefault("metrics.prometheus", true)
	v.SetDefault("metrics.otlp_endpoint", "")
	v.SetDefault("metrics.flush_interval", "10s")

	v.SetDefault("upstream.timeout", maven.DefaultTimeout.String())
	v.SetDefault("upstream.retry_max", 3)
	v.SetDefault("upstream.retry_wait_min", "500ms")
	v.SetDefault("upstream.retry_wait_max", "5s")
	v.SetDefault("upstream.checksums", true)
}

func applyDefaults(cfg *Config) {
	if len(cfg.Repositories) == 0 && len(cfg.Policies) == 0 {
		cfg.Repositories = []RepositoryConfig{{
			Name: DefaultRepository,
			Type: repository.TypeMaven2,
			URL:  maven.DefaultRepositoryURL,
		}}
		cfg.Policies = []PolicyConfig{{
			Name:         DefaultPolicy,
			Repositories: []string{DefaultRepository},
		}}
	}

	for i := range cfg.Repositories {
		r := &cfg.Repositories[i]
		r.Name = strings.TrimSpace(r.Name)
		if r.Type == "" {
			r.Type = repository.TypeMaven2
		}
		if r.Timeout == 0 {
			r.Timeout = cfg.Upstream.Timeout
		}
		if r.Type == repository.TypeFile {
			r.URL = strings.TrimPrefix(r.URL, "file://")
		}
	}

	if cfg.Storage.DeployPath == "" {
		cfg.Storage.DeployPath = filepath.Join(cfg.Storage.Path, "deploy")
	}
	if cfg.Storage.IndexPath == "" {
		cfg.Storage.IndexPath = filepath.Join(cfg.Storage.Path, "index.db")
	}
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	cfg.Log.Format = strings.ToLower(cfg.Log.Format)
}

func absPaths(cfg *Config) error {
	for _, p := range []*string{&cfg.Storage.Path, &cfg.Storage.DeployPath, &cfg.Storage.IndexPath} {
		abs, err := filepath.Abs(*p)
		if err != nil {
			return fmt.Errorf("resolving %s: %w", *p, err)
		}
		*p = abs
	}
	for i := range cfg.Repositories {
		r := &cfg.Repositories[i]
		if r.Type != repository.TypeFile {
			continue
		}
		abs, err := filepath.Abs(r.URL)
		if err != nil {
			return fmt.Errorf("resolving %s: %w", r.URL, err)
		}
		r.URL = abs
	}
	return nil
}

func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		repositoryTypeHook(),
	)
}

// repositoryTypeHook normalises repository types, accepting "maven" as an
// alias of "maven2".
func repositoryTypeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(repository.Type(""))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType || from.Kind() != reflect.String {
			return data, nil
		}
		s := strings.ToLower(strings.TrimSpace(reflect.ValueOf(data).String()))
		if s == "maven" {
			s = string(repository.TypeMaven2)
		}
		return repository.Type(s), nil
	}
}

// durationOr returns d, or fallback when d is not positive.
func durationOr(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
