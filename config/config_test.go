package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/artifact-cache/repository"
	"github.com/wolfeidau/artifact-cache/repository/local"
	"github.com/wolfeidau/artifact-cache/repository/maven"
)

func writeTempConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const tomlConfig = `
[server]
listen = ":9090"
auth_token = "secret"

[storage]
path = "/var/lib/artifact-cache"

[upstream]
retry_max = 5
timeout = "45s"

[[repository]]
name = "central"
type = "maven2"
url = "https://repo.maven.apache.org/maven2"

[[repository]]
name = "internal"
type = "maven"
url = "https://maven.example.com/releases"
timeout = "10s"

[[repository]]
name = "m2"
type = "file"
url = "file:///tmp/m2"

[[policy]]
name = "release"
repositories = ["internal", "central"]

[[policy]]
name = "offline"
repositories = ["m2"]
`

func TestLoadTOML(t *testing.T) {
	cfg, err := Load(writeTempConfig(t, "config.toml", tomlConfig))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Listen)
	assert.Equal(t, "secret", cfg.Server.AuthToken)
	assert.Equal(t, 10*time.Second, cfg.Server.ReadHeaderTimeout)

	assert.Equal(t, "/var/lib/artifact-cache", cfg.Storage.Path)
	assert.Equal(t, "/var/lib/artifact-cache/cache", cfg.Storage.CachePath())
	assert.Equal(t, "/var/lib/artifact-cache/deploy", cfg.Storage.DeployPath)
	assert.Equal(t, "/var/lib/artifact-cache/index.db", cfg.Storage.IndexPath)

	assert.Equal(t, 5, cfg.Upstream.RetryMax)
	assert.Equal(t, 500*time.Millisecond, cfg.Upstream.RetryWaitMin)
	assert.True(t, cfg.Upstream.Checksums)

	require.Len(t, cfg.Repositories, 3)
	assert.Equal(t, repository.TypeMaven2, cfg.Repositories[0].Type)
	assert.Equal(t, 45*time.Second, cfg.Repositories[0].Timeout)
	assert.Equal(t, repository.TypeMaven2, cfg.Repositories[1].Type)
	assert.Equal(t, 10*time.Second, cfg.Repositories[1].Timeout)
	assert.Equal(t, repository.TypeFile, cfg.Repositories[2].Type)
	assert.Equal(t, "/tmp/m2", cfg.Repositories[2].URL)

	require.Len(t, cfg.Policies, 2)
	assert.Equal(t, []string{"internal", "central"}, cfg.Policies[0].Repositories)
}

func TestLoadYAML(t *testing.T) {
	content := `
log:
  level: DEBUG
  format: json
repository:
  - name: central
    url: https://repo.maven.apache.org/maven2
policy:
  - name: ci
    repositories: [central]
`
	cfg, err := Load(writeTempConfig(t, "config.yaml", content))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	require.Len(t, cfg.Repositories, 1)
	assert.Equal(t, repository.TypeMaven2, cfg.Repositories[0].Type)
	assert.Equal(t, "ci", cfg.Policies[0].Name)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Listen)
	assert.True(t, filepath.IsAbs(cfg.Storage.Path))
	assert.Equal(t, "info", cfg.Log.Level)
	assert.True(t, cfg.Metrics.Prometheus)

	require.Len(t, cfg.Repositories, 1)
	assert.Equal(t, DefaultRepository, cfg.Repositories[0].Name)
	assert.Equal(t, maven.DefaultRepositoryURL, cfg.Repositories[0].URL)
	require.Len(t, cfg.Policies, 1)
	assert.Equal(t, DefaultPolicy, cfg.Policies[0].Name)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("ARTIFACT_CACHE_SERVER_LISTEN", ":7070")
	t.Setenv("ARTIFACT_CACHE_LOG_LEVEL", "warn")
	t.Setenv("ARTIFACT_CACHE_UPSTREAM_RETRY_MAX", "1")

	cfg, err := Load(writeTempConfig(t, "config.toml", tomlConfig))
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Server.Listen)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 1, cfg.Upstream.RetryMax)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestLoadInvalidDuration(t *testing.T) {
	_, err := Load(writeTempConfig(t, "config.toml", `
[upstream]
timeout = "boom"
`))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		content string
		field   string
	}{
		{
			name: "unknown repository",
			content: `
[[repository]]
name = "central"
url = "https://repo.maven.apache.org/maven2"
[[policy]]
name = "release"
repositories = ["central", "missing"]
`,
			field: "policy[release].repositories",
		},
		{
			name: "duplicate repository",
			content: `
[[repository]]
name = "central"
url = "https://repo.maven.apache.org/maven2"
[[repository]]
name = "central"
url = "https://repo.maven.apache.org/maven2"
[[policy]]
name = "release"
repositories = ["central"]
`,
			field: "repository[central].name",
		},
		{
			name: "bad type",
			content: `
[[repository]]
name = "central"
type = "npm"
url = "https://registry.npmjs.org"
[[policy]]
name = "release"
repositories = ["central"]
`,
			field: "repository[central].type",
		},
		{
			name: "bad url",
			content: `
[[repository]]
name = "central"
url = "repo.maven.apache.org"
[[policy]]
name = "release"
repositories = ["central"]
`,
			field: "repository[central].url",
		},
		{
			name: "no policies",
			content: `
[[repository]]
name = "central"
url = "https://repo.maven.apache.org/maven2"
`,
			field: "policy",
		},
		{
			name: "policy name with slash",
			content: `
[[repository]]
name = "central"
url = "https://repo.maven.apache.org/maven2"
[[policy]]
name = "a/b"
repositories = ["central"]
`,
			field: "policy[a/b].name",
		},
		{
			name: "repository listed twice",
			content: `
[[repository]]
name = "central"
url = "https://repo.maven.apache.org/maven2"
[[policy]]
name = "release"
repositories = ["central", "central"]
`,
			field: "policy[release].repositories",
		},
		{
			name: "bad log level",
			content: `
[log]
level = "loud"
`,
			field: "log.level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeTempConfig(t, "config.toml", tt.content))
			require.Error(t, err)

			var fieldErr FieldError
			require.ErrorAs(t, err, &fieldErr)
			assert.Equal(t, tt.field, fieldErr.Field)
		})
	}
}

func TestBuildPolicies(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(writeTempConfig(t, "config.toml", `
[[repository]]
name = "central"
url = "https://repo.maven.apache.org/maven2"

[[repository]]
name = "m2"
type = "file"
url = "`+dir+`"

[[repository]]
name = "unused"
url = "https://unused.example.com/maven2"

[[policy]]
name = "release"
repositories = ["m2", "central"]
`))
	require.NoError(t, err)

	policies, err := cfg.BuildPolicies(slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	assert.Equal(t, []string{"release"}, policies.Names())

	bp, err := policies.Lookup("release")
	require.NoError(t, err)
	assert.Equal(t, []string{"m2", "central"}, bp.RepositoryNames())

	lc, ok := bp.Repositories[0].Client.(*local.Client)
	require.True(t, ok)
	assert.Equal(t, dir, lc.Root())

	remote, ok := bp.Repositories[1].Client.(*maven.Client)
	require.True(t, ok)
	assert.Equal(t, "central", remote.Name())
}
