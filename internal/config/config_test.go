package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("BUDGETTRACKER_CONFIG", "")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 20, cfg.Query.DefaultPageSize)
	require.Equal(t, 500, cfg.Query.MaxPageSize)
	require.Equal(t, "heuristic", cfg.Annotation.Provider)
	require.Equal(t, 10, cfg.Annotation.BatchSize)
	require.Equal(t, 30*time.Second, cfg.Annotation.CallTimeout)
	require.False(t, cfg.Analytics.SampleStdDev)
	require.Equal(t, time.UTC, cfg.Location())
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	path := filepath.Join(home, "cfg.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[database]
path = "/tmp/ledger.db"

[query]
default_page_size = 5

[annotation]
provider = "openai"
call_timeout = "3s"
`), 0o600))
	t.Setenv("BUDGETTRACKER_ANNOTATION_CONCURRENCY", "9")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/tmp/ledger.db", cfg.Database.Path)
	require.Equal(t, 5, cfg.Query.DefaultPageSize)
	require.Equal(t, "openai", cfg.Annotation.Provider)
	require.Equal(t, 3*time.Second, cfg.Annotation.CallTimeout)
	require.Equal(t, 9, cfg.Annotation.Concurrency)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("BUDGETTRACKER_CONFIG", "")
	cfg, err := Load("")
	require.NoError(t, err)

	bad := cfg
	bad.Query.MaxPageSize = 1
	require.Error(t, bad.Validate())

	bad = cfg
	bad.Annotation.Concurrency = 0
	require.Error(t, bad.Validate())

	bad = cfg
	bad.Ingest.Timezone = "Mars/Olympus"
	require.Error(t, bad.Validate())
}

func TestSaveRoundTrip(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("BUDGETTRACKER_CONFIG", "")
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Annotation.Provider = "gemini"
	cfg.Annotation.APIKey = "secret"
	cfg.Query.DefaultPageSize = 7

	path := filepath.Join(home, "out", "config.toml")
	require.NoError(t, Save(path, cfg))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotContains(t, string(raw), "secret")

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "gemini", loaded.Annotation.Provider)
	require.Equal(t, 7, loaded.Query.DefaultPageSize)
}

func TestResolveAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "from-env")
	cfg := Config{Annotation: AnnotationConfig{Provider: "openai", APIKey: "from-config"}}
	require.Equal(t, "from-env", cfg.ResolveAPIKey(nil))

	t.Setenv("OPENAI_API_KEY", "")
	require.Equal(t, "from-config", cfg.ResolveAPIKey(nil))

	stored := func(provider string) (string, error) {
		require.Equal(t, "openai", provider)
		return "from-store", nil
	}
	require.Equal(t, "from-store", cfg.ResolveAPIKey(stored))

	missing := func(string) (string, error) { return "", errors.New("key not found") }
	require.Equal(t, "from-config", cfg.ResolveAPIKey(missing))

	t.Setenv("CUSTOM_KEY", "custom")
	cfg.Annotation.APIKeyEnv = "CUSTOM_KEY"
	require.Equal(t, "custom", cfg.ResolveAPIKey(stored))
}
