package util

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadLayers(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
base_url = "http://story.test"
theme = "dracula"
submit_interval = "3s"
dev = true
`), 0o600))
	t.Setenv("TALEWEAVER_THEME", "gruvbox")
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost/tw")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://story.test", cfg.BaseURL)
	assert.Equal(t, "gruvbox", cfg.Theme, "environment wins over the file")
	assert.Equal(t, 3*time.Second, cfg.SubmitInterval)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout, "defaults survive")
	assert.True(t, cfg.Dev)
	assert.Equal(t, "postgres://u:p@localhost/tw", cfg.DSN)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "cfg"))
	t.Setenv("TALEWEAVER_BASE_URL", "")
	require.NoError(t, os.Unsetenv("TALEWEAVER_BASE_URL"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("TALEWEAVER_BASE_URL=http://from-dotenv\n"), 0o600))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "http://from-dotenv", cfg.BaseURL)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	cfg.SubmitInterval = -time.Second
	assert.Error(t, cfg.Validate())
	cfg = Default()
	cfg.BaseURL = ""
	assert.Error(t, cfg.Validate())
}

// chdir mirrors testing.T.Chdir (Go 1.24+) for older toolchains: it switches
// the working directory and restores it when the test finishes.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Setenv("PWD", dir)
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatalf("restore working directory: %v", err)
		}
	})
}
