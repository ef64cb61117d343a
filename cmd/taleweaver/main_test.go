package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionRemote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/games/get_current_version/", r.URL.Path)
		_, _ = w.Write([]byte(`{"version":"2.3"}`))
	}))
	defer srv.Close()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("TALEWEAVER_LOG_FILE", filepath.Join(dir, "tw.log"))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version", "--remote", "--base-url", srv.URL})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "taleweaver "+version)
	assert.Contains(t, out.String(), "story service 2.3")
}

func TestMigrateNeedsDSN(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("TALEWEAVER_LOG_FILE", filepath.Join(dir, "tw.log"))
	t.Setenv("DATABASE_URL", "")

	rootCmd.SetArgs([]string{"migrate", "up"})
	err := rootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no archive configured")
}

func TestTranscriptNeedsDSN(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("TALEWEAVER_LOG_FILE", filepath.Join(dir, "tw.log"))
	t.Setenv("DATABASE_URL", "")

	rootCmd.SetArgs([]string{"transcript", "abc"})
	err := rootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no archive configured")
}
