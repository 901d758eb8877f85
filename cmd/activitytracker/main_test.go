package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/activitytracker/internal/config"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	cfg := config.Defaults()
	cfg.DataDir = dir
	require.NoError(t, config.Save(path, cfg))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(append([]string{"--config", path}, args...))
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
		reportKind = "program"
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestReportTodayEmpty(t *testing.T) {
	out, err := runCLI(t, "report", "today", "--kind", "video")
	require.NoError(t, err)
	assert.Equal(t, "No video time recorded today.\n", out)
}

func TestReportRejectsUnknownKind(t *testing.T) {
	_, err := runCLI(t, "report", "past24h", "--kind", "podcast")
	require.Error(t, err)
}

func TestStatusWithoutDaemon(t *testing.T) {
	out, err := runCLI(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "no running daemon")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}

func TestConfigGetAndList(t *testing.T) {
	_, err := runCLI(t, "config", "get", "tracking.pulse_width")
	require.NoError(t, err)

	out, err := runCLI(t, "config", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "bridge.listen")
	assert.Contains(t, out, "127.0.0.1:5600")
}
