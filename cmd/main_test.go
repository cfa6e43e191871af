package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_FlagsOverrideEnvironment(t *testing.T) {
	workDir := t.TempDir()
	t.Setenv("DAEMON_PORT", "9100")
	t.Setenv("DAEMON_HOST", "10.0.0.1")

	cmd := newRootCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--port", "9200", "--work-dir", workDir}))

	cfg, err := loadConfig(cmd, flagsOf(t, cmd))
	require.NoError(t, err)

	assert.Equal(t, "9200", cfg.Server.Port)
	assert.Equal(t, "10.0.0.1", cfg.Server.Host)
	assert.Equal(t, workDir, cfg.Firecracker.WorkDir)
	assert.Equal(t, filepath.Join(workDir, "daemon-actions.db"), cfg.Database.Path)
	assert.Contains(t, cfg.Logs.Dirs, filepath.Join(workDir, "logs"))
}

func TestLoadConfig_FileThenFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fcvmd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: \"7000\"\nfirecracker:\n  script: /bin/true\n"), 0o644))

	cmd := newRootCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--config", path, "--script", "/usr/bin/env"}))

	cfg, err := loadConfig(cmd, flagsOf(t, cmd))
	require.NoError(t, err)

	assert.Equal(t, "7000", cfg.Server.Port)
	assert.Equal(t, "/usr/bin/env", cfg.Firecracker.Script)
}

func TestLoadConfig_InvalidPort(t *testing.T) {
	cmd := newRootCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--port", "0"}))

	_, err := loadConfig(cmd, flagsOf(t, cmd))
	assert.Error(t, err)
}

func TestRun_MissingExecutableIsFatal(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{
		"--work-dir", t.TempDir(),
		"--script", filepath.Join(t.TempDir(), "missing.sh"),
		"--port", "18090",
	})
	t.Setenv("DAEMON_DB_PATH", "")

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

// flagsOf rebuilds the flag values bound to cmd.
func flagsOf(t *testing.T, cmd *cobra.Command) *flags {
	t.Helper()
	f := &flags{}
	var err error
	f.configPath, err = cmd.Flags().GetString("config")
	require.NoError(t, err)
	f.host, _ = cmd.Flags().GetString("host")
	f.port, _ = cmd.Flags().GetString("port")
	f.workDir, _ = cmd.Flags().GetString("work-dir")
	f.script, _ = cmd.Flags().GetString("script")
	return f
}
