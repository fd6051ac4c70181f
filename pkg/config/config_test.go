package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEnvDefaults(t *testing.T) {
	for _, k := range []string{
		"VIBETUNNEL_CONTROL_DIR", "VIBETUNNEL_USERNAME", "VIBETUNNEL_PASSWORD",
		"VIBETUNNEL_DEBUG", "VIBETUNNEL_DISABLE_PUSH_NOTIFICATIONS", "VIBETUNNEL_PORT",
	} {
		t.Setenv(k, "")
	}
	env := LoadEnv()
	assert.False(t, env.Debug)
	assert.False(t, env.DisablePushNotifications)
	assert.NotEmpty(t, env.ControlDir)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("VIBETUNNEL_CONTROL_DIR", "/tmp/custom-vt")
	t.Setenv("VIBETUNNEL_USERNAME", "alice")
	t.Setenv("VIBETUNNEL_DEBUG", "1")

	env := LoadEnv()
	assert.Equal(t, "/tmp/custom-vt", env.ControlDir)
	assert.Equal(t, "alice", env.Username)
	assert.True(t, env.Debug)
}

func TestLoadAppConfigDefaultsWhenAbsent(t *testing.T) {
	cfg, err := LoadAppConfig(t.TempDir())
	require.NoError(t, err)
	assert.True(t, cfg.NotificationsEnabled)
	assert.Empty(t, cfg.QuickStart)
}

func TestSaveAndLoadAppConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := &AppConfig{
		QuickStart:           []QuickStartEntry{{Name: "claude", Command: []string{"claude"}}},
		NotificationsEnabled: false,
		RepoBasePath:         "/repos",
	}
	require.NoError(t, SaveAppConfig(dir, cfg))

	got, err := LoadAppConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, cfg.QuickStart, got.QuickStart)
	assert.Equal(t, cfg.RepoBasePath, got.RepoBasePath)
	assert.False(t, got.NotificationsEnabled)
}

func TestLoadOperatorDefaultsWhenAbsent(t *testing.T) {
	op, err := LoadOperator(t.TempDir())
	require.NoError(t, err)
	assert.True(t, op.AllowLocalBypass)
}

func TestLoadOperatorParsesYAML(t *testing.T) {
	dir := t.TempDir()
	yamlBody := "logLevel: debug\nallowTailscaleAuth: true\nhqBearerToken: secret\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yamlBody), 0o644))

	op, err := LoadOperator(dir)
	require.NoError(t, err)
	assert.Equal(t, "debug", op.LogLevel)
	assert.True(t, op.AllowTailscaleAuth)
	assert.Equal(t, "secret", op.HQBearerToken)
}

func TestWatchOperatorFiresOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logLevel: info\n"), 0o644))

	changes := make(chan *Operator, 4)
	w, err := WatchOperator(dir, func(op *Operator) { changes <- op })
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("logLevel: debug\n"), 0o644))

	select {
	case op := <-changes:
		assert.Equal(t, "debug", op.LogLevel)
	case <-time.After(3 * time.Second):
		t.Fatal("did not observe config.yaml reload")
	}
}
