package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 0.8, cfg.Policy.RejectThreshold)
	assert.Equal(t, 5*time.Minute, cfg.Stages.DefaultTimeout)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
home: ` + dir + `
logging:
  level: debug
  format: json
retry:
  max_attempts: 5
  initial_backoff: 1s
stages:
  default_timeout: 30s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.Home)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Retry.InitialBackoff)
	assert.Equal(t, 30*time.Second, cfg.Stages.DefaultTimeout)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("retry:\n  max_attempts: 5\n"), 0644))

	t.Setenv("STAGEHAND_RETRY_MAX_ATTEMPTS", "7")
	t.Setenv("STAGEHAND_POLICY_REJECT_THRESHOLD", "0.9")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Retry.MaxAttempts)
	assert.Equal(t, 0.9, cfg.Policy.RejectThreshold)
}

func TestLoad_ExplicitMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_RejectsInvalid(t *testing.T) {
	t.Setenv("STAGEHAND_RETRY_MAX_ATTEMPTS", "0")
	_, err := Load("")
	assert.Error(t, err)
}

func TestTransformEnvKey(t *testing.T) {
	assert.Equal(t, "home", transformEnvKey("STAGEHAND_HOME"))
	assert.Equal(t, "retry.max_attempts", transformEnvKey("STAGEHAND_RETRY_MAX_ATTEMPTS"))
	assert.Equal(t, "policy.reject_threshold", transformEnvKey("STAGEHAND_POLICY_REJECT_THRESHOLD"))
}

func TestPolicyPath(t *testing.T) {
	cfg := Default()
	cfg.Home = "/tmp/sh"
	assert.Equal(t, filepath.Join("/tmp/sh", "policy.yaml"), cfg.PolicyPath())

	cfg.Policy.Path = "/etc/stagehand/policy.yaml"
	assert.Equal(t, "/etc/stagehand/policy.yaml", cfg.PolicyPath())
}
