package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	os.Unsetenv("CUA_MODEL_NAME")
	os.Unsetenv("CUA_CONTAINER_NAME")
	os.Unsetenv("CUA_API_KEY")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "anthropic/claude-3-5-sonnet-20241022", cfg.ModelName)
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 5, cfg.PoolSize)
}

func TestLoadReadsEnvOverrides(t *testing.T) {
	t.Setenv("CUA_MODEL_NAME", "openai/gpt-4o")
	t.Setenv("CUA_CONTAINER_NAME", "sandbox-1")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "openai/gpt-4o", cfg.ModelName)
	assert.Equal(t, "sandbox-1", cfg.ContainerName)
}

func TestProviderKeysFromEnvPicksUpSuffixedVars(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-openai")
	t.Setenv("ANTHROPIC_API_KEY", "sk-anthropic")
	t.Setenv("CUA_API_KEY", "sk-cua")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sk-openai", cfg.ProviderKeys["openai"])
	assert.Equal(t, "sk-anthropic", cfg.ProviderKeys["anthropic"])
	_, hasCUA := cfg.ProviderKeys["cua"]
	assert.False(t, hasCUA)
}

func TestEnvSnapshotOverridesWinOverProviderKeys(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-process")
	cfg, err := Load()
	require.NoError(t, err)

	snap := NewEnvSnapshot(cfg, map[string]string{"OPENAI_API_KEY": "sk-request"})
	v, ok := snap.Lookup("OPENAI_API_KEY")
	require.True(t, ok)
	assert.Equal(t, "sk-request", v)
}

func TestEnvSnapshotFallsBackToProcessEnv(t *testing.T) {
	cfg := &Config{ProviderKeys: map[string]string{}}
	snap := NewEnvSnapshot(cfg, nil)

	t.Setenv("SOME_OTHER_VAR", "value")
	v, ok := snap.Lookup("SOME_OTHER_VAR")
	require.True(t, ok)
	assert.Equal(t, "value", v)
}
