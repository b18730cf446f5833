package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "touchpadd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaultsOverUnsetFields(t *testing.T) {
	path := writeConfig(t, "seed: s3cret\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.EqualValues(t, 8521, cfg.DiscoverPort)
	assert.EqualValues(t, 8522, cfg.LoginPort)
	assert.EqualValues(t, 8523, cfg.BackendPort)
	assert.Equal(t, 1.0, cfg.Sensitivity)
	assert.Equal(t, 100, cfg.LatencyWindow)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, "seed: s3cret\ndiscover_port: 9001\nsensitivity: 2.5\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.EqualValues(t, 9001, cfg.DiscoverPort)
	assert.Equal(t, 2.5, cfg.Sensitivity)
}

func TestValidateRejectsMissingSeed(t *testing.T) {
	assert.Error(t, Defaults().Validate())
}

func TestValidateRejectsCollidingPorts(t *testing.T) {
	cfg := Defaults()
	cfg.Seed = "x"
	cfg.LoginPort = cfg.DiscoverPort
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsNonPositiveSensitivity(t *testing.T) {
	cfg := Defaults()
	cfg.Seed = "x"
	cfg.Sensitivity = 0
	assert.Error(t, cfg.Validate())
}
