package brand

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGet(t *testing.T) {
	b := Get()
	if b.Name == "" {
		t.Error("Brand name should not be empty")
	}
	if Version == "" {
		t.Error("Global Version should be initialized (to dev default)")
	}
	if Name == "" {
		t.Error("Global Name should be initialized")
	}
}

func TestGetDataDir(t *testing.T) {
	envVar := ConfigEnvPrefix + "_DATA_DIR"
	os.Unsetenv(envVar)
	defer os.Unsetenv(envVar)

	if GetDataDir() != DefaultDataDir {
		t.Errorf("expected default data dir %s, got %s", DefaultDataDir, GetDataDir())
	}

	os.Setenv(envVar, "/custom/data")
	if GetDataDir() != "/custom/data" {
		t.Errorf("expected env override, got %s", GetDataDir())
	}
}

func TestDefaultConfigPath(t *testing.T) {
	want := filepath.Join(DefaultConfigDir, ConfigFileName)
	if got := DefaultConfigPath(); got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}
