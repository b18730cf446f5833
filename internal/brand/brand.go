// Package brand provides the small set of branding constants touchpadd
// needs: binary name, default config path, and the per-OS data directory
// used to persist a generated certificate.
package brand

import (
	_ "embed"
	"encoding/json"
	"os"
	"path/filepath"
)

//go:embed brand.json
var brandJSON []byte

// Brand holds branding information.
type Brand struct {
	Name             string `json:"name"`
	LowerName        string `json:"lowerName"`
	Description      string `json:"description"`
	ConfigEnvPrefix  string `json:"configEnvPrefix"`
	DefaultConfigDir string `json:"defaultConfigDir"`
	DefaultDataDir   string `json:"defaultDataDir"`
	ConfigFileName   string `json:"configFileName"`
}

var b Brand

func init() {
	if err := json.Unmarshal(brandJSON, &b); err != nil {
		panic("failed to parse brand.json: " + err.Error())
	}

	Name = b.Name
	LowerName = b.LowerName
	Description = b.Description
	ConfigEnvPrefix = b.ConfigEnvPrefix
	DefaultConfigDir = b.DefaultConfigDir
	DefaultDataDir = b.DefaultDataDir
	ConfigFileName = b.ConfigFileName
}

var (
	Name             string
	LowerName        string
	Description      string
	ConfigEnvPrefix  string
	DefaultConfigDir string
	DefaultDataDir   string
	ConfigFileName   string

	// Version is set at build time via -ldflags.
	Version = "dev"
)

// Get returns the full Brand struct.
func Get() Brand {
	return b
}

// GetDataDir returns the directory used for persisted self-signed
// certificates, checking an environment override first.
// Priority: TOUCHPADD_DATA_DIR > DefaultDataDir.
func GetDataDir() string {
	if dir := os.Getenv(ConfigEnvPrefix + "_DATA_DIR"); dir != "" {
		return dir
	}
	return DefaultDataDir
}

// DefaultConfigPath returns DefaultConfigDir joined with ConfigFileName.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir, ConfigFileName)
}
