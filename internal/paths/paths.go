// Package paths resolves where easel keeps its configuration and its
// database.
package paths

import (
	"os"
	"path/filepath"
	"runtime"
)

const appName = "easel"

// ConfigFileName is the viper config file inside the config directory.
const ConfigFileName = "config.yaml"

// DefaultDataDirName is the working-directory-relative data directory used
// when nothing else names one.
const DefaultDataDirName = ".easel-db"

// Environment overrides.
const (
	EnvConfigDir = "EASEL_CONFIG_DIR"
	EnvDataDir   = "EASEL_DATA_DIR"
)

// platformDir is swapped in tests.
var platformDir = struct {
	homeDir       func() (string, error)
	userConfigDir func() (string, error)
}{
	homeDir:       os.UserHomeDir,
	userConfigDir: os.UserConfigDir,
}

// DefaultConfigDir returns the per-user configuration directory:
// $XDG_CONFIG_HOME/easel or ~/.config/easel on Linux, os.UserConfigDir
// elsewhere.
func DefaultConfigDir() (string, error) {
	return platformPath("XDG_CONFIG_HOME", ".config")
}

// DefaultDataDir returns the per-user data directory: $XDG_DATA_HOME/easel
// or ~/.local/share/easel on Linux, os.UserConfigDir elsewhere.
func DefaultDataDir() (string, error) {
	return platformPath("XDG_DATA_HOME", filepath.Join(".local", "share"))
}

func platformPath(xdgVar, homeRel string) (string, error) {
	if runtime.GOOS != "linux" {
		dir, err := platformDir.userConfigDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(dir, appName), nil
	}
	if xdg := os.Getenv(xdgVar); xdg != "" {
		return filepath.Join(xdg, appName), nil
	}
	home, err := platformDir.homeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, homeRel, appName), nil
}

// ResolveConfigDir picks the config directory: flag, then EASEL_CONFIG_DIR,
// then DefaultConfigDir. Results are absolute.
func ResolveConfigDir(flag string) (string, error) {
	if flag != "" {
		return filepath.Abs(flag)
	}
	if env := os.Getenv(EnvConfigDir); env != "" {
		return filepath.Abs(env)
	}
	return DefaultConfigDir()
}

// ResolveDataDir picks the data directory: flag, then the config file
// value, then EASEL_DATA_DIR, then ./.easel-db. Results are absolute.
func ResolveDataDir(flag, configValue string) (string, error) {
	for _, dir := range []string{flag, configValue, os.Getenv(EnvDataDir)} {
		if dir != "" {
			return filepath.Abs(dir)
		}
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(cwd, DefaultDataDirName), nil
}

// ConfigFile returns the config file path inside dir.
func ConfigFile(dir string) string {
	return filepath.Join(dir, ConfigFileName)
}
