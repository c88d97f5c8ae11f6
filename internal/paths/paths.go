// Package paths resolves the configuration, data and record directory
// locations.
package paths

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// AppName names the per-user directories.
const AppName = "addrbook"

// ConfigFileName is the config file inside the configuration directory.
const ConfigFileName = "config.yaml"

// Environment variable names for directory overrides.
const (
	EnvConfigDir = "ADDRBOOK_CONFIG_DIR"
	EnvDataDir   = "ADDRBOOK_DATA_DIR"
	EnvVDir      = "ADDRBOOK_VDIR"
)

// ErrNoVDir is returned when no record directory is configured anywhere.
var ErrNoVDir = errors.New("no record directory configured (set vdir in config.yaml, ADDRBOOK_VDIR, or --vdir)")

// platformDir holds platform-detection functions that can be overridden in tests.
var platformDir = struct {
	homeDir       func() (string, error)
	userConfigDir func() (string, error)
}{
	homeDir:       os.UserHomeDir,
	userConfigDir: os.UserConfigDir,
}

// DefaultConfigDir returns the platform-specific default configuration directory.
//
// Linux:   $XDG_CONFIG_HOME/addrbook (fallback ~/.config/addrbook)
// macOS:   ~/Library/Application Support/addrbook
// Windows: %APPDATA%/addrbook
func DefaultConfigDir() (string, error) {
	if runtime.GOOS == "linux" {
		return xdgDir("XDG_CONFIG_HOME", ".config")
	}
	dir, err := platformDir.userConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, AppName), nil
}

// DefaultDataDir returns the platform-specific default data directory.
//
// Linux:   $XDG_DATA_HOME/addrbook (fallback ~/.local/share/addrbook)
// macOS:   ~/Library/Application Support/addrbook
// Windows: %APPDATA%/addrbook
func DefaultDataDir() (string, error) {
	if runtime.GOOS == "linux" {
		return xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
	}
	dir, err := platformDir.userConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, AppName), nil
}

func xdgDir(env, fallback string) (string, error) {
	if xdg := os.Getenv(env); xdg != "" {
		return filepath.Join(xdg, AppName), nil
	}
	home, err := platformDir.homeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, fallback, AppName), nil
}

// ResolveConfigDir returns the configuration directory following the precedence
// chain: flag > ADDRBOOK_CONFIG_DIR env > DefaultConfigDir().
func ResolveConfigDir(flag string) (string, error) {
	if flag != "" {
		return Abs(flag)
	}
	if env := os.Getenv(EnvConfigDir); env != "" {
		return Abs(env)
	}
	return DefaultConfigDir()
}

// ResolveDataDir returns the data directory following the precedence chain:
// flag > configYAMLValue > ADDRBOOK_DATA_DIR env > DefaultDataDir().
func ResolveDataDir(flag, configYAMLValue string) (string, error) {
	for _, v := range []string{flag, configYAMLValue, os.Getenv(EnvDataDir)} {
		if v != "" {
			return Abs(v)
		}
	}
	return DefaultDataDir()
}

// ResolveVDir returns the record directory: flag > configYAMLValue >
// ADDRBOOK_VDIR env. There is no default.
func ResolveVDir(flag, configYAMLValue string) (string, error) {
	for _, v := range []string{flag, configYAMLValue, os.Getenv(EnvVDir)} {
		if v != "" {
			return Abs(v)
		}
	}
	return "", ErrNoVDir
}

// Abs expands a leading "~" to the home directory and makes p absolute.
func Abs(p string) (string, error) {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := platformDir.homeDir()
		if err != nil {
			return "", err
		}
		p = filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	return filepath.Abs(p)
}
