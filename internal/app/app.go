package app

import (
	"os"
	"path/filepath"
)

const (
	homeEnv     = "WASOCK_HOME"
	homeDirName = ".wasock"
	configName  = "config.toml"
)

// DefaultHome returns $WASOCK_HOME, or ~/.wasock when it is unset.
func DefaultHome() string {
	if h := os.Getenv(homeEnv); h != "" {
		return h
	}
	if base, err := os.UserHomeDir(); err == nil {
		return filepath.Join(base, homeDirName)
	}
	return homeDirName
}

// DefaultConfigPath returns the config file location inside home.
func DefaultConfigPath(home string) string { return filepath.Join(home, configName) }

// EnsureHome creates the home directory with owner-only permissions.
func EnsureHome(home string) error { return os.MkdirAll(home, 0o700) }
