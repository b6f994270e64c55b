// Package thirra holds application-wide defaults shared by the config, db and CLI packages.
package thirra

import (
	"os"
	"path/filepath"
)

const (
	DefaultAppName      = "thirra"
	DefaultDatabaseType = "libsql"
	DefaultDatabaseFile = "thirra.db"
)

var (
	// DefaultConfigPath is where LoadConfig looks after the working directory.
	DefaultConfigPath = filepath.Join(userConfigDir(), DefaultAppName)
	// DefaultDatabaseDir holds the embedded libsql database.
	DefaultDatabaseDir = filepath.Join(userDataDir(), DefaultAppName)
	// DefaultDatabaseDSN is the turn store path used when none is configured.
	DefaultDatabaseDSN = filepath.Join(DefaultDatabaseDir, DefaultDatabaseFile)
)

func userConfigDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return dir
	}
	return "."
}

func userDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return dir
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share")
	}
	return "."
}
