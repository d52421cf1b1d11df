// Package pds holds process-wide defaults shared by the sandbox packages.
package pds

import (
	"os"
	"path/filepath"
)

const (
	DefaultAppName      = "pds"
	DefaultDatabaseType = "libsql"
	DefaultConfigPath   = "/etc/pds"
)

var (
	DefaultCacheDir    = filepath.Join(userHome(), ".cache", DefaultAppName)
	DefaultDatabaseDir = filepath.Join(userHome(), ".local", "share", DefaultAppName)
	DefaultDatabaseDSN = "file:" + filepath.Join(DefaultDatabaseDir, "pds.db")
)

func userHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
