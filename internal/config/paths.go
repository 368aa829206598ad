package config

import (
	"os"
	"path/filepath"
)

const (
	// EnvConfigPath is the environment variable for explicit config path
	EnvConfigPath = "NETFUSE_CONFIG"
	// ConfigFileName is the default config file name
	ConfigFileName = "netfuse.yml"
	// ConfigDirName is the config directory name under XDG
	ConfigDirName = "netfuse"
)

// FindConfigPath searches for the config file in priority order:
// 1. $NETFUSE_CONFIG (explicit path)
// 2. ./netfuse.yml (working directory)
// 3. $XDG_CONFIG_HOME/netfuse/netfuse.yml
// 4. ~/.config/netfuse/netfuse.yml
// 5. /etc/netfuse/netfuse.yml
//
// Returns empty string if no config file found
func FindConfigPath() string {
	if path := os.Getenv(EnvConfigPath); path != "" {
		if fileExists(path) {
			return path
		}
	}

	if fileExists(ConfigFileName) {
		if abs, err := filepath.Abs(ConfigFileName); err == nil {
			return abs
		}
		return ConfigFileName
	}

	if xdgHome := os.Getenv("XDG_CONFIG_HOME"); xdgHome != "" {
		path := filepath.Join(xdgHome, ConfigDirName, ConfigFileName)
		if fileExists(path) {
			return path
		}
	}

	if home := os.Getenv("HOME"); home != "" {
		path := filepath.Join(home, ".config", ConfigDirName, ConfigFileName)
		if fileExists(path) {
			return path
		}
	}

	systemPath := filepath.Join("/etc", ConfigDirName, ConfigFileName)
	if fileExists(systemPath) {
		return systemPath
	}

	return ""
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
