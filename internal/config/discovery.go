package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnvConfig names the environment variable that points at a config file.
const EnvConfig = "SKILLRUN_CONFIG"

// DiscoverConfigFile finds a config file by checking standard locations.
// Priority order: $SKILLRUN_CONFIG, ./skillrun.yaml, ~/.config/skillrun/config.yaml.
// It returns "" with no error when nothing is found.
func DiscoverConfigFile() (string, error) {
	if p := os.Getenv(EnvConfig); p != "" {
		if !fileExists(p) {
			return "", fmt.Errorf("$%s points at %s, which does not exist", EnvConfig, p)
		}
		return p, nil
	}

	if fileExists("skillrun.yaml") {
		return "skillrun.yaml", nil
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		userConfig := filepath.Join(homeDir, ".config", "skillrun", "config.yaml")
		if fileExists(userConfig) {
			return userConfig, nil
		}
	}

	return "", nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
