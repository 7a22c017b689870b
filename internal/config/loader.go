package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file, applies defaults, resolves
// relative paths against the file's directory, and validates the result.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML in %s: %w", absPath, err)
	}
	cfg.SourcePath = absPath
	cfg = applyConfigDefaults(cfg)
	cfg.resolvePaths(filepath.Dir(absPath))

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault loads configPath when set, otherwise the first discovered
// config file, otherwise the built-in defaults.
func LoadOrDefault(configPath string) (*Config, error) {
	if configPath == "" {
		discovered, err := DiscoverConfigFile()
		if err != nil {
			return nil, err
		}
		configPath = discovered
	}
	if configPath == "" {
		return Defaults(), nil
	}
	return Load(configPath)
}

// applyConfigDefaults fills zero values that YAML may have cleared.
func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()
	if cfg.ActionsDir == "" {
		cfg.ActionsDir = defaults.ActionsDir
	}
	if cfg.ScriptExt == "" {
		cfg.ScriptExt = defaults.ScriptExt
	}
	// nil means the key was absent; an explicit [] is kept.
	if cfg.Interpreter == nil {
		cfg.Interpreter = defaults.Interpreter
	}
	if cfg.Schema.Path == "" {
		cfg.Schema.Path = defaults.Schema.Path
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = defaults.Log.Format
	}
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	cfg.Log.Format = strings.ToLower(cfg.Log.Format)
	return cfg
}

// resolvePaths makes relative paths relative to baseDir.
func (c *Config) resolvePaths(baseDir string) {
	c.ActionsDir = resolveAgainst(baseDir, c.ActionsDir)
	c.Schema.Path = resolveAgainst(baseDir, c.Schema.Path)
	c.History.Path = resolveAgainst(baseDir, c.History.Path)
	c.Lock.Path = resolveAgainst(baseDir, c.Lock.Path)
}

func resolveAgainst(baseDir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir, p)
}

// interpolateEnv replaces ${VAR} with the environment value. Unset
// variables are left in place so validation can name them.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// Validate performs basic validation on the configuration.
func Validate(cfg *Config) error {
	if strings.TrimSpace(cfg.ActionsDir) == "" {
		return fmt.Errorf("actions_dir is required")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Log.Level] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error (got %q)", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("log.format must be json or text (got %q)", cfg.Log.Format)
	}

	if strings.ContainsAny(strings.TrimPrefix(cfg.ScriptExt, "."), `/\`) {
		return fmt.Errorf("script_ext must not contain path separators (got %q)", cfg.ScriptExt)
	}

	for i, arg := range cfg.Interpreter {
		if strings.TrimSpace(arg) == "" {
			return fmt.Errorf("interpreter[%d] is empty", i)
		}
	}
	for i, arg := range cfg.Schema.Validator {
		if strings.TrimSpace(arg) == "" {
			return fmt.Errorf("schema.validator[%d] is empty", i)
		}
	}

	for field, value := range map[string]string{
		"actions_dir":  cfg.ActionsDir,
		"schema.path":  cfg.Schema.Path,
		"history.path": cfg.History.Path,
		"lock.path":    cfg.Lock.Path,
	} {
		if m := envVarPattern.FindStringSubmatch(value); len(m) > 1 {
			return fmt.Errorf("%s: environment variable ${%s} is not set", field, m[1])
		}
	}
	return nil
}
