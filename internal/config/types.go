package config

// Config represents the complete skillrun configuration.
type Config struct {
	ActionsDir  string        `yaml:"actions_dir"`
	ScriptExt   string        `yaml:"script_ext"`
	Interpreter []string      `yaml:"interpreter"` // empty (but present) = exec scripts directly
	Schema      SchemaConfig  `yaml:"schema"`
	Log         LogConfig     `yaml:"log"`
	History     HistoryConfig `yaml:"history,omitempty"`
	Lock        LockConfig    `yaml:"lock,omitempty"`

	// SourcePath is the file the config was loaded from ("" for defaults).
	SourcePath string `yaml:"-"`
}

// SchemaConfig points at the task schema and the external validator that checks it.
type SchemaConfig struct {
	Path string `yaml:"path"`
	// Validator is an argv prefix; the schema path and task path are appended.
	Validator []string `yaml:"validator,omitempty"`
}

// LogConfig defines logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// HistoryConfig defines the optional SQLite run history.
type HistoryConfig struct {
	Path string `yaml:"path"`
}

// LockConfig defines the optional single-dispatch lock file.
type LockConfig struct {
	Path string `yaml:"path"`
}

// Defaults returns a Config with the conventional layout: actions/ and
// schemas/task.schema.json next to the working directory.
func Defaults() *Config {
	return &Config{
		ActionsDir:  "./actions",
		ScriptExt:   ".sh",
		Interpreter: []string{"bash"},
		Schema: SchemaConfig{
			Path: "./schemas/task.schema.json",
		},
		Log: LogConfig{
			Level:  "warn",
			Format: "json",
		},
	}
}
