package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/mattjoyce/skillrun/internal/action"
	"github.com/mattjoyce/skillrun/internal/config"
	"github.com/mattjoyce/skillrun/internal/dispatch"
	"github.com/mattjoyce/skillrun/internal/doctor"
	"github.com/mattjoyce/skillrun/internal/history"
	"github.com/mattjoyce/skillrun/internal/lock"
	"github.com/mattjoyce/skillrun/internal/log"
	"github.com/mattjoyce/skillrun/internal/schema"
	"github.com/mattjoyce/skillrun/internal/task"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

type cliFlags struct {
	configPath string
	actionsDir string
	schemaPath string
	logLevel   string
	dryRun     bool
	list       bool
	check      bool
	jsonOut    bool
	recent     int
	version    bool
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage(os.Stderr)
		return dispatch.ExitUsage
	}

	var f cliFlags
	fs := flag.NewFlagSet("skillrun", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	fs.Usage = func() { printUsage(os.Stderr) }
	fs.StringVar(&f.configPath, "config", "", "Path to configuration file")
	fs.StringVar(&f.actionsDir, "actions-dir", "", "Override actions_dir")
	fs.StringVar(&f.schemaPath, "schema", "", "Override schema.path")
	fs.StringVar(&f.logLevel, "log-level", "", "Override log.level (debug, info, warn, error)")
	fs.BoolVar(&f.dryRun, "dry-run", false, "Load, validate and resolve the task without running it")
	fs.BoolVar(&f.list, "list", false, "List available actions")
	fs.BoolVar(&f.check, "check", false, "Validate configuration and actions")
	fs.BoolVar(&f.jsonOut, "json", false, "JSON output for --check")
	fs.IntVar(&f.recent, "recent", 0, "Print the N most recent dispatches from run history")
	fs.BoolVar(&f.version, "version", false, "Show version information")

	if err := fs.Parse(cliArgs); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return dispatch.ExitOK
		}
		return dispatch.ExitUsage
	}

	if f.version {
		return runVersion()
	}

	cfg, err := loadConfig(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		return dispatch.ExitConfigError
	}
	log.Setup(log.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	log.WithComponent("cli").Debug("config loaded", "path", cfg.SourcePath, "actions_dir", cfg.ActionsDir)
	resolver := action.NewResolver(cfg.ActionsDir, cfg.ScriptExt)
	ctx := context.Background()

	switch {
	case f.check:
		return runCheck(cfg, resolver, f.jsonOut)
	case f.list:
		return runList(cfg, resolver)
	case f.recent > 0:
		return runRecent(ctx, cfg, f.recent)
	}

	if fs.NArg() != 1 {
		printUsage(os.Stderr)
		return dispatch.ExitUsage
	}
	return runTask(ctx, cfg, resolver, fs.Arg(0), f.dryRun)
}

func loadConfig(f cliFlags) (*config.Config, error) {
	cfg, err := config.LoadOrDefault(f.configPath)
	if err != nil {
		return nil, err
	}
	if f.actionsDir != "" {
		cfg.ActionsDir = f.actionsDir
	}
	if f.schemaPath != "" {
		cfg.Schema.Path = f.schemaPath
	}
	if f.logLevel != "" {
		cfg.Log.Level = strings.ToLower(f.logLevel)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// runTask is the load → validate → resolve → invoke → propagate path.
func runTask(ctx context.Context, cfg *config.Config, resolver *action.Resolver, taskPath string, dryRun bool) int {
	logger := log.WithComponent("cli")

	t, err := task.Load(taskPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load task: %v\n", err)
		logger.Error("load task failed", "path", taskPath, "error", err)
		return dispatch.ExitLoadError
	}

	if err := t.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid task %s: %v\n", taskPath, err)
		logger.Error("task validation failed", "path", taskPath, "error", err)
		return dispatch.ExitInvalidTask
	}
	logger = log.WithAction(t.Action()).With("component", "cli")

	if code, ok := checkSchema(ctx, cfg, taskPath, logger); !ok {
		return code
	}

	if dryRun {
		return runDryRun(cfg, resolver, t)
	}

	if cfg.Lock.Path != "" {
		l, err := lock.Acquire(cfg.Lock.Path)
		if err != nil {
			if errors.Is(err, lock.ErrLocked) {
				fmt.Fprintf(os.Stderr, "Another dispatch is running: %v\n", err)
				return dispatch.ExitBusy
			}
			fmt.Fprintf(os.Stderr, "Failed to acquire lock: %v\n", err)
			return dispatch.ExitConfigError
		}
		defer func() { _ = l.Release() }()
		logger.Debug("dispatch lock acquired", "path", l.Path())
	}

	var recorder dispatch.RunRecorder
	if cfg.History.Path != "" {
		store, err := history.Open(ctx, cfg.History.Path)
		if err != nil {
			logger.Warn("run history disabled", "path", cfg.History.Path, "error", err)
		} else {
			defer func() { _ = store.Close() }()
			recorder = store
		}
	}

	d := dispatch.New(dispatch.Options{
		Resolver:    resolver,
		Interpreter: cfg.Interpreter,
		Recorder:    recorder,
	})
	return d.Dispatch(ctx, t).ExitCode
}

// checkSchema runs the external validator. ok is false when dispatch must stop.
func checkSchema(ctx context.Context, cfg *config.Config, taskPath string, logger *slog.Logger) (code int, ok bool) {
	err := schema.New(cfg.Schema.Validator, cfg.Schema.Path).Validate(ctx, taskPath)
	if err == nil {
		return 0, true
	}

	var ve *task.ValidationError
	if errors.As(err, &ve) {
		fmt.Fprintf(os.Stderr, "Invalid task %s: %v\n", taskPath, err)
		if ve.Output != "" {
			fmt.Fprintln(os.Stderr, ve.Output)
		}
		logger.Error("schema validation failed", "path", taskPath, "schema", cfg.Schema.Path)
		return dispatch.ExitInvalidTask, false
	}

	fmt.Fprintf(os.Stderr, "Schema validation could not run: %v\n", err)
	logger.Error("schema validator error", "error", err)
	return dispatch.ExitConfigError, false
}

func runDryRun(cfg *config.Config, resolver *action.Resolver, t *task.Task) int {
	act, err := resolver.Resolve(t.Action())
	if err != nil {
		if errors.Is(err, action.ErrUnknownAction) {
			fmt.Fprintf(os.Stderr, "Unknown action: %q\n", t.Action())
			return dispatch.ExitUnknownAction
		}
		fmt.Fprintf(os.Stderr, "Failed to resolve action %q: %v\n", t.Action(), err)
		return dispatch.ExitCannotExecute
	}

	argv := append(append([]string{}, cfg.Interpreter...), act.Script)
	fmt.Printf("action:  %s\n", act.Name)
	fmt.Printf("script:  %s\n", act.Script)
	fmt.Printf("command: %s <task>\n", strings.Join(argv, " "))
	fmt.Printf("task:    %s\n", t.Payload)
	fmt.Printf("digest:  %s\n", t.Digest())
	return dispatch.ExitOK
}

func runList(cfg *config.Config, resolver *action.Resolver) int {
	actions, err := resolver.List()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list actions: %v\n", err)
		return dispatch.ExitConfigError
	}
	if len(actions) == 0 {
		fmt.Printf("No actions found in %s\n", resolver.Dir())
		return dispatch.ExitOK
	}
	for _, a := range actions {
		note := ""
		if len(cfg.Interpreter) == 0 && !a.Executable {
			note = " (not executable)"
		}
		fmt.Printf("%s\t%s%s\n", a.Name, a.Script, note)
	}
	return dispatch.ExitOK
}

func runCheck(cfg *config.Config, resolver *action.Resolver, jsonOut bool) int {
	result := doctor.New(cfg, resolver).Validate()

	if jsonOut {
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
			return dispatch.ExitConfigError
		}
		fmt.Println(out)
	} else {
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return dispatch.ExitConfigError
	}
	return dispatch.ExitOK
}

func runRecent(ctx context.Context, cfg *config.Config, limit int) int {
	if cfg.History.Path == "" {
		fmt.Fprintln(os.Stderr, "Run history is disabled (set history.path in the config)")
		return dispatch.ExitConfigError
	}

	store, err := history.Open(ctx, cfg.History.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open run history: %v\n", err)
		return dispatch.ExitConfigError
	}
	defer func() { _ = store.Close() }()

	records, err := store.Recent(ctx, limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read run history: %v\n", err)
		return dispatch.ExitConfigError
	}

	enc := json.NewEncoder(os.Stdout)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render record: %v\n", err)
			return dispatch.ExitConfigError
		}
	}
	return dispatch.ExitOK
}

func runVersion() int {
	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = readBuildSetting("vcs.revision")
	}
	if len(commit) > 12 {
		commit = commit[:12]
	}
	if commit == "" {
		commit = "unknown"
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = readBuildSetting("vcs.time")
	}
	if t, err := time.Parse(time.RFC3339Nano, built); err == nil {
		built = t.UTC().Format(time.RFC3339)
	} else {
		built = "unknown"
	}

	fmt.Printf("skillrun %s\n", version)
	fmt.Printf("commit: %s\n", commit)
	fmt.Printf("built_at: %s\n", built)
	return dispatch.ExitOK
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `skillrun - dispatch a task file to its action script

Usage:
  skillrun [flags] <path-to-task-file>

The task's "action" field selects <actions_dir>/<action><script_ext>, which is
run with the task JSON as its single argument. skillrun exits with the
action's exit code.

Flags:
  --config PATH       Configuration file (default: $SKILLRUN_CONFIG, ./skillrun.yaml,
                      ~/.config/skillrun/config.yaml, else built-in defaults)
  --actions-dir DIR   Override actions_dir
  --schema PATH       Override schema.path
  --log-level LEVEL   Override log.level (debug, info, warn, error)
  --dry-run           Load, validate and resolve the task; print the command; do not run
  --list              List available actions
  --check [--json]    Validate configuration and actions
  --recent N          Print the N most recent dispatches from run history
  --version           Show version information

Exit codes:
  1    usage error
  2    unknown action
  3    task file missing or unparsable
  4    invalid task
  5    configuration error
  6    another dispatch holds the lock
  126  action could not be executed
  127  action or interpreter not found
  *    the action's own exit code (128+N when killed by signal N)
`)
}
