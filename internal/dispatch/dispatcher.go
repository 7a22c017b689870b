package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/skillrun/internal/action"
	"github.com/mattjoyce/skillrun/internal/history"
	"github.com/mattjoyce/skillrun/internal/log"
	"github.com/mattjoyce/skillrun/internal/task"
)

// Environment variables set for the child process.
const (
	EnvAction   = "SKILLRUN_ACTION"
	EnvTaskFile = "SKILLRUN_TASK_FILE"
	EnvRunID    = "SKILLRUN_RUN_ID"
)

// SpawnError reports an action script that was found but could not be started.
type SpawnError struct {
	Action string
	Err    error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("start action %q: %v", e.Action, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// ExitCode is 127 when the program was not found, 126 otherwise.
func (e *SpawnError) ExitCode() int {
	if errors.Is(e.Err, exec.ErrNotFound) || errors.Is(e.Err, fs.ErrNotExist) {
		return ExitNotFound
	}
	return ExitCannotExecute
}

// Options configures a Dispatcher. Only Resolver is required.
type Options struct {
	Resolver *action.Resolver
	// Interpreter is prepended to the script path. Empty execs the script directly.
	Interpreter []string
	Stdout      io.Writer
	Stderr      io.Writer
	// Env is appended to the inherited environment.
	Env      []string
	Recorder RunRecorder
}

// Result describes one dispatch.
type Result struct {
	RunID     string
	Action    string
	Script    string
	ExitCode  int
	Outcome   Outcome
	StartedAt time.Time
	Duration  time.Duration
	// Err is set for unknown actions and spawn failures, not for actions that
	// ran and exited nonzero.
	Err error
}

// Dispatcher resolves and runs action scripts.
type Dispatcher struct {
	resolver    *action.Resolver
	interpreter []string
	stdout      io.Writer
	stderr      io.Writer
	env         []string
	recorder    RunRecorder
}

// New creates a new Dispatcher.
func New(opts Options) *Dispatcher {
	d := &Dispatcher{
		resolver:    opts.Resolver,
		interpreter: slices.Clone(opts.Interpreter),
		stdout:      opts.Stdout,
		stderr:      opts.Stderr,
		env:         slices.Clone(opts.Env),
		recorder:    opts.Recorder,
	}
	if d.stdout == nil {
		d.stdout = os.Stdout
	}
	if d.stderr == nil {
		d.stderr = os.Stderr
	}
	return d
}

// Dispatch runs the action named by t and blocks until it exits. t must have
// passed Validate. Exactly one child process is spawned when the action
// resolves; none otherwise.
func (d *Dispatcher) Dispatch(ctx context.Context, t *task.Task) Result {
	res := Result{
		RunID:     uuid.NewString(),
		Action:    t.Action(),
		StartedAt: time.Now(),
	}
	runLogger := log.WithRun(res.RunID).With("component", "dispatch", "action", res.Action)

	act, err := d.resolver.Resolve(res.Action)
	switch {
	case errors.Is(err, action.ErrUnknownAction):
		fmt.Fprintf(d.stderr, "Unknown action: %q\n", res.Action)
		runLogger.Error("unknown action", "actions_dir", d.resolver.Dir(), "error", err)
		res.ExitCode = ExitUnknownAction
		res.Outcome = OutcomeUnknownAction
		res.Err = err
	case err != nil:
		fmt.Fprintf(d.stderr, "Failed to resolve action %q: %v\n", res.Action, err)
		runLogger.Error("resolve action failed", "error", err)
		res.ExitCode = ExitCannotExecute
		res.Outcome = OutcomeSpawnFailed
		res.Err = err
	default:
		res.Script = act.Script
		d.run(t, act, &res, runLogger)
	}

	res.Duration = time.Since(res.StartedAt)
	d.record(ctx, t, res, runLogger)
	return res
}

// run spawns the script and fills in the exit status.
func (d *Dispatcher) run(t *task.Task, act *action.Action, res *Result, logger *slog.Logger) {
	argv := append(slices.Clone(d.interpreter), act.Script, string(t.Payload))

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = d.stdout
	cmd.Stderr = d.stderr
	cmd.Env = append(os.Environ(), d.env...)
	cmd.Env = append(cmd.Env,
		EnvAction+"="+act.Name,
		EnvTaskFile+"="+t.Path,
		EnvRunID+"="+res.RunID,
	)

	logger.Debug("spawning action", "script", act.Script, "interpreter", d.interpreter)

	// Register before Start so no signal slips through between spawn and wait.
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, append(slices.Clone(forwardedSignals), ignoredSignals...)...)
	defer signal.Stop(signals)

	if err := cmd.Start(); err != nil {
		spawnErr := &SpawnError{Action: act.Name, Err: err}
		fmt.Fprintf(d.stderr, "Failed to run action %q: %v\n", act.Name, err)
		logger.Error("action spawn failed", "script", act.Script, "error", err)
		res.ExitCode = spawnErr.ExitCode()
		res.Outcome = OutcomeSpawnFailed
		res.Err = spawnErr
		return
	}

	done := make(chan struct{})
	go d.relaySignals(cmd.Process, signals, done, logger)

	waitErr := cmd.Wait()
	close(done)

	if cmd.ProcessState == nil {
		logger.Error("wait for action failed", "error", waitErr)
		res.ExitCode = ExitCannotExecute
		res.Outcome = OutcomeSpawnFailed
		res.Err = &SpawnError{Action: act.Name, Err: waitErr}
		return
	}
	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		// Stream copy failures; the process itself has still exited.
		logger.Warn("wait for action", "error", waitErr)
	}

	code, signaled := exitStatus(cmd.ProcessState)
	res.ExitCode = code
	switch {
	case signaled:
		res.Outcome = OutcomeSignaled
		logger.Warn("action terminated by signal", "exit_code", code)
	case code != 0:
		res.Outcome = OutcomeFailed
		logger.Warn("action exited with non-zero status", "exit_code", code)
	default:
		res.Outcome = OutcomeSucceeded
		logger.Info("action completed successfully")
	}
}

func (d *Dispatcher) relaySignals(p *os.Process, signals <-chan os.Signal, done <-chan struct{}, logger *slog.Logger) {
	for {
		select {
		case <-done:
			return
		case sig := <-signals:
			if slices.Contains(ignoredSignals, sig) {
				logger.Debug("ignoring signal while action runs", "signal", sig.String())
				continue
			}
			logger.Info("forwarding signal to action", "signal", sig.String())
			if err := p.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
				logger.Error("failed to forward signal", "signal", sig.String(), "error", err)
			}
		}
	}
}

// record writes res to the recorder. Failures are logged; they never change
// the exit code.
func (d *Dispatcher) record(ctx context.Context, t *task.Task, res Result, logger *slog.Logger) {
	if d.recorder == nil {
		return
	}
	rec := history.Record{
		RunID:       res.RunID,
		Action:      res.Action,
		TaskPath:    t.Path,
		TaskDigest:  t.Digest(),
		Script:      res.Script,
		Outcome:     string(res.Outcome),
		ExitCode:    res.ExitCode,
		StartedAt:   res.StartedAt,
		CompletedAt: res.StartedAt.Add(res.Duration),
		Duration:    res.Duration,
	}
	if res.Err != nil {
		rec.Error = res.Err.Error()
	}
	if err := d.recorder.Record(ctx, rec); err != nil {
		logger.Warn("failed to record dispatch", "error", err)
	}
}
