// Package schema runs an external JSON Schema validator against a task file
// before it is dispatched.
package schema

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/mattjoyce/skillrun/internal/log"
	"github.com/mattjoyce/skillrun/internal/task"
)

// maxOutputBytes caps validator output kept for diagnostics.
const maxOutputBytes = 64 * 1024

// ErrSchemaMissing is returned when a validator is configured but the schema
// file does not exist.
var ErrSchemaMissing = errors.New("schema file not found")

// Validator invokes `Command... <SchemaPath> <task-path>`.
type Validator struct {
	Command    []string
	SchemaPath string
	logger     *slog.Logger
}

// New creates a Validator. An empty command disables validation.
func New(command []string, schemaPath string) *Validator {
	return &Validator{
		Command:    command,
		SchemaPath: schemaPath,
		logger:     log.WithComponent("schema"),
	}
}

// Enabled reports whether a validator command is configured.
func (v *Validator) Enabled() bool {
	return v != nil && len(v.Command) > 0
}

// Validate checks the task file at taskPath. It returns a *task.ValidationError
// when the validator rejects the task, ErrSchemaMissing when the schema file is
// absent, and a plain error when the validator cannot be run at all.
func (v *Validator) Validate(ctx context.Context, taskPath string) error {
	if !v.Enabled() {
		if v != nil && v.logger != nil {
			v.logger.Debug("schema validation skipped (no validator configured)")
		}
		return nil
	}

	if _, err := os.Stat(v.SchemaPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrSchemaMissing, v.SchemaPath)
		}
		return fmt.Errorf("stat schema %s: %w", v.SchemaPath, err)
	}

	args := append(append([]string{}, v.Command[1:]...), v.SchemaPath, taskPath)
	cmd := exec.CommandContext(ctx, v.Command[0], args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	v.logger.Debug("running schema validator", "command", v.Command[0], "schema", v.SchemaPath, "task", taskPath)

	err := cmd.Run()
	if err == nil {
		return nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		output := truncate(out.String())
		v.logger.Info("task rejected by schema validator", "exit_code", exitErr.ExitCode())
		return &task.ValidationError{
			Reason: fmt.Sprintf("rejected by schema %s", v.SchemaPath),
			Output: strings.TrimSpace(output),
		}
	}
	return fmt.Errorf("run schema validator %q: %w", v.Command[0], err)
}

func truncate(s string) string {
	if len(s) > maxOutputBytes {
		return s[:maxOutputBytes]
	}
	return s
}
