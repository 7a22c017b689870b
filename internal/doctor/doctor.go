// Package doctor validates skillrun configuration and the actions directory.
package doctor

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"strings"

	"github.com/mattjoyce/skillrun/internal/action"
	"github.com/mattjoyce/skillrun/internal/config"
	"github.com/mattjoyce/skillrun/internal/storage"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool     `json:"valid"`
	Actions  []string `json:"actions,omitempty"`
	Errors   []Issue  `json:"errors,omitempty"`
	Warnings []Issue  `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor checks that a config can actually dispatch tasks.
type Doctor struct {
	cfg      *config.Config
	resolver *action.Resolver
	lookPath func(string) (string, error)
}

// New creates a Doctor from a loaded config and the resolver built from it.
func New(cfg *config.Config, resolver *action.Resolver) *Doctor {
	return &Doctor{cfg: cfg, resolver: resolver, lookPath: exec.LookPath}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateActions(r)
	d.validateInterpreter(r)
	d.validateSchema(r)
	d.validateHistory(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) validateActions(r *Result) {
	info, err := os.Stat(d.cfg.ActionsDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			d.addError(r, "actions", "actions_dir", fmt.Sprintf("actions directory %s does not exist", d.cfg.ActionsDir))
		} else {
			d.addError(r, "actions", "actions_dir", fmt.Sprintf("cannot access actions directory: %v", err))
		}
		return
	}
	if !info.IsDir() {
		d.addError(r, "actions", "actions_dir", fmt.Sprintf("%s is not a directory", d.cfg.ActionsDir))
		return
	}

	actions, err := d.resolver.List()
	if err != nil {
		d.addError(r, "actions", "actions_dir", err.Error())
		return
	}
	if len(actions) == 0 {
		d.addWarning(r, "actions", "actions_dir",
			fmt.Sprintf("no *%s scripts found; every task will fail as an unknown action", d.resolver.Ext()))
	}

	for _, a := range actions {
		r.Actions = append(r.Actions, a.Name)
		if len(d.cfg.Interpreter) == 0 && !a.Executable {
			d.addWarning(r, "actions", a.Name,
				fmt.Sprintf("%s is not executable and no interpreter is configured", a.Script))
		}
	}
}

func (d *Doctor) validateInterpreter(r *Result) {
	if len(d.cfg.Interpreter) == 0 {
		return
	}
	if _, err := d.lookPath(d.cfg.Interpreter[0]); err != nil {
		d.addError(r, "interpreter", "interpreter",
			fmt.Sprintf("interpreter %q not found: %v", d.cfg.Interpreter[0], err))
	}
}

func (d *Doctor) validateSchema(r *Result) {
	_, statErr := os.Stat(d.cfg.Schema.Path)
	schemaExists := statErr == nil

	if len(d.cfg.Schema.Validator) == 0 {
		if schemaExists {
			d.addWarning(r, "schema", "schema.validator",
				fmt.Sprintf("schema %s exists but no validator is configured; only the action field is checked", d.cfg.Schema.Path))
		}
		return
	}

	if _, err := d.lookPath(d.cfg.Schema.Validator[0]); err != nil {
		d.addError(r, "schema", "schema.validator",
			fmt.Sprintf("validator %q not found: %v", d.cfg.Schema.Validator[0], err))
	}
	if !schemaExists {
		d.addError(r, "schema", "schema.path",
			fmt.Sprintf("schema %s not found but a validator is configured", d.cfg.Schema.Path))
	}
}

func (d *Doctor) validateHistory(r *Result) {
	if d.cfg.History.Path == "" {
		return
	}
	err := storage.CheckHistoryLocation(d.cfg.History.Path)
	if err == nil {
		return
	}
	var remote *storage.RemoteFilesystemError
	if errors.As(err, &remote) {
		d.addError(r, "history", "history.path", err.Error())
		return
	}
	d.addWarning(r, "history", "history.path", fmt.Sprintf("could not check history location: %v", err))
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	switch {
	case r.Valid && len(r.Warnings) == 0:
		b.WriteString("Configuration valid.\n")
	case r.Valid:
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	default:
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	if len(r.Actions) > 0 {
		fmt.Fprintf(&b, "  Actions: %s\n", strings.Join(r.Actions, ", "))
	}
	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
