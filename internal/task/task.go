// Package task loads task records from disk and checks that they name a
// dispatchable action.
package task

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

// ActionField is the only field a task must carry.
const ActionField = "action"

// Task is one unit of work. It is never mutated after Load.
type Task struct {
	// Path is the file the task was loaded from.
	Path string
	// Fields is the decoded record.
	Fields map[string]any
	// Payload is the JSON handed to the action, verbatim.
	Payload []byte
}

// Load reads and decodes the task at path.
//
// JSON files are forwarded as the compacted file body, so key order and
// number literals survive unchanged. YAML files (.yaml, .yml) are re-encoded
// as JSON.
func Load(path string) (*Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &NotFoundError{Path: path, Err: err}
		}
		return nil, fmt.Errorf("read task %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return parseYAML(path, data)
	default:
		return parseJSON(path, data)
	}
}

func parseJSON(path string, data []byte) (*Task, error) {
	var fields map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	if dec.More() {
		return nil, &ParseError{Path: path, Err: fmt.Errorf("trailing data after task object")}
	}
	if fields == nil {
		return nil, &ParseError{Path: path, Err: fmt.Errorf("task must be an object, got null")}
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, data); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}

	return &Task{Path: path, Fields: fields, Payload: compact.Bytes()}, nil
}

func parseYAML(path string, data []byte) (*Task, error) {
	var fields map[string]any
	if err := yaml.Unmarshal(data, &fields); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	if fields == nil {
		return nil, &ParseError{Path: path, Err: fmt.Errorf("task must be a mapping")}
	}

	payload, err := json.Marshal(fields)
	if err != nil {
		// yaml.v3 only yields string keys for mappings under map[string]any,
		// but nested values can still hold unsupported types.
		return nil, &ParseError{Path: path, Err: fmt.Errorf("encode task as JSON: %w", err)}
	}

	return &Task{Path: path, Fields: fields, Payload: payload}, nil
}

// Action returns the action name, or "" when the field is absent or not a string.
func (t *Task) Action() string {
	s, _ := t.Fields[ActionField].(string)
	return s
}

// Validate checks that the task names an action. The name must be a single
// path component; whether a script exists for it is the resolver's call.
func (t *Task) Validate() error {
	raw, ok := t.Fields[ActionField]
	if !ok {
		return &ValidationError{Field: ActionField, Reason: "required field is missing"}
	}
	name, ok := raw.(string)
	if !ok {
		return &ValidationError{Field: ActionField, Reason: fmt.Sprintf("must be a string, got %T", raw)}
	}
	if strings.TrimSpace(name) == "" {
		return &ValidationError{Field: ActionField, Reason: "must not be empty"}
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return &ValidationError{Field: ActionField, Reason: fmt.Sprintf("%q is not a plain action name", name)}
	}
	return nil
}

// Digest returns the hex BLAKE3-256 digest of the payload.
func (t *Task) Digest() string {
	sum := blake3.Sum256(t.Payload)
	return hex.EncodeToString(sum[:])
}
