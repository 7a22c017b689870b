package dispatch

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/skillrun/internal/action"
	"github.com/mattjoyce/skillrun/internal/dispatch/mocks"
	"github.com/mattjoyce/skillrun/internal/history"
	"github.com/mattjoyce/skillrun/internal/task"
)

type fixture struct {
	dir    string
	stdout bytes.Buffer
	stderr bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("action fixtures are POSIX shell scripts")
	}
	return &fixture{dir: t.TempDir()}
}

func (f *fixture) script(t *testing.T, name, body string, mode os.FileMode) string {
	t.Helper()
	path := filepath.Join(f.dir, name+".sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), mode))
	return path
}

func (f *fixture) dispatcher(opts Options) *Dispatcher {
	opts.Resolver = action.NewResolver(f.dir, ".sh")
	opts.Stdout = &f.stdout
	opts.Stderr = &f.stderr
	return New(opts)
}

func mustTask(t *testing.T, body string) *task.Task {
	t.Helper()
	path := filepath.Join(t.TempDir(), "task.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	tk, err := task.Load(path)
	require.NoError(t, err)
	require.NoError(t, tk.Validate())
	return tk
}

func TestDispatchSuccess(t *testing.T) {
	f := newFixture(t)
	script := f.script(t, "echo", "echo \"echo ran\"\nexit 0\n", 0o755)

	res := f.dispatcher(Options{}).Dispatch(context.Background(), mustTask(t, `{"action": "echo"}`))

	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, OutcomeSucceeded, res.Outcome)
	assert.NoError(t, res.Err)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, "echo", res.Action)
	assert.Equal(t, filepath.Base(script), filepath.Base(res.Script))
	assert.Equal(t, "echo ran\n", f.stdout.String())
	assert.Empty(t, f.stderr.String())
}

func TestDispatchUnknownAction(t *testing.T) {
	f := newFixture(t)
	f.script(t, "echo", "exit 0\n", 0o755)

	res := f.dispatcher(Options{}).Dispatch(context.Background(), mustTask(t, `{"action": "doesnotexist"}`))

	assert.Equal(t, ExitUnknownAction, res.ExitCode)
	assert.Equal(t, OutcomeUnknownAction, res.Outcome)
	assert.ErrorIs(t, res.Err, action.ErrUnknownAction)
	assert.Contains(t, f.stderr.String(), "doesnotexist")
	assert.Empty(t, res.Script)
	assert.Empty(t, f.stdout.String())
}

func TestDispatchUnfileableActionIsUnknown(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "embedded NUL", body: `{"action":"ghost\u0000x"}`},
		{name: "longer than NAME_MAX", body: `{"action":"` + strings.Repeat("a", 300) + `"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			res := f.dispatcher(Options{}).Dispatch(context.Background(), mustTask(t, tt.body))

			assert.Equal(t, ExitUnknownAction, res.ExitCode)
			assert.Equal(t, OutcomeUnknownAction, res.Outcome)
			assert.ErrorIs(t, res.Err, action.ErrUnknownAction)
			assert.Contains(t, f.stderr.String(), "Unknown action:")
		})
	}
}

func TestDispatchUnknownActionEscapesControlBytes(t *testing.T) {
	f := newFixture(t)

	res := f.dispatcher(Options{}).Dispatch(context.Background(), mustTask(t, `{"action":"bad\u001b[31mred\u0000"}`))

	assert.Equal(t, ExitUnknownAction, res.ExitCode)
	assert.NotContains(t, f.stderr.String(), "\x1b")
	assert.NotContains(t, f.stderr.String(), "\x00")
	assert.Contains(t, f.stderr.String(), `Unknown action: "bad\x1b[31mred\x00"`)
}

func TestDispatchPropagatesExitCode(t *testing.T) {
	f := newFixture(t)
	f.script(t, "fail", "echo oops >&2\nexit 7\n", 0o755)

	res := f.dispatcher(Options{}).Dispatch(context.Background(), mustTask(t, `{"action":"fail"}`))

	assert.Equal(t, 7, res.ExitCode)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.NoError(t, res.Err)
	// The child's own stderr is the only output; no wrapping message.
	assert.Equal(t, "oops\n", f.stderr.String())
}

func TestDispatchPassesTaskAsSingleArgument(t *testing.T) {
	f := newFixture(t)
	out := filepath.Join(t.TempDir(), "received")
	f.script(t, "capture", "printf '%s' \"$#\" > \"$OUT.argc\"\nprintf '%s' \"$1\" > \"$OUT\"\n", 0o755)

	body := `{"action":"capture","msg":"it's \"quoted\" $(touch $OUT.pwned); echo ; | & > <","n":1.10,"u":"é\n"}`
	tk := mustTask(t, body)

	res := f.dispatcher(Options{Env: []string{"OUT=" + out}}).Dispatch(context.Background(), tk)
	require.Equal(t, 0, res.ExitCode, "stderr: %s", f.stderr.String())

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, string(tk.Payload), string(got))
	assert.Equal(t, body, string(got))

	argc, err := os.ReadFile(out + ".argc")
	require.NoError(t, err)
	assert.Equal(t, "1", string(argc))

	_, err = os.Stat(out + ".pwned")
	assert.True(t, errors.Is(err, os.ErrNotExist), "task content must not reach a shell")
}

func TestDispatchSetsEnvironment(t *testing.T) {
	f := newFixture(t)
	f.script(t, "env", "echo \"$SKILLRUN_ACTION|$SKILLRUN_TASK_FILE|$SKILLRUN_RUN_ID|$EXTRA\"\n", 0o755)
	tk := mustTask(t, `{"action":"env"}`)

	res := f.dispatcher(Options{Env: []string{"EXTRA=yes"}}).Dispatch(context.Background(), tk)
	require.Equal(t, 0, res.ExitCode)

	parts := strings.Split(strings.TrimSpace(f.stdout.String()), "|")
	require.Len(t, parts, 4)
	assert.Equal(t, "env", parts[0])
	assert.Equal(t, tk.Path, parts[1])
	assert.Equal(t, res.RunID, parts[2])
	assert.Equal(t, "yes", parts[3])
}

func TestDispatchWithInterpreterDoesNotNeedExecBit(t *testing.T) {
	f := newFixture(t)
	f.script(t, "plain", "echo via interpreter\n", 0o644)

	res := f.dispatcher(Options{Interpreter: []string{"sh"}}).Dispatch(context.Background(), mustTask(t, `{"action":"plain"}`))

	assert.Equal(t, 0, res.ExitCode, "stderr: %s", f.stderr.String())
	assert.Equal(t, "via interpreter\n", f.stdout.String())
}

func TestDispatchSpawnFailures(t *testing.T) {
	t.Run("script not executable", func(t *testing.T) {
		f := newFixture(t)
		f.script(t, "noexec", "exit 0\n", 0o644)

		res := f.dispatcher(Options{}).Dispatch(context.Background(), mustTask(t, `{"action":"noexec"}`))

		assert.Equal(t, ExitCannotExecute, res.ExitCode)
		assert.Equal(t, OutcomeSpawnFailed, res.Outcome)
		var se *SpawnError
		assert.ErrorAs(t, res.Err, &se)
		assert.Contains(t, f.stderr.String(), "noexec")
	})

	t.Run("interpreter not found", func(t *testing.T) {
		f := newFixture(t)
		f.script(t, "echo", "exit 0\n", 0o755)

		res := f.dispatcher(Options{Interpreter: []string{"skillrun-no-such-interpreter"}}).
			Dispatch(context.Background(), mustTask(t, `{"action":"echo"}`))

		assert.Equal(t, ExitNotFound, res.ExitCode)
		assert.Equal(t, OutcomeSpawnFailed, res.Outcome)
	})
}

func TestDispatchSignaledChild(t *testing.T) {
	f := newFixture(t)
	f.script(t, "suicide", "kill -TERM $$\nsleep 5\n", 0o755)

	res := f.dispatcher(Options{}).Dispatch(context.Background(), mustTask(t, `{"action":"suicide"}`))

	assert.Equal(t, 128+15, res.ExitCode)
	assert.Equal(t, OutcomeSignaled, res.Outcome)
}

func TestDispatchRecordsRun(t *testing.T) {
	f := newFixture(t)
	f.script(t, "fail", "exit 3\n", 0o755)
	tk := mustTask(t, `{"action":"fail","x":1}`)

	ctrl := gomock.NewController(t)
	rec := mocks.NewMockRunRecorder(ctrl)

	var got history.Record
	rec.EXPECT().Record(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, r history.Record) error {
		got = r
		return nil
	}).Times(1)

	res := f.dispatcher(Options{Recorder: rec}).Dispatch(context.Background(), tk)

	assert.Equal(t, res.RunID, got.RunID)
	assert.Equal(t, "fail", got.Action)
	assert.Equal(t, tk.Path, got.TaskPath)
	assert.Equal(t, tk.Digest(), got.TaskDigest)
	assert.Equal(t, res.Script, got.Script)
	assert.Equal(t, string(OutcomeFailed), got.Outcome)
	assert.Equal(t, 3, got.ExitCode)
	assert.False(t, got.CompletedAt.Before(got.StartedAt))
	assert.Empty(t, got.Error)
}

func TestDispatchRecordsUnknownAction(t *testing.T) {
	f := newFixture(t)

	ctrl := gomock.NewController(t)
	rec := mocks.NewMockRunRecorder(ctrl)
	rec.EXPECT().Record(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, r history.Record) error {
		assert.Equal(t, string(OutcomeUnknownAction), r.Outcome)
		assert.Equal(t, ExitUnknownAction, r.ExitCode)
		assert.Contains(t, r.Error, "doesnotexist")
		return nil
	})

	f.dispatcher(Options{Recorder: rec}).Dispatch(context.Background(), mustTask(t, `{"action":"doesnotexist"}`))
}

func TestDispatchRecorderFailureKeepsExitCode(t *testing.T) {
	f := newFixture(t)
	f.script(t, "echo", "exit 0\n", 0o755)

	ctrl := gomock.NewController(t)
	rec := mocks.NewMockRunRecorder(ctrl)
	rec.EXPECT().Record(gomock.Any(), gomock.Any()).Return(errors.New("disk full"))

	res := f.dispatcher(Options{Recorder: rec}).Dispatch(context.Background(), mustTask(t, `{"action":"echo"}`))
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, OutcomeSucceeded, res.Outcome)
}

func TestSpawnErrorExitCode(t *testing.T) {
	assert.Equal(t, ExitNotFound, (&SpawnError{Err: os.ErrNotExist}).ExitCode())
	assert.Equal(t, ExitCannotExecute, (&SpawnError{Err: os.ErrPermission}).ExitCode())
}
