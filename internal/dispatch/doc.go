// Package dispatch runs the action script named by a task.
//
// A Dispatcher resolves `<actions-dir>/<action><ext>`, spawns exactly one
// child process for it and waits for it to exit. There is no queue, no retry
// and no timeout.
//
// Process contract:
//   - argv is `interpreter... <script> <task-json>`; the task is one discrete
//     argument and is never passed through a shell
//   - stdout and stderr are attached to the dispatcher's writers (inherited
//     file descriptors in production)
//   - SKILLRUN_ACTION, SKILLRUN_TASK_FILE and SKILLRUN_RUN_ID are added to the
//     child's environment
//
// Exit status mapping:
//   - normal exit → the child's code, unmodified
//   - killed by signal N → 128+N (unix)
//   - no script for the action → ExitUnknownAction (2)
//   - interpreter or script not found → ExitNotFound (127)
//   - found but not executable → ExitCannotExecute (126)
//
// While the child runs, SIGTERM and SIGHUP sent to the dispatcher are
// forwarded to it and SIGINT is ignored (the terminal already delivers it to
// the child), so the child's own status is what gets propagated.
package dispatch
