//go:build !windows

package dispatch

import (
	"os"
	"syscall"
)

// forwardedSignals are relayed to the running child.
var forwardedSignals = []os.Signal{syscall.SIGTERM, syscall.SIGHUP}

// ignoredSignals are caught and dropped while the child runs.
var ignoredSignals = []os.Signal{os.Interrupt}

// exitStatus maps a finished process to a shell-style status.
func exitStatus(state *os.ProcessState) (code int, signaled bool) {
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal()), true
	}
	return state.ExitCode(), false
}
