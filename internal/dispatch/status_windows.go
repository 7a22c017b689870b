//go:build windows

package dispatch

import "os"

var forwardedSignals []os.Signal

var ignoredSignals = []os.Signal{os.Interrupt}

func exitStatus(state *os.ProcessState) (code int, signaled bool) {
	return state.ExitCode(), false
}
