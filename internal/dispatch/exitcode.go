package dispatch

// Process exit codes used by skillrun itself. Any other code comes from the
// dispatched action.
const (
	ExitOK            = 0
	ExitUsage         = 1
	ExitUnknownAction = 2
	ExitLoadError     = 3
	ExitInvalidTask   = 4
	ExitConfigError   = 5
	ExitBusy          = 6
	ExitCannotExecute = 126
	ExitNotFound      = 127
)

// Outcome classifies how a dispatch ended.
type Outcome string

const (
	OutcomeSucceeded     Outcome = "succeeded"
	OutcomeFailed        Outcome = "failed"
	OutcomeSignaled      Outcome = "signaled"
	OutcomeUnknownAction Outcome = "unknown_action"
	OutcomeSpawnFailed   Outcome = "spawn_failed"
)
