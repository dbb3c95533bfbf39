package fbchan

// SetDebugChecks toggles invariant verification, returning a restore
// function. Tests enable it so every public entry point and completion
// handler re-validates the state-machine invariants.
func SetDebugChecks(enabled bool) (restore func()) {
	prev := debugChecks
	debugChecks = enabled
	return func() {
		debugChecks = prev
	}
}
