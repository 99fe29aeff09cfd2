package stream

import (
	"os/signal"
	"syscall"
)

// scopedSigpipeIgnore masks SIGPIPE for the duration of a pipe-socket
// exchange and returns a restore func that must run
// on every exit path, including error returns. SIGPIPE is process-wide
// state; this is a scoped acquisition of it, not a per-fd setting.
func scopedSigpipeIgnore() func() {
	signal.Ignore(syscall.SIGPIPE)
	return func() {
		signal.Reset(syscall.SIGPIPE)
	}
}
