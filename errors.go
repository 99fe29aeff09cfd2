package usbshell

import (
	"github.com/camfw/usbshell/pkg/capability"
	"github.com/camfw/usbshell/pkg/transfer"
	"github.com/camfw/usbshell/pkg/wire"
	"github.com/pkg/errors"
)

// resultFor maps an error returned by a command handler to the signed
// result code the dispatcher writes back: protection
// violations and generic failures are distinct. A protocol-fatal
// error never reaches this far; it propagates straight out of the
// dispatch loop instead.
func resultFor(err error) int32 {
	if err == nil {
		return wire.ResultSuccess
	}
	if capability.IsProtected(err) {
		return wire.ResultProtected
	}
	return wire.ResultError
}

// isFatal reports whether err is the kind of failure that must abort
// the whole session rather than be folded into a per-command result
// code: a sequence mismatch, short transfer, or carrier I/O error.
func isFatal(err error) bool {
	return errors.Is(err, transfer.ErrFatal)
}
