package usbshell

import (
	"github.com/mr-tron/base58"
	"github.com/oklog/ulid/v2"
)

// newSessionID generates a ULID and renders it with base58, giving
// each session a short, sortable, copy-pasteable log identifier.
func newSessionID() string {
	id := ulid.MustNew(ulid.Now(), ulid.DefaultEntropy())
	return base58.Encode(id[:])
}
