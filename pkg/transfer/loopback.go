package transfer

import (
	"github.com/pkg/errors"
)

// LoopbackCarrier is one end of an in-memory carrier pair, used by the
// loopback smoke test and by tests that drive a dispatcher without USB
// hardware. Each Write delivers exactly one framed message to the peer;
// each Read consumes exactly one, preserving the carrier's
// one-call-one-transfer contract.
type LoopbackCarrier struct {
	in  <-chan []byte
	out chan<- []byte
}

// NewLoopback returns the two connected ends of an in-memory carrier.
// The device end goes to the session; the host end to whatever drives
// it. Both ends buffer a few frames so the strictly alternating
// protocol never deadlocks on an in-flight message.
func NewLoopback() (device, host *LoopbackCarrier) {
	toDevice := make(chan []byte, 4)
	toHost := make(chan []byte, 4)

	device = &LoopbackCarrier{in: toDevice, out: toHost}
	host = &LoopbackCarrier{in: toHost, out: toDevice}
	return device, host
}

// Close signals the peer that this end has gone away: its next Read
// fails, which the transfer layer classifies as protocol-fatal.
func (c *LoopbackCarrier) Close() error {
	close(c.out)
	return nil
}

func (c *LoopbackCarrier) Read(buf []byte, n int) (int, error) {
	msg, ok := <-c.in
	if !ok {
		return 0, errors.New("loopback: peer closed")
	}
	if len(msg) != n {
		copy(buf, msg)
		return len(msg), nil
	}
	copy(buf[:n], msg)
	return n, nil
}

func (c *LoopbackCarrier) Write(buf []byte, n int) (int, error) {
	msg := make([]byte, n)
	copy(msg, buf[:n])
	c.out <- msg
	return n, nil
}
