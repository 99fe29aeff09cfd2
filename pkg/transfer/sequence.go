package transfer

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// ErrFatal marks every error this package returns as protocol-fatal: the
// session that observes one must abort, never retry in-protocol.
var ErrFatal = errors.New("usb transfer: fatal protocol error")

const seqHeaderSize = 4

// SequenceTransfer wraps a Carrier with the protocol's sequence
// envelope: every logical frame is prefixed with a 32-bit
// little-endian sequence number. The counter increments only on a
// successful Write, never on a Read. It tracks how many slave→master
// messages this end has sent, which is what keeps both endpoints'
// expected value in lockstep.
type SequenceTransfer struct {
	carrier Carrier
	seq     uint32
}

// New wraps carrier in a SequenceTransfer starting at sequence 0.
func New(carrier Carrier) *SequenceTransfer {
	return &SequenceTransfer{carrier: carrier}
}

// Sequence returns the current local counter (for logging/metrics only).
func (t *SequenceTransfer) Sequence() uint32 {
	return t.seq
}

// Read performs one underlying carrier read of 4+n bytes, verifies the
// embedded sequence number against the local counter, and copies the
// trailing n bytes into out. It does not advance the counter.
func (t *SequenceTransfer) Read(out []byte, n int) error {
	buf := make([]byte, seqHeaderSize+n)
	got, err := t.carrier.Read(buf, len(buf))
	if err != nil {
		return errors.Wrap(ErrFatal, err.Error())
	}
	if got != len(buf) {
		return errors.Wrapf(ErrFatal, "short read: want %d got %d", len(buf), got)
	}

	seq := binary.LittleEndian.Uint32(buf[:seqHeaderSize])
	if seq != t.seq {
		return errors.Wrapf(ErrFatal, "sequence mismatch: want %d got %d", t.seq, seq)
	}

	copy(out, buf[seqHeaderSize:])
	return nil
}

// Write prepends the local counter to n bytes of in, performs one
// underlying carrier write, and on success increments the counter.
func (t *SequenceTransfer) Write(in []byte, n int) error {
	buf := make([]byte, seqHeaderSize+n)
	binary.LittleEndian.PutUint32(buf[:seqHeaderSize], t.seq)
	copy(buf[seqHeaderSize:], in[:n])

	wrote, err := t.carrier.Write(buf, len(buf))
	if err != nil {
		return errors.Wrap(ErrFatal, err.Error())
	}
	if wrote != len(buf) {
		return errors.Wrapf(ErrFatal, "short write: want %d got %d", len(buf), wrote)
	}

	t.seq++
	return nil
}
