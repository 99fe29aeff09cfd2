package transfer

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// MasterTransfer is the host half of the sequence envelope, used by the
// loopback smoke test and protocol tests. The counter counts
// slave→master frames, so the master stamps its outgoing frames with
// the current value and advances only after verifying a slave frame,
// the mirror image of SequenceTransfer's asymmetric increment.
type MasterTransfer struct {
	carrier Carrier
	seq     uint32
}

func NewMaster(carrier Carrier) *MasterTransfer {
	return &MasterTransfer{carrier: carrier}
}

func (t *MasterTransfer) Sequence() uint32 {
	return t.seq
}

func (t *MasterTransfer) Write(in []byte, n int) error {
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
	return nil
}

func (t *MasterTransfer) Read(out []byte, n int) error {
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
	t.seq++
	return nil
}
