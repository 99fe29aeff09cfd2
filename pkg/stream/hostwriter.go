package stream

import (
	"io"

	"github.com/camfw/usbshell/pkg/wire"
	"github.com/pkg/errors"
)

// HostToFD implements stream_host_to_fd, used by PUSH:
// exchange one (data, status) pair, write the data to w, and terminate
// when the host sends a zero-size frame. A short write is fatal.
func HostToFD(tr Transfer, w io.Writer) error {
	wireBuf := make([]byte, 4+chunkSize)

	for {
		if err := tr.Read(wireBuf, len(wireBuf)); err != nil {
			return err
		}
		var msg wire.DataMsg
		if err := msg.Unmarshal(wireBuf); err != nil {
			return err
		}

		status := wire.StatusMsg{Status: 0}
		if err := tr.Write(status.Marshal(), 4); err != nil {
			return err
		}

		n, err := w.Write(msg.Data[:msg.Size])
		if err != nil {
			return errors.Wrap(err, "stream: write error")
		}
		if uint32(n) != msg.Size {
			return errors.Errorf("stream: short write: want %d got %d", msg.Size, n)
		}

		if msg.Size == 0 {
			break
		}
	}

	return nil
}
