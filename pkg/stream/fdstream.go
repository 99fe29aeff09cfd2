package stream

import (
	"io"

	"github.com/camfw/usbshell/pkg/entropy"
	"github.com/camfw/usbshell/pkg/wire"
	"github.com/pkg/errors"
)

// FDToHost implements stream_fd_to_host, used by PULL: read up to one
// chunk from r, exchange one (status, data) pair, and terminate on EOF
// or a host cancel. diag, if non-nil, samples every chunk for the
// entropy diagnostic.
func FDToHost(tr Transfer, r io.Reader, diag entropy.Estimator) error {
	buf := chunks.Get()
	defer chunks.Put(buf)

	for {
		n, err := r.Read(buf[:chunkSize])
		if err != nil && err != io.EOF {
			return errors.Wrap(err, "stream: read error")
		}

		statusWire := make([]byte, 4)
		if err := tr.Read(statusWire, 4); err != nil {
			return err
		}
		var status wire.StatusMsg
		if err := status.Unmarshal(statusWire); err != nil {
			return err
		}

		var msg wire.DataMsg
		msg.Size = uint32(n)
		copy(msg.Data[:], buf[:n])
		data := msg.Marshal()
		if err := tr.Write(data, len(data)); err != nil {
			return err
		}

		if diag != nil && n > 0 {
			diag.Write(buf[:n])
		}

		if n == 0 || status.Status == wire.StatusTerminate {
			break
		}
	}

	return nil
}
