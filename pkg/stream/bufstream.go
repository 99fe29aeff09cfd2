package stream

import (
	"github.com/camfw/usbshell/pkg/entropy"
	"github.com/camfw/usbshell/pkg/wire"
)

// BufferToHost implements stream_buffer_to_host, used
// by BROM and BLDR whole-buffer sends: slice buf into
// chunks of up to 0xFFF8 bytes, exchange a (status, data) pair per
// chunk, and always end with one terminating size==0 frame. A host
// cancel mid-stream stops emitting chunks and sends the terminator
// immediately. diag, if non-nil, samples every chunk.
func BufferToHost(tr Transfer, buf []byte, diag entropy.Estimator) error {
	statusWire := make([]byte, 4)

	for i := 0; i < len(buf); i += chunkSize {
		end := i + chunkSize
		if end > len(buf) {
			end = len(buf)
		}
		chunk := buf[i:end]

		if err := tr.Read(statusWire, 4); err != nil {
			return err
		}
		var status wire.StatusMsg
		if err := status.Unmarshal(statusWire); err != nil {
			return err
		}

		var msg wire.DataMsg
		msg.Size = uint32(len(chunk))
		copy(msg.Data[:], chunk)
		data := msg.Marshal()
		if err := tr.Write(data, len(data)); err != nil {
			return err
		}

		if diag != nil {
			diag.Write(chunk)
		}

		if status.Status == wire.StatusTerminate {
			break
		}
	}

	if err := tr.Read(statusWire, 4); err != nil {
		return err
	}
	var term wire.DataMsg
	term.Size = 0
	data := term.Marshal()
	return tr.Write(data, len(data))
}
