package stream

import (
	"os"

	"github.com/camfw/usbshell/pkg/wire"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// pipeBuf is a scratch ring holding at most one negotiated window's
// worth of unsent bytes.
type pipeBuf struct {
	data   []byte
	offset int
	size   int
}

// StreamPipeSocket implements stream_pipe_socket, the full-duplex pipe
// protocol behind SHEL/EXEC. stdin/stdout are the child process's pipe
// ends; either may be nil, matching EXEC's lack of a stdin half (an
// explicit nil in place of the source's fd==0 sentinel).
//
// Each round: drain the rx scratch buffer into the child's stdin, top
// up the tx scratch buffer from the child's stdout, exchange headers
// declaring this round's offer, negotiate the smaller of each side's
// offer/capacity, and move that many bytes each direction. Both halves
// report status == 1 when they have nothing further to send; the
// exchange ends once both sides have said so.
func StreamPipeSocket(tr Transfer, stdin, stdout *os.File) error {
	restore := scopedSigpipeIgnore()
	defer restore()

	// Fd() puts a descriptor back into blocking mode on every call, so
	// each one is fetched once, before it is made non-blocking.
	var inFd, outFd int
	if stdin != nil {
		inFd = int(stdin.Fd())
		if err := unix.SetNonblock(inFd, true); err != nil {
			return errors.Wrap(err, "pipe: set stdin nonblocking")
		}
	}
	if stdout != nil {
		outFd = int(stdout.Fd())
		if err := unix.SetNonblock(outFd, true); err != nil {
			return errors.Wrap(err, "pipe: set stdout nonblocking")
		}
	}

	defer func() {
		if stdin != nil {
			stdin.Close()
		}
		if stdout != nil {
			stdout.Close()
		}
	}()

	rx := pipeBuf{data: make([]byte, wire.SocketBufferSize)}
	tx := pipeBuf{data: make([]byte, wire.SocketBufferSize)}

	for {
		// 1. Drain rx to child stdin.
		if stdin != nil && rx.size > 0 {
			n, err := unix.Write(inFd, rx.data[rx.offset:rx.offset+rx.size])
			switch {
			case err == nil:
				rx.offset += n
				rx.size -= n
			case err == unix.EPIPE:
				stdin.Close()
				stdin = nil
			case err == unix.EAGAIN:
				// child not ready, try again next round
			default:
				return errors.Wrap(err, "pipe: write to child stdin")
			}
		}
		if stdin == nil {
			rx.size = 0
		}

		// 2. Fill tx from child stdout.
		if stdout != nil && tx.size == 0 {
			n, err := unix.Read(outFd, tx.data)
			switch {
			case err == nil && n > 0:
				tx.offset = 0
				tx.size = n
			case err == nil:
				stdout.Close()
				stdout = nil
			case err == unix.EAGAIN:
				// nothing ready yet
			default:
				return errors.Wrap(err, "pipe: read from child stdout")
			}
		}

		// 3. Master exchange: read the host's offer.
		masterWire := make([]byte, wire.SocketHeaderSize)
		if err := tr.Read(masterWire, wire.SocketHeaderSize); err != nil {
			return err
		}
		var master wire.SocketHeader
		if err := master.Unmarshal(masterWire); err != nil {
			return err
		}

		// 4. Send our (slave) header.
		slave := wire.SocketHeader{TxSize: uint32(tx.size)}
		if stdout == nil {
			slave.Status = uint32(wire.StatusTerminate)
		}
		if rx.size == 0 {
			slave.RxSize = wire.SocketBufferSize
		}
		if err := tr.Write(slave.Marshal(), wire.SocketHeaderSize); err != nil {
			return err
		}

		// 5. Negotiate this round's transfer sizes.
		rxSize := min(master.TxSize, slave.RxSize)
		txSize := min(master.RxSize, slave.TxSize)

		// 6. Termination: both halves have nothing left to offer.
		if master.Status == uint32(wire.StatusTerminate) && slave.Status == uint32(wire.StatusTerminate) {
			break
		}

		// 7. Host asked to close stdin once our rx buffer runs dry.
		if stdin != nil && rx.size == 0 && master.Status == uint32(wire.StatusTerminate) {
			stdin.Close()
			stdin = nil
		}

		// 8. Data exchange. The read happens even for a zero-size round:
		// each round is exactly one read and one write on the carrier.
		if err := tr.Read(rx.data[:rxSize], int(rxSize)); err != nil {
			return err
		}
		if rxSize > 0 {
			rx.offset = 0
			rx.size = int(rxSize)
		}

		txWire := tx.data[tx.offset : tx.offset+int(txSize)]
		if err := tr.Write(txWire, int(txSize)); err != nil {
			return err
		}
		tx.offset += int(txSize)
		tx.size -= int(txSize)
	}

	return nil
}
