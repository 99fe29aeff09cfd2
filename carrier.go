package usbshell

import (
	"os"

	"github.com/pkg/errors"
)

// VendorCarrier implements transfer.Carrier against the vendor control
// node exposing USB feature 0x23: one blocking framed read
// or write per call, backed by a device file the kernel driver exposes
// for that feature. It never retries a short read or write itself;
// SequenceTransfer treats both as protocol-fatal.
type VendorCarrier struct {
	f *os.File
}

// OpenVendorCarrier opens the control node at path. Closing the
// returned Carrier is the caller's responsibility, done once the
// session's dispatcher loop returns.
func OpenVendorCarrier(path string) (*VendorCarrier, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, errors.Wrap(err, "carrier: open vendor control node")
	}
	return &VendorCarrier{f: f}, nil
}

func (c *VendorCarrier) Close() error {
	return c.f.Close()
}

func (c *VendorCarrier) Read(buf []byte, n int) (int, error) {
	read, err := c.f.Read(buf[:n])
	if err != nil {
		return read, errors.Wrapf(err, "carrier: read %d bytes (got %d)", n, read)
	}
	return read, nil
}

func (c *VendorCarrier) Write(buf []byte, n int) (int, error) {
	written, err := c.f.Write(buf[:n])
	if err != nil {
		return written, errors.Wrapf(err, "carrier: write %d bytes (wrote %d)", n, written)
	}
	return written, nil
}
