package capability

import (
	"crypto/sha256"
	"io"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-hclog"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/lab47/lz4decode"
	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
)

// Block is one addressable unit of a BLDR enumeration.
type Block struct {
	Index  int
	Offset int64
	Size   int
}

// BootloaderHandle scopes one BLDR session's open device node.
type BootloaderHandle interface {
	Blocks() ([]Block, error)
	ReadBlock(b Block) ([]byte, error)
	Close() error
}

// BootloaderReader reads the bootloader device node, either as one
// whole blob (BROM) or block by block (BLDR).
type BootloaderReader interface {
	ReadROM() ([]byte, error)
	Open() (BootloaderHandle, error)
}

// DeviceBootloader reads a real bootloader device node, adding an
// in-memory LRU of per-block reads, keyed by block index, and an
// LZ4-compressed on-disk cache of the full ROM dump. BROM still reads
// the device node on every call, since the on-disk cache is keyed by
// the checksum of that read.
type DeviceBootloader struct {
	log       hclog.Logger
	devPath   string
	blockSize int
	cacheDir  string

	blocks *lru.Cache[int, []byte]
}

func NewDeviceBootloader(log hclog.Logger, devPath string, blockSize int, cacheDir string) (*DeviceBootloader, error) {
	blocks, err := lru.New[int, []byte](256)
	if err != nil {
		return nil, err
	}

	return &DeviceBootloader{
		log:       log,
		devPath:   devPath,
		blockSize: blockSize,
		cacheDir:  cacheDir,
		blocks:    blocks,
	}, nil
}

func (d *DeviceBootloader) cachePath(sum [32]byte) string {
	return filepath.Join(d.cacheDir, "rom-"+hexSum(sum)+".lz4")
}

func hexSum(sum [32]byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, 16)
	for i := 0; i < 8; i++ {
		out[i*2] = hextable[sum[i]>>4]
		out[i*2+1] = hextable[sum[i]&0xf]
	}
	return string(out)
}

// ReadROM returns the whole bootloader dump, transparently cached on
// disk compressed with LZ4. The cache key is the dump's own checksum,
// so a changed ROM never serves a stale cache hit; it simply misses.
func (d *DeviceBootloader) ReadROM() ([]byte, error) {
	raw, err := os.ReadFile(d.devPath)
	if err != nil {
		return nil, errors.Wrap(err, "bootloader: read device node")
	}

	sum := sha256.Sum256(raw)

	if d.cacheDir != "" {
		if cached, ok := d.readCache(sum, len(raw)); ok {
			return cached, nil
		}
		if err := d.writeCache(sum, raw); err != nil {
			d.log.Warn("bootloader: cache write failed", "error", err)
		}
	}

	return raw, nil
}

func (d *DeviceBootloader) readCache(sum [32]byte, size int) ([]byte, bool) {
	comp, err := os.ReadFile(d.cachePath(sum))
	if err != nil {
		return nil, false
	}

	dst := make([]byte, size)
	n, err := lz4decode.UncompressBlock(comp, dst, nil)
	if err != nil || n != size {
		return nil, false
	}
	return dst, true
}

func (d *DeviceBootloader) writeCache(sum [32]byte, raw []byte) error {
	if err := os.MkdirAll(d.cacheDir, 0755); err != nil {
		return err
	}

	comp := make([]byte, lz4.CompressBlockBound(len(raw)))
	n, err := lz4.CompressBlock(raw, comp, nil)
	if err != nil {
		return err
	}
	if n == 0 {
		// incompressible; lz4.CompressBlock returns 0 rather than
		// expanding the block
		return nil
	}

	return os.WriteFile(d.cachePath(sum), comp[:n], 0644)
}

func (d *DeviceBootloader) Open() (BootloaderHandle, error) {
	f, err := os.Open(d.devPath)
	if err != nil {
		return nil, errors.Wrap(err, "bootloader: open device node")
	}

	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &deviceHandle{d: d, f: f, size: size}, nil
}

type deviceHandle struct {
	d    *DeviceBootloader
	f    *os.File
	size int64
}

func (h *deviceHandle) Blocks() ([]Block, error) {
	n := int(h.size) / h.d.blockSize
	blocks := make([]Block, n)
	for i := 0; i < n; i++ {
		blocks[i] = Block{Index: i, Offset: int64(i * h.d.blockSize), Size: h.d.blockSize}
	}
	return blocks, nil
}

// ReadBlock reads one block, consulting and populating the LRU cache.
// A read failure is returned to the caller, which (per BLDR's
// per-block policy) substitutes an empty buffer and continues rather
// than aborting the whole enumeration.
func (h *deviceHandle) ReadBlock(b Block) ([]byte, error) {
	if cached, ok := h.d.blocks.Get(b.Index); ok {
		return cached, nil
	}

	buf := make([]byte, b.Size)
	n, err := h.f.ReadAt(buf, b.Offset)
	if err != nil && n != b.Size {
		return nil, errors.Wrapf(err, "bootloader: read block %d", b.Index)
	}

	h.d.blocks.Add(b.Index, buf)
	return buf, nil
}

func (h *deviceHandle) Close() error {
	return h.f.Close()
}
