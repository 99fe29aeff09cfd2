package usbshell

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/camfw/usbshell/pkg/capability"
	"github.com/camfw/usbshell/pkg/transfer"
	"github.com/camfw/usbshell/pkg/wire"
	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

// harness runs a dispatcher over an in-memory carrier pair and exposes
// the master half of the protocol to the test.
type harness struct {
	master *transfer.MasterTransfer
	disp   *Dispatcher
	done   chan error
}

func newHarness(caps Capabilities) *harness {
	deviceEnd, hostEnd := transfer.NewLoopback()

	d := NewDispatcher(hclog.NewNullLogger(), transfer.New(deviceEnd), caps)

	done := make(chan error, 1)
	go func() {
		done <- d.Run()
	}()

	return &harness{
		master: transfer.NewMaster(hostEnd),
		disp:   d,
		done:   done,
	}
}

func (h *harness) request(r *require.Assertions, cmd string, payload []byte) int32 {
	var req wire.RequestFrame
	copy(req.Command[:], cmd)
	copy(req.Payload[:], payload)

	buf := req.Marshal()
	r.NoError(h.master.Write(buf, len(buf)))

	respWire := make([]byte, wire.ResponseFrameSize)
	r.NoError(h.master.Read(respWire, wire.ResponseFrameSize))

	var resp wire.ResponseFrame
	r.NoError(resp.Unmarshal(respWire))
	return resp.Result
}

// listEntry performs one probe/entry exchange of a PROP or TLST
// enumeration.
func (h *harness) listEntry(r *require.Assertions) wire.ListResponse {
	r.NoError(h.master.Write(nil, 0))

	buf := make([]byte, 4+4+wire.ListResponseValueSize)
	r.NoError(h.master.Read(buf, len(buf)))

	var entry wire.ListResponse
	r.NoError(entry.Unmarshal(buf))
	return entry
}

// collectStream drains one buffer/file stream: keep offering status 0
// and reading chunks until the terminating zero-size frame.
func (h *harness) collectStream(r *require.Assertions) []byte {
	var out []byte
	for {
		var status wire.StatusMsg
		r.NoError(h.master.Write(status.Marshal(), 4))

		buf := make([]byte, 4+wire.DataMsgChunkSize)
		r.NoError(h.master.Read(buf, len(buf)))

		var msg wire.DataMsg
		r.NoError(msg.Unmarshal(buf))
		if msg.Size == 0 {
			return out
		}
		out = append(out, msg.Data[:msg.Size]...)
	}
}

// sendStream pushes data as one chunk followed by the zero-size
// terminator, reading the status frame the device returns per chunk.
func (h *harness) sendStream(r *require.Assertions, data []byte) {
	send := func(chunk []byte) {
		var msg wire.DataMsg
		msg.Size = uint32(len(chunk))
		copy(msg.Data[:], chunk)
		buf := msg.Marshal()
		r.NoError(h.master.Write(buf, len(buf)))

		statusWire := make([]byte, 4)
		r.NoError(h.master.Read(statusWire, 4))
	}
	send(data)
	send(nil)
}

func (h *harness) exit(r *require.Assertions) {
	r.Equal(wire.ResultSuccess, h.request(r, "EXIT", nil))
	r.NoError(<-h.done)
}

func TestDispatcherTestAndExit(t *testing.T) {
	r := require.New(t)

	h := newHarness(Capabilities{})

	r.Equal(wire.ResultSuccess, h.request(r, "TEST", nil))
	h.exit(r)

	// One slave frame per response, verified and counted by the master.
	r.Equal(uint32(2), h.master.Sequence())
	r.Equal(map[string]int{"TEST": 1, "EXIT": 1}, h.disp.CommandCounts())
}

func TestDispatcherUnknownCommand(t *testing.T) {
	r := require.New(t)

	h := newHarness(Capabilities{})

	r.Equal(wire.ResultError, h.request(r, "ZZZZ", nil))

	// Commands whose capability is absent behave like unknown commands.
	for _, cmd := range []string{"BKRD", "BKWR", "BKSY", "AMNT", "AUMT"} {
		r.Equal(wire.ResultError, h.request(r, cmd, nil))
	}

	h.exit(r)
}

func TestDispatcherPropertyEnumeration(t *testing.T) {
	r := require.New(t)

	h := newHarness(Capabilities{
		Properties: capability.PropertyTable(capability.Identity{
			Model:    "ILCE-7M4",
			Product:  "WW350",
			Firmware: "2.00",
		}),
	})

	// Serial and backup region are unavailable, so the count is 3 and
	// the enumeration preserves table order for the rest.
	r.Equal(int32(3), h.request(r, "PROP", nil))

	entry := h.listEntry(r)
	r.Equal(capability.PropModel, capability.ID(entry.ID))
	r.Equal("ILCE-7M4", entry.ValueString())

	entry = h.listEntry(r)
	r.Equal(capability.PropProduct, capability.ID(entry.ID))
	r.Equal("WW350", entry.ValueString())

	entry = h.listEntry(r)
	r.Equal(capability.PropFirmware, capability.ID(entry.ID))
	r.Equal("2.00", entry.ValueString())

	h.exit(r)
}

func tweakSetPayload(id string, enable int32) []byte {
	payload := make([]byte, 8)
	copy(payload, id)
	binary.LittleEndian.PutUint32(payload[4:], uint32(enable))
	return payload
}

func TestDispatcherTweakProtection(t *testing.T) {
	r := require.New(t)

	available := map[capability.ID]bool{
		capability.TweakRecLimit:   true,
		capability.TweakProtection: true,
	}

	var tweaks []capability.Tweak
	lock := capability.Protector(func() error {
		for _, tw := range tweaks {
			if tw.ID() == capability.TweakProtection && tw.IsEnabled() != 0 {
				return capability.ErrProtected
			}
		}
		return nil
	})
	tweaks = capability.TweakTable(available, lock)

	h := newHarness(Capabilities{Tweaks: tweaks})

	r.Equal(int32(2), h.request(r, "TLST", nil))

	entry := h.listEntry(r)
	r.Equal(capability.TweakRecLimit, capability.ID(entry.ID))
	r.Equal(int32(0), entry.Status)

	entry = h.listEntry(r)
	r.Equal(capability.TweakProtection, capability.ID(entry.ID))

	// Unlocked: RECL toggles freely.
	r.Equal(wire.ResultSuccess, h.request(r, "TSET", tweakSetPayload("RECL", 1)))

	// Locked: every gated tweak reports the protection result.
	r.Equal(wire.ResultSuccess, h.request(r, "TSET", tweakSetPayload("PROT", 1)))
	r.Equal(wire.ResultProtected, h.request(r, "TSET", tweakSetPayload("RECL", 0)))

	// An unavailable tweak is a plain failure, not a protection one.
	r.Equal(wire.ResultError, h.request(r, "TSET", tweakSetPayload("LANG", 1)))

	// PROT is never gated by the lock it controls.
	r.Equal(wire.ResultSuccess, h.request(r, "TSET", tweakSetPayload("PROT", 0)))
	r.Equal(wire.ResultSuccess, h.request(r, "TSET", tweakSetPayload("RECL", 0)))

	h.exit(r)
}

func TestDispatcherDeviceInfo(t *testing.T) {
	r := require.New(t)

	h := newHarness(Capabilities{
		Info: capability.NewStaticDeviceInfo("ILCE-7M4", "WW350", "0001", "2."),
	})

	r.Equal(wire.ResultSuccess, h.request(r, "INFO", nil))

	r.NoError(h.master.Write(nil, 0))
	rec := make([]byte, wire.DeviceInfoSize)
	r.NoError(h.master.Read(rec, wire.DeviceInfoSize))

	r.Equal([]byte("ILCE-7M4"), rec[:8])
	r.Equal([]byte("WW350"), rec[16:21])
	r.Equal([]byte("0001"), rec[21:25])

	h.exit(r)
}

func TestDispatcherPushPullStat(t *testing.T) {
	r := require.New(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "firmware.bin")

	h := newHarness(Capabilities{FS: capability.OSFileSystem{}})

	content := []byte("usb updater payload bytes")

	r.Equal(wire.ResultSuccess, h.request(r, "PUSH", []byte(path)))
	h.sendStream(r, content)

	r.Equal(int32(len(content)), h.request(r, "STAT", []byte(path)))

	r.Equal(int32(len(content)), h.request(r, "PULL", []byte(path)))
	r.Equal(content, h.collectStream(r))

	missing := filepath.Join(dir, "missing.bin")
	r.Equal(wire.ResultError, h.request(r, "STAT", []byte(missing)))
	r.Equal(wire.ResultError, h.request(r, "PULL", []byte(missing)))

	h.exit(r)

	onDisk, err := os.ReadFile(path)
	r.NoError(err)
	r.Equal(content, onDisk)
}

func TestDispatcherBootloaderStreams(t *testing.T) {
	r := require.New(t)

	dir := t.TempDir()
	devPath := filepath.Join(dir, "bootloader.bin")

	rom := bytes.Repeat([]byte{0xA5, 0x5A, 0x00, 0xFF}, 2048) // 8192 bytes
	r.NoError(os.WriteFile(devPath, rom, 0644))

	bl, err := capability.NewDeviceBootloader(hclog.NewNullLogger(), devPath, 4096, "")
	r.NoError(err)

	h := newHarness(Capabilities{Bootloader: bl})

	r.Equal(int32(len(rom)), h.request(r, "BROM", nil))
	r.Equal(rom, h.collectStream(r))

	// BLDR streams one buffer per block.
	r.Equal(int32(2), h.request(r, "BLDR", nil))
	r.Equal(rom[:4096], h.collectStream(r))
	r.Equal(rom[4096:], h.collectStream(r))

	h.exit(r)
}

// memBackup is an in-memory BackupRegion for exercising the backup
// command arms without a database file.
type memBackup struct {
	regions   map[capability.ID][]byte
	protected map[capability.ID]bool
	syncs     int
}

func (m *memBackup) Read(id capability.ID) ([]byte, error) {
	data, ok := m.regions[id]
	if !ok {
		return nil, errors.Errorf("no region %s", id)
	}
	return data, nil
}

func (m *memBackup) Write(id capability.ID, data []byte) error {
	if m.protected[id] {
		return capability.ErrProtected
	}
	m.regions[id] = append([]byte(nil), data...)
	return nil
}

func (m *memBackup) SyncAll() error {
	m.syncs++
	return nil
}

func backupWritePayload(id string, data []byte) []byte {
	payload := make([]byte, 8+len(data))
	copy(payload, id)
	binary.LittleEndian.PutUint32(payload[4:8], uint32(len(data)))
	copy(payload[8:], data)
	return payload
}

func TestDispatcherBackupCommands(t *testing.T) {
	r := require.New(t)

	backup := &memBackup{
		regions:   map[capability.ID][]byte{},
		protected: map[capability.ID]bool{capability.NewID("CAMS"): true},
	}

	h := newHarness(Capabilities{Backup: backup})

	blob := []byte{0x01, 0x02, 0x03, 0x04, 0x05}
	r.Equal(wire.ResultSuccess, h.request(r, "BKWR", backupWritePayload("ADBK", blob)))

	// BKRD answers with the region size, then one probe/data exchange.
	r.Equal(int32(len(blob)), h.request(r, "BKRD", []byte("ADBK")))
	r.NoError(h.master.Write(nil, 0))
	out := make([]byte, len(blob))
	r.NoError(h.master.Read(out, len(out)))
	r.Equal(blob, out)

	r.Equal(wire.ResultProtected, h.request(r, "BKWR", backupWritePayload("CAMS", blob)))
	r.Equal(wire.ResultError, h.request(r, "BKRD", []byte("NOPE")))

	r.Equal(wire.ResultSuccess, h.request(r, "BKSY", nil))
	r.Equal(1, backup.syncs)

	h.exit(r)
}

// fakeAndroidData records mount state transitions without touching real
// partitions.
type fakeAndroidData struct {
	mounted   bool
	committed bool
}

func (f *fakeAndroidData) Mount(path string) error {
	f.mounted = true
	return nil
}

func (f *fakeAndroidData) Unmount(path string, commitBackup bool) error {
	f.mounted = false
	f.committed = commitBackup
	return nil
}

func TestDispatcherAndroidDataCommands(t *testing.T) {
	r := require.New(t)

	android := &fakeAndroidData{}
	h := newHarness(Capabilities{
		AndroidData:      android,
		AndroidMountPath: "/mnt",
	})

	// AMNT answers with the path length, then one probe/path exchange.
	r.Equal(int32(4), h.request(r, "AMNT", nil))
	r.NoError(h.master.Write(nil, 0))
	path := make([]byte, 4)
	r.NoError(h.master.Read(path, 4))
	r.Equal("/mnt", string(path))
	r.True(android.mounted)

	commit := make([]byte, 4)
	binary.LittleEndian.PutUint32(commit, 1)
	r.Equal(wire.ResultSuccess, h.request(r, "AUMT", commit))
	r.False(android.mounted)
	r.True(android.committed)

	h.exit(r)
}

func TestDispatcherExecPipe(t *testing.T) {
	r := require.New(t)

	h := newHarness(Capabilities{Spawner: capability.OSProcessSpawner{}})

	r.Equal(wire.ResultSuccess, h.request(r, "EXEC", []byte("echo updater-ok")))

	// Drive the pipe rounds from the master side: nothing to send, full
	// receive window, until the slave reports its half done.
	var out []byte
	for {
		master := wire.SocketHeader{
			Status: uint32(wire.StatusTerminate),
			RxSize: wire.SocketBufferSize,
		}
		r.NoError(h.master.Write(master.Marshal(), wire.SocketHeaderSize))

		slaveWire := make([]byte, wire.SocketHeaderSize)
		r.NoError(h.master.Read(slaveWire, wire.SocketHeaderSize))
		var slave wire.SocketHeader
		r.NoError(slave.Unmarshal(slaveWire))

		if slave.Status == uint32(wire.StatusTerminate) {
			break
		}

		rxSize := master.TxSize
		if slave.RxSize < rxSize {
			rxSize = slave.RxSize
		}
		txSize := slave.TxSize
		if master.RxSize < txSize {
			txSize = master.RxSize
		}

		r.NoError(h.master.Write(nil, int(rxSize)))
		buf := make([]byte, txSize)
		r.NoError(h.master.Read(buf, int(txSize)))
		out = append(out, buf...)
	}

	r.Equal("updater-ok\n", string(out))

	h.exit(r)
}

func TestDispatcherProtocolFatal(t *testing.T) {
	r := require.New(t)

	deviceEnd, hostEnd := transfer.NewLoopback()
	d := NewDispatcher(hclog.NewNullLogger(), transfer.New(deviceEnd), Capabilities{})

	done := make(chan error, 1)
	go func() {
		done <- d.Run()
	}()

	// A frame stamped with the wrong sequence number aborts the session
	// rather than producing a response.
	var req wire.RequestFrame
	copy(req.Command[:], "TEST")
	frame := req.Marshal()

	buf := make([]byte, 4+len(frame))
	binary.LittleEndian.PutUint32(buf, 7)
	copy(buf[4:], frame)
	_, err := hostEnd.Write(buf, len(buf))
	r.NoError(err)

	err = <-done
	r.Error(err)
	r.True(errors.Is(err, transfer.ErrFatal))
}
