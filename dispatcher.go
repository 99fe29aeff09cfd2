package usbshell

import (
	"os"
	"time"

	"github.com/camfw/usbshell/pkg/capability"
	"github.com/camfw/usbshell/pkg/entropy"
	"github.com/camfw/usbshell/pkg/stream"
	"github.com/camfw/usbshell/pkg/wire"
	"github.com/hashicorp/go-hclog"
	"github.com/lab47/mode"
)

// Capabilities is the set of adapters a dispatcher serves. A nil
// Backup or AndroidData makes BKRD/BKWR/BKSY or AMNT/AUMT fall through
// to the unknown-command arm, the way the source's build-time gating
// of those codes did. Any other nil adapter makes its commands answer
// -1; empty Properties or Tweaks make PROP/TLST report a count of 0.
type Capabilities struct {
	Properties  []capability.Property
	Tweaks      []capability.Tweak
	Backup      capability.BackupRegion
	Bootloader  capability.BootloaderReader
	AndroidData capability.AndroidDataBackup
	Info        capability.DeviceInfo
	FS          capability.FileSystem
	Spawner     capability.ProcessSpawner

	// AndroidMountPath is the path AMNT reports back to the host,
	// normally /mnt.
	AndroidMountPath string
}

// Dispatcher reads one request per iteration, acts, writes one
// response, optionally drives a streaming sub-protocol, and loops
// until EXIT. It is strictly sequential: at most one command in
// flight, and within a command at most one stream active.
type Dispatcher struct {
	log  hclog.Logger
	tr   stream.Transfer
	caps Capabilities

	counts map[string]int
}

func NewDispatcher(log hclog.Logger, tr stream.Transfer, caps Capabilities) *Dispatcher {
	return &Dispatcher{
		log:    log,
		tr:     tr,
		caps:   caps,
		counts: make(map[string]int),
	}
}

// CommandCounts returns how many requests were dispatched per command
// code, for the session-summary telemetry message.
func (d *Dispatcher) CommandCounts() map[string]int {
	return d.counts
}

// Run services requests until EXIT or a protocol-fatal error.
// Per-command failures never surface here: they are folded into
// response codes, and only sequence/transport failures (or a failure
// inside an in-progress stream) return an error.
func (d *Dispatcher) Run() error {
	reqWire := make([]byte, wire.RequestFrameSize)

	for {
		if err := d.tr.Read(reqWire, wire.RequestFrameSize); err != nil {
			protocolFatalTotal.Inc()
			return err
		}

		var req wire.RequestFrame
		if err := req.Unmarshal(reqWire); err != nil {
			protocolFatalTotal.Inc()
			return err
		}

		cmd := req.Command.String()
		d.counts[cmd]++
		dispatchTotal.WithLabelValues(cmd).Inc()
		d.log.Debug("dispatching command", "command", cmd)

		if mode.Debug() {
			d.log.Trace("request payload head",
				"command", cmd,
				"payload", hclog.Fmt("% x", req.Payload[:16]))
		}

		done, err := d.dispatch(&req)
		if err != nil {
			protocolFatalTotal.Inc()
			return err
		}
		if done {
			return nil
		}
	}
}

func (d *Dispatcher) respond(result int32) error {
	resp := wire.ResponseFrame{Result: result}
	buf := resp.Marshal()
	return d.tr.Write(buf, len(buf))
}

// respondErr maps a capability error to the result taxonomy and
// bumps the protection counter when the distinct -2 arm fires.
func (d *Dispatcher) respondErr(cmd wire.CommandCode, err error) error {
	result := resultFor(err)
	if result == wire.ResultProtected {
		protectionViolationTotal.WithLabelValues(cmd.String()).Inc()
	}
	return d.respond(result)
}

// dispatch handles one request. The returned bool is true only for
// EXIT; the returned error only for protocol-fatal failures.
func (d *Dispatcher) dispatch(req *wire.RequestFrame) (bool, error) {
	switch req.Command {
	case wire.CmdTest:
		return false, d.respond(wire.ResultSuccess)

	case wire.CmdExit:
		return true, d.respond(wire.ResultSuccess)

	case wire.CmdProp:
		return false, d.listProperties()

	case wire.CmdTlst:
		return false, d.listTweaks()

	case wire.CmdTset:
		return false, d.setTweak(req)

	case wire.CmdShel:
		return false, d.shell()

	case wire.CmdExec:
		return false, d.exec(req)

	case wire.CmdPull:
		return false, d.pull(req)

	case wire.CmdPush:
		return false, d.push(req)

	case wire.CmdStat:
		return false, d.stat(req)

	case wire.CmdBrom:
		return false, d.readROM()

	case wire.CmdBldr:
		return false, d.readBootloaderBlocks()

	case wire.CmdBkrd:
		if d.caps.Backup == nil {
			break
		}
		return false, d.backupRead(req)

	case wire.CmdBkwr:
		if d.caps.Backup == nil {
			break
		}
		return false, d.backupWrite(req)

	case wire.CmdBksy:
		if d.caps.Backup == nil {
			break
		}
		return false, d.backupSync()

	case wire.CmdAmnt:
		if d.caps.AndroidData == nil {
			break
		}
		return false, d.androidMount()

	case wire.CmdAumt:
		if d.caps.AndroidData == nil {
			break
		}
		return false, d.androidUnmount(req)

	case wire.CmdInfo:
		return false, d.deviceInfo()
	}

	d.log.Warn("unknown command", "command", req.Command.String())
	return false, d.respond(wire.ResultError)
}

// listProperties implements PROP: count available entries, then emit
// one probe/list-response pair per entry in table order.
func (d *Dispatcher) listProperties() error {
	var avail []capability.Property
	for _, p := range d.caps.Properties {
		if p.IsAvailable() {
			avail = append(avail, p)
		}
	}

	if err := d.respond(int32(len(avail))); err != nil {
		return err
	}

	for _, p := range avail {
		if err := d.tr.Read(nil, 0); err != nil {
			return err
		}

		entry := wire.ListResponse{ID: wire.CommandCode(p.ID())}
		entry.SetValue(p.StringValue())
		buf := entry.Marshal()
		if err := d.tr.Write(buf, len(buf)); err != nil {
			return err
		}
	}

	return nil
}

// listTweaks implements TLST: as PROP, with status = is_enabled().
func (d *Dispatcher) listTweaks() error {
	var avail []capability.Tweak
	for _, t := range d.caps.Tweaks {
		if t.IsAvailable() {
			avail = append(avail, t)
		}
	}

	if err := d.respond(int32(len(avail))); err != nil {
		return err
	}

	for _, t := range avail {
		if err := d.tr.Read(nil, 0); err != nil {
			return err
		}

		entry := wire.ListResponse{
			ID:     wire.CommandCode(t.ID()),
			Status: int32(t.IsEnabled()),
		}
		entry.SetValue(t.StringValue())
		buf := entry.Marshal()
		if err := d.tr.Write(buf, len(buf)); err != nil {
			return err
		}
	}

	return nil
}

func (d *Dispatcher) setTweak(req *wire.RequestFrame) error {
	set := wire.ParseTweakSetRequest(req.Payload[:])

	for _, t := range d.caps.Tweaks {
		if capability.ID(set.ID) == t.ID() && t.IsAvailable() {
			return d.respondErr(req.Command, t.SetEnabled(set.Enable != 0))
		}
	}

	return d.respond(wire.ResultError)
}

func (d *Dispatcher) shell() error {
	if d.caps.Spawner == nil {
		return d.respond(wire.ResultError)
	}

	pid, stdin, stdout, err := d.caps.Spawner.Spawn([]string{"sh", "-i"})
	if err != nil {
		d.log.Warn("shell spawn failed", "error", err)
		return d.respond(wire.ResultError)
	}

	d.log.Info("interactive shell started", "pid", pid)
	if err := d.respond(wire.ResultSuccess); err != nil {
		stdin.Close()
		stdout.Close()
		return err
	}

	return d.streamPipe(wire.CmdShel, stdin, stdout)
}

func (d *Dispatcher) exec(req *wire.RequestFrame) error {
	if d.caps.Spawner == nil {
		return d.respond(wire.ResultError)
	}

	command := wire.PayloadString(req.Payload[:])

	pid, stdin, stdout, err := d.caps.Spawner.Spawn([]string{"sh", "-c", command})
	if err != nil {
		d.log.Warn("exec spawn failed", "command", command, "error", err)
		return d.respond(wire.ResultError)
	}

	// EXEC never feeds the child input: close our write end now so the
	// child sees EOF immediately, and run the pipe with no stdin half.
	if stdin != nil {
		stdin.Close()
	}

	d.log.Info("one-shot command started", "pid", pid, "command", command)
	if err := d.respond(wire.ResultSuccess); err != nil {
		stdout.Close()
		return err
	}

	return d.streamPipe(wire.CmdExec, nil, stdout)
}

func (d *Dispatcher) pull(req *wire.RequestFrame) error {
	if d.caps.FS == nil {
		return d.respond(wire.ResultError)
	}

	path := wire.PayloadString(req.Payload[:])

	f, err := d.caps.FS.OpenRead(path)
	if err != nil {
		d.log.Warn("pull open failed", "path", path, "error", err)
		return d.respond(wire.ResultError)
	}
	defer f.Close()

	size, err := d.caps.FS.FileSize(path)
	if err != nil {
		return d.respond(wire.ResultError)
	}

	if err := d.respond(int32(size)); err != nil {
		return err
	}

	diag := entropy.NewStrided(entropy.DefaultStride)
	mt := &meteredTransfer{Transfer: d.tr}
	start := time.Now()

	if err := stream.FDToHost(mt, f, diag); err != nil {
		return err
	}

	d.observeStream(wire.CmdPull, mt.bytes, start, diag)
	return nil
}

func (d *Dispatcher) push(req *wire.RequestFrame) error {
	if d.caps.FS == nil {
		return d.respond(wire.ResultError)
	}

	path := wire.PayloadString(req.Payload[:])

	f, err := d.caps.FS.OpenWriteCreateTrunc(path)
	if err != nil {
		d.log.Warn("push open failed", "path", path, "error", err)
		return d.respond(wire.ResultError)
	}
	defer f.Close()

	if err := d.respond(wire.ResultSuccess); err != nil {
		return err
	}

	mt := &meteredTransfer{Transfer: d.tr}
	start := time.Now()

	if err := stream.HostToFD(mt, f); err != nil {
		return err
	}

	d.observeStream(wire.CmdPush, mt.bytes, start, nil)
	return nil
}

func (d *Dispatcher) stat(req *wire.RequestFrame) error {
	if d.caps.FS == nil {
		return d.respond(wire.ResultError)
	}

	size, err := d.caps.FS.FileSize(wire.PayloadString(req.Payload[:]))
	if err != nil {
		return d.respond(wire.ResultError)
	}
	return d.respond(int32(size))
}

func (d *Dispatcher) readROM() error {
	if d.caps.Bootloader == nil {
		return d.respond(wire.ResultError)
	}

	rom, err := d.caps.Bootloader.ReadROM()
	if err != nil {
		d.log.Warn("bootloader rom read failed", "error", err)
		return d.respond(wire.ResultError)
	}

	if err := d.respond(int32(len(rom))); err != nil {
		return err
	}

	diag := entropy.NewStrided(entropy.DefaultStride)
	mt := &meteredTransfer{Transfer: d.tr}
	start := time.Now()

	if err := stream.BufferToHost(mt, rom, diag); err != nil {
		return err
	}

	d.observeStream(wire.CmdBrom, mt.bytes, start, diag)
	return nil
}

// readBootloaderBlocks implements BLDR. A get_blocks failure yields a
// -1 response with no per-block streams; a per-block read failure
// streams an empty buffer (lone terminator frame) for that slot and
// continues.
func (d *Dispatcher) readBootloaderBlocks() error {
	if d.caps.Bootloader == nil {
		return d.respond(wire.ResultError)
	}

	h, err := d.caps.Bootloader.Open()
	if err != nil {
		d.log.Warn("bootloader open failed", "error", err)
		return d.respond(wire.ResultError)
	}
	defer h.Close()

	blocks, err := h.Blocks()
	if err != nil {
		d.log.Warn("bootloader block enumeration failed", "error", err)
		return d.respond(wire.ResultError)
	}

	if err := d.respond(int32(len(blocks))); err != nil {
		return err
	}

	diag := entropy.NewStrided(entropy.DefaultStride)
	mt := &meteredTransfer{Transfer: d.tr}
	start := time.Now()

	for _, blk := range blocks {
		data, err := h.ReadBlock(blk)
		if err != nil {
			d.log.Warn("bootloader block read failed", "block", blk.Index, "error", err)
			data = nil
		}

		if err := stream.BufferToHost(mt, data, diag); err != nil {
			return err
		}
	}

	d.observeStream(wire.CmdBldr, mt.bytes, start, diag)
	return nil
}

// backupRead implements BKRD: one probe/data exchange, no multi-chunk
// framing. The region must fit in a single frame.
func (d *Dispatcher) backupRead(req *wire.RequestFrame) error {
	parsed := wire.ParseBackupReadRequest(req.Payload[:])

	data, err := d.caps.Backup.Read(capability.ID(parsed.ID))
	if err != nil {
		d.log.Warn("backup read failed", "region", parsed.ID.String(), "error", err)
		return d.respond(wire.ResultError)
	}

	if err := d.respond(int32(len(data))); err != nil {
		return err
	}

	if err := d.tr.Read(nil, 0); err != nil {
		return err
	}
	return d.tr.Write(data, len(data))
}

func (d *Dispatcher) backupWrite(req *wire.RequestFrame) error {
	parsed := wire.ParseBackupWriteRequest(req.Payload[:])
	return d.respondErr(req.Command, d.caps.Backup.Write(capability.ID(parsed.ID), parsed.Data))
}

func (d *Dispatcher) backupSync() error {
	if err := d.caps.Backup.SyncAll(); err != nil {
		d.log.Warn("backup sync failed", "error", err)
	}
	return d.respond(wire.ResultSuccess)
}

// androidMount implements AMNT: respond with the mount path length,
// then one probe/path exchange.
func (d *Dispatcher) androidMount() error {
	path := d.caps.AndroidMountPath

	if err := d.caps.AndroidData.Mount(path); err != nil {
		d.log.Warn("android-data mount failed", "path", path, "error", err)
		return d.respond(wire.ResultError)
	}

	if err := d.respond(int32(len(path))); err != nil {
		return err
	}

	if err := d.tr.Read(nil, 0); err != nil {
		return err
	}
	return d.tr.Write([]byte(path), len(path))
}

func (d *Dispatcher) androidUnmount(req *wire.RequestFrame) error {
	parsed := wire.ParseAndroidUnmountRequest(req.Payload[:])

	err := d.caps.AndroidData.Unmount(d.caps.AndroidMountPath, parsed.CommitBackup != 0)
	if err != nil {
		d.log.Warn("android-data unmount failed", "error", err)
		return d.respond(wire.ResultError)
	}
	return d.respond(wire.ResultSuccess)
}

func (d *Dispatcher) deviceInfo() error {
	if d.caps.Info == nil {
		return d.respond(wire.ResultError)
	}

	rec := d.caps.Info.Record()

	if err := d.respond(wire.ResultSuccess); err != nil {
		return err
	}

	if err := d.tr.Read(nil, 0); err != nil {
		return err
	}
	buf := rec.Marshal()
	return d.tr.Write(buf, len(buf))
}

func (d *Dispatcher) streamPipe(cmd wire.CommandCode, stdin, stdout *os.File) error {
	mt := &meteredTransfer{Transfer: d.tr}
	start := time.Now()

	if err := stream.StreamPipeSocket(mt, stdin, stdout); err != nil {
		return err
	}

	d.observeStream(cmd, mt.bytes, start, nil)
	return nil
}

func (d *Dispatcher) observeStream(cmd wire.CommandCode, bytes int64, start time.Time, diag entropy.Estimator) {
	streamBytesTotal.WithLabelValues(cmd.String()).Add(float64(bytes))
	streamDuration.WithLabelValues(cmd.String()).Observe(time.Since(start).Seconds())

	if diag != nil && diag.Samples() > 0 {
		d.log.Trace("stream entropy", "command", cmd.String(),
			"bits_per_byte", diag.Value(), "samples", diag.Samples())
	}
}

// meteredTransfer counts bytes crossing the carrier in both directions
// of one streaming exchange, for the stream byte counter.
type meteredTransfer struct {
	stream.Transfer
	bytes int64
}

func (m *meteredTransfer) Read(out []byte, n int) error {
	err := m.Transfer.Read(out, n)
	if err == nil {
		m.bytes += int64(n)
	}
	return err
}

func (m *meteredTransfer) Write(in []byte, n int) error {
	err := m.Transfer.Write(in, n)
	if err == nil {
		m.bytes += int64(n)
	}
	return err
}
