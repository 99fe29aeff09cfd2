package usbshell

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/camfw/usbshell/pkg/capability"
	"github.com/camfw/usbshell/pkg/transfer"
	"github.com/camfw/usbshell/pkg/wire"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *Config {
	dir := t.TempDir()

	cfg := DefaultConfig()
	cfg.Mounts = nil
	cfg.Device.Model = "ILCE-7M4"
	cfg.Device.Product = "WW350"
	cfg.Device.Serial = "0001"
	cfg.Device.Firmware = "2.00"
	cfg.Device.BackupDBPath = filepath.Join(dir, "backup.db")
	cfg.Device.BootloaderDev = filepath.Join(dir, "bootloader.bin")
	cfg.Capabilities.ManifestPath = filepath.Join(dir, "capabilities.cbor")
	cfg.Cache.Dir = filepath.Join(dir, "cache")
	return cfg
}

func TestBuildCapabilities(t *testing.T) {
	r := require.New(t)

	cfg := testConfig(t)
	cfg.Capabilities.ProtectedBackupRegions = []string{"CAMS"}

	caps, closeCaps := BuildCapabilities(hclog.NewNullLogger(), cfg)
	defer closeCaps()

	r.NotNil(caps.Backup)
	r.NotNil(caps.Bootloader)
	r.Nil(caps.AndroidData)
	r.Len(caps.Properties, 5)
	r.Len(caps.Tweaks, 6)

	// The PROT tweak locks every other tweak once enabled.
	prot := caps.Tweaks[5]
	r.Equal(capability.TweakProtection, prot.ID())
	r.NoError(prot.SetEnabled(true))
	err := caps.Tweaks[0].SetEnabled(true)
	r.True(capability.IsProtected(err))
	r.NoError(prot.SetEnabled(false))
	r.NoError(caps.Tweaks[0].SetEnabled(true))

	// Protected backup regions reject writes, the rest round-trip.
	err = caps.Backup.Write(capability.NewID("CAMS"), []byte{1})
	r.True(capability.IsProtected(err))

	r.NoError(caps.Backup.Write(capability.NewID("ADBK"), []byte{1, 2, 3}))
	data, err := caps.Backup.Read(capability.NewID("ADBK"))
	r.NoError(err)
	r.Equal([]byte{1, 2, 3}, data)
}

func TestSessionLoopback(t *testing.T) {
	r := require.New(t)

	deviceEnd, hostEnd := transfer.NewLoopback()

	s, closeCaps := NewSession(deviceEnd,
		WithConfig(testConfig(t)),
		WithLinger(0),
		WithSessionIDGen(func() string { return "loopback-test" }),
	)
	defer closeCaps()

	done := make(chan error, 1)
	go func() {
		done <- s.Run()
	}()

	master := transfer.NewMaster(hostEnd)

	roundTrip := func(cmd string) int32 {
		var req wire.RequestFrame
		copy(req.Command[:], cmd)
		buf := req.Marshal()
		r.NoError(master.Write(buf, len(buf)))

		respWire := make([]byte, wire.ResponseFrameSize)
		r.NoError(master.Read(respWire, wire.ResponseFrameSize))

		var resp wire.ResponseFrame
		r.NoError(resp.Unmarshal(respWire))
		return resp.Result
	}

	r.Equal(wire.ResultSuccess, roundTrip("TEST"))

	// INFO carries a probe/record exchange after its response.
	r.Equal(wire.ResultSuccess, roundTrip("INFO"))
	r.NoError(master.Write(nil, 0))
	rec := make([]byte, wire.DeviceInfoSize)
	r.NoError(master.Read(rec, wire.DeviceInfoSize))
	r.Equal([]byte("ILCE-7M4"), rec[:8])

	r.Equal(wire.ResultSuccess, roundTrip("EXIT"))

	select {
	case err := <-done:
		r.NoError(err)
	case <-time.After(5 * time.Second):
		t.Fatal("session did not terminate after EXIT")
	}
}

func TestSessionSurvivesProtocolFatal(t *testing.T) {
	r := require.New(t)

	deviceEnd, hostEnd := transfer.NewLoopback()

	s, closeCaps := NewSession(deviceEnd, WithConfig(testConfig(t)), WithLinger(0))
	defer closeCaps()

	done := make(chan error, 1)
	go func() {
		done <- s.Run()
	}()

	// Tearing down the host half mid-session aborts the dispatcher, but
	// the session still reports a clean termination to its caller.
	r.NoError(hostEnd.Close())

	select {
	case err := <-done:
		r.NoError(err)
	case <-time.After(5 * time.Second):
		t.Fatal("session did not terminate after carrier loss")
	}
}

func TestTelemetryPublisherNilSafe(t *testing.T) {
	var pub *TelemetryPublisher
	pub.Publish(SessionSummary{SessionID: "x", TerminationKind: "exit"})
}
