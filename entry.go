package usbshell

import (
	"os"

	"github.com/hashicorp/go-hclog"
)

// DefaultConfigPath is where a deployment drops its usbshell.hcl; its
// absence means compiled-in defaults.
const DefaultConfigPath = "/etc/usbshell.hcl"

// Body is the payload object the firmware-update executor drives: it
// obtains one via GetBody, calls Execute, then ReleaseBody. Every
// parameter the executor passes is ignored, and Execute reports
// success unconditionally; the executor only ever learns that the
// shell session ran to termination.
type Body struct {
	log hclog.Logger
	cfg *Config
}

// GetBody builds the updater payload. flag, updateMode, and
// firmwareInfo come from the executor's update container and carry no
// meaning for the shell.
func GetBody(flag uint32, updateMode uint32, firmwareInfo []byte) *Body {
	level := hclog.Info
	if os.Getenv("USBSHELL_DEBUG") != "" {
		level = hclog.Trace
	}

	log := hclog.New(&hclog.LoggerOptions{
		Name:  "usbshell",
		Level: level,
	})

	cfg, err := LoadConfig(DefaultConfigPath)
	if err != nil {
		log.Warn("config unreadable, using defaults", "path", DefaultConfigPath, "error", err)
		cfg = DefaultConfig()
	}

	return &Body{log: log, cfg: cfg}
}

// Execute opens the vendor control node and runs one shell session
// over it. ringbuf and progress are part of the executor contract and
// ignored. The return value is always 0: per-command and even
// whole-session failures are invisible to the executor.
func (b *Body) Execute(ringbuf []byte, progress func(percent int)) int32 {
	carrier, err := OpenVendorCarrier(b.cfg.Device.ControlNode)
	if err != nil {
		b.log.Error("vendor control node unavailable", "path", b.cfg.Device.ControlNode, "error", err)
		return 0
	}

	var pub *TelemetryPublisher
	if b.cfg.Telemetry.NATSURL != "" {
		pub = NewTelemetryPublisher(b.log, b.cfg.Telemetry.NATSURL)
	}

	session, closeCaps := NewSession(carrier,
		WithLogger(b.log),
		WithConfig(b.cfg),
		WithTelemetry(pub),
	)

	session.Run()

	closeCaps()
	carrier.Close()

	return 0
}

// ReleaseBody drops the payload. Nothing outlives Execute, so there is
// nothing to tear down beyond letting the object go.
func ReleaseBody(b *Body) {}
