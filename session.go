package usbshell

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/camfw/usbshell/pkg/capability"
	"github.com/camfw/usbshell/pkg/mount"
	"github.com/camfw/usbshell/pkg/transfer"
	"github.com/hashicorp/go-hclog"
)

// Session is one complete run of the updater shell: mount the scoped
// filesystems, service the dispatcher until EXIT or a protocol-fatal
// failure, unmount in reverse order, publish the optional telemetry
// summary, and linger briefly so the host observes the final response
// before the carrier goes away. Run never reports failure to its
// caller; the loader only learns that the session terminated.
type Session struct {
	log     hclog.Logger
	cfg     *Config
	carrier transfer.Carrier
	caps    Capabilities
	pub     *TelemetryPublisher
	id      string
	linger  time.Duration
}

// NewSession wires a session over carrier. The capability set is built
// from the config; adapters whose backing cannot be opened are left
// nil, which gates their command codes off the way the source's
// build-time feature flags did.
func NewSession(carrier transfer.Carrier, options ...Option) (*Session, func()) {
	o := opts{
		log:    hclog.NewNullLogger(),
		cfg:    DefaultConfig(),
		idGen:  newSessionID,
		linger: 500 * time.Millisecond,
	}
	for _, opt := range options {
		opt(&o)
	}

	caps, closeCaps := BuildCapabilities(o.log, o.cfg)

	s := &Session{
		log:     o.log,
		cfg:     o.cfg,
		carrier: carrier,
		caps:    caps,
		pub:     o.pub,
		id:      o.idGen(),
		linger:  o.linger,
	}
	return s, closeCaps
}

// BuildCapabilities constructs the adapter set the dispatcher serves.
// Every backing is best-effort: a backup database that fails to open
// logs a warning and leaves its adapter nil rather than failing the
// session. The bootloader node is not opened here; a missing node
// makes BROM/BLDR answer -1. The returned func releases whatever was
// opened.
func BuildCapabilities(log hclog.Logger, cfg *Config) (Capabilities, func()) {
	caps := Capabilities{
		FS:               capability.OSFileSystem{},
		Spawner:          capability.OSProcessSpawner{},
		AndroidMountPath: "/mnt",
	}

	dev := cfg.Device

	caps.Info = capability.NewStaticDeviceInfo(dev.Model, dev.Product, dev.Serial, dev.Firmware)

	caps.Properties = capability.PropertyTable(capability.Identity{
		Model:        dev.Model,
		Product:      dev.Product,
		Serial:       dev.Serial,
		BackupRegion: dev.BackupRegionID,
		Firmware:     dev.Firmware,
	})

	available := map[capability.ID]bool{
		capability.TweakRecLimit:     true,
		capability.TweakRecLimit4K:   true,
		capability.TweakLanguage:     true,
		capability.TweakPalNtsc:      true,
		capability.TweakUSBInstaller: true,
		capability.TweakProtection:   true,
	}

	// The lock closes over the tweak slice so it sees the PROT entry's
	// live state even after the manifest filters the table.
	var tweaks []capability.Tweak
	lock := capability.Protector(func() error {
		for _, t := range tweaks {
			if t.ID() == capability.TweakProtection && t.IsEnabled() != 0 {
				return capability.ErrProtected
			}
		}
		return nil
	})
	tweaks = capability.TweakTable(available, lock)

	manifest, err := capability.LoadManifest(cfg.Capabilities.ManifestPath)
	if err != nil {
		log.Warn("capability manifest unreadable, serving compiled-in table",
			"path", cfg.Capabilities.ManifestPath, "error", err)
	}
	caps.Properties = manifest.FilterProperties(caps.Properties)
	tweaks = manifest.FilterTweaks(tweaks)
	caps.Tweaks = tweaks

	protected := make(map[capability.ID]bool)
	for _, id := range cfg.Capabilities.ProtectedBackupRegions {
		if len(id) == 4 {
			protected[capability.NewID(id)] = true
		}
	}

	var closers []func()

	backup, err := capability.NewBoltBackupRegion(log, dev.BackupDBPath, protected)
	if err != nil {
		log.Warn("backup region unavailable", "path", dev.BackupDBPath, "error", err)
	} else {
		caps.Backup = backup
		closers = append(closers, func() { backup.Close() })
	}

	bootloader, err := capability.NewDeviceBootloader(log, dev.BootloaderDev, dev.BootloaderBlockSize, cfg.Cache.Dir)
	if err != nil {
		log.Warn("bootloader device unavailable", "path", dev.BootloaderDev, "error", err)
	} else {
		caps.Bootloader = bootloader
	}

	if cfg.Capabilities.AndroidDataBackup && caps.Backup != nil {
		var mirror *capability.S3Mirror
		if dev.S3.Bucket != "" {
			if awsCfg, err := loadAWSConfig(dev.S3); err != nil {
				log.Warn("android-data s3 mirror unavailable", "error", err)
			} else {
				mirror = capability.NewS3Mirror(log, awsCfg, dev.S3.Bucket)
			}
		}
		caps.AndroidData = capability.NewDeviceAndroidDataBackup(
			log, dev.AndroidDataDev, caps.Backup, capability.NewID("ADBK"), mirror)
	}

	return caps, func() {
		for _, c := range closers {
			c()
		}
	}
}

func loadAWSConfig(s3cfg S3Config) (aws.Config, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(s3cfg.Region),
	}
	if s3cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s3cfg.AccessKey, s3cfg.SecretKey, "")))
	}
	return config.LoadDefaultConfig(context.Background(), opts...)
}

// Run drives the full session lifecycle. It always returns nil: the
// loader contract is that per-command and even whole-dispatcher
// failures are invisible to it, it only learns the session ended.
func (s *Session) Run() error {
	start := time.Now()
	log := s.log.With("session", s.id)

	sessionsActive.Inc()
	defer sessionsActive.Dec()

	var stack mount.Stack
	for _, m := range s.cfg.Mounts {
		if err := stack.Mount(m.Device, m.Target); err != nil {
			log.Warn("mount failed, continuing", "device", m.Device, "target", m.Target, "error", err)
		}
	}

	if s.caps.AndroidData != nil {
		if err := s.caps.AndroidData.Mount(s.caps.AndroidMountPath); err != nil {
			log.Warn("android-data mount failed, continuing", "error", err)
		} else {
			stack.Track(s.caps.AndroidMountPath)
		}
	}

	tr := transfer.New(s.carrier)
	d := NewDispatcher(log, tr, s.caps)

	termination := "exit"
	if err := d.Run(); err != nil {
		termination = "protocol-fatal"
		log.Warn("session aborted", "error", err)
	}

	for _, err := range stack.Unwind() {
		log.Warn("unmount failed", "error", err)
	}

	s.pub.Publish(SessionSummary{
		SessionID:       s.id,
		StartedAt:       start,
		Duration:        time.Since(start),
		CommandCounts:   d.CommandCounts(),
		TerminationKind: termination,
		ProtocolFatals:  uint64(counterValue("usbshell_protocol_fatal_total")),
	})

	log.Info("session complete", "termination", termination, "duration", time.Since(start))

	// Give the host time to observe the final response before the
	// endpoint disappears.
	time.Sleep(s.linger)

	return nil
}
