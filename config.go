package usbshell

import (
	"os"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsimple"
)

// Config is the usbshell.hcl document. Its absence is not an error:
// DefaultConfig supplies the compiled-in defaults.
type Config struct {
	Mounts        []MountConfig       `hcl:"mount,block"`
	Capabilities  CapabilitiesConfig  `hcl:"capabilities,block"`
	Cache         CacheConfig         `hcl:"cache,block"`
	Telemetry     TelemetryConfig     `hcl:"telemetry,block"`
	Device        DeviceConfig        `hcl:"device,block"`
	Metrics       MetricsConfig       `hcl:"metrics,block"`
}

type MountConfig struct {
	Name   string `hcl:"name,label"`
	Device string `hcl:"device"`
	Target string `hcl:"target"`
	FSType string `hcl:"fstype,optional"`
}

type CapabilitiesConfig struct {
	AndroidDataBackup      bool     `hcl:"android_data_backup,optional"`
	ManifestPath           string   `hcl:"manifest_path,optional"`
	ProtectedBackupRegions []string `hcl:"protected_backup_regions,optional"`
}

type CacheConfig struct {
	Dir string `hcl:"dir,optional"`
}

type TelemetryConfig struct {
	NATSURL string `hcl:"nats_url,optional"`
}

type S3Config struct {
	Bucket    string `hcl:"bucket,optional"`
	Region    string `hcl:"region,optional"`
	AccessKey string `hcl:"access_key,optional"`
	SecretKey string `hcl:"secret_key,optional"`
	URL       string `hcl:"host,optional"`
}

type DeviceConfig struct {
	ControlNode         string   `hcl:"control_node,optional"`
	Model               string   `hcl:"model,optional"`
	Product             string   `hcl:"product,optional"`
	Serial              string   `hcl:"serial,optional"`
	Firmware            string   `hcl:"firmware,optional"`
	BackupRegionID      string   `hcl:"backup_region_id,optional"`
	BackupDBPath        string   `hcl:"backup_db_path,optional"`
	BootloaderDev       string   `hcl:"bootloader_dev,optional"`
	BootloaderBlockSize int      `hcl:"bootloader_block_size,optional"`
	AndroidDataDev       string  `hcl:"android_data_dev,optional"`
	S3                   S3Config `hcl:"s3,block"`
}

type MetricsConfig struct {
	ListenAddr string `hcl:"listen_addr,optional"`
}

// DefaultConfig carries the compiled-in defaults of the target
// platform: the settings partition mount, bootloader device node, and
// device-identity placeholders a real build overrides per unit.
func DefaultConfig() *Config {
	return &Config{
		Mounts: []MountConfig{
			{Name: "setting", Device: "/dev/nflasha2", Target: "/setting", FSType: "vfat"},
		},
		Cache: CacheConfig{Dir: "/var/cache/usbshell"},
		Device: DeviceConfig{
			ControlNode:         "/dev/usb_feature23",
			BootloaderDev:       "/dev/bootloader0",
			BootloaderBlockSize: 4096,
			AndroidDataDev:      "/dev/nflasha3",
			BackupDBPath:        "/setting/updater/backup.db",
		},
		Capabilities: CapabilitiesConfig{
			ManifestPath: "/setting/updater/capabilities.cbor",
		},
	}
}

// LoadConfig decodes path as HCL, falling back to DefaultConfig if the
// file does not exist.
func LoadConfig(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	var (
		ctx hcl.EvalContext
		cfg Config
	)

	if err := hclsimple.DecodeFile(path, &ctx, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
