package capability

import (
	"bytes"
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/camfw/usbshell/pkg/mount"
	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// AndroidDataBackup mounts and unmounts the Android data partition for
// AMNT/AUMT, optional and gated by configuration.
type AndroidDataBackup interface {
	Mount(path string) error
	Unmount(path string, commitBackup bool) error
}

// S3Mirror optionally archives a committed Android-data backup blob
// offsite after AUMT commits it. Mirror failures are logged and never
// change AUMT's response: the archive is best-effort, the protocol
// contract is not.
type S3Mirror struct {
	log      hclog.Logger
	uploader *manager.Uploader
	bucket   string
}

func NewS3Mirror(log hclog.Logger, cfg aws.Config, bucket string) *S3Mirror {
	client := s3.NewFromConfig(cfg)
	return &S3Mirror{log: log, uploader: manager.NewUploader(client), bucket: bucket}
}

func (m *S3Mirror) Archive(ctx context.Context, key string, data []byte) {
	_, err := m.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		var ae smithy.APIError
		if errors.As(err, &ae) {
			m.log.Warn("android-data: offsite mirror rejected", "key", key,
				"code", ae.ErrorCode(), "message", ae.ErrorMessage())
		} else {
			m.log.Warn("android-data: offsite mirror failed", "key", key, "error", err)
		}
	}
}

// DeviceAndroidDataBackup mounts the Android data device node at the
// vfat mount helper's target. A committing unmount reads the backup
// blob from a BackupRegion and, if a mirror is set, archives it to S3;
// nothing is written back to the region.
type DeviceAndroidDataBackup struct {
	log    hclog.Logger
	devDev string
	mirror *S3Mirror
	region BackupRegion
	blobID ID
}

func NewDeviceAndroidDataBackup(log hclog.Logger, devDev string, region BackupRegion, blobID ID, mirror *S3Mirror) *DeviceAndroidDataBackup {
	return &DeviceAndroidDataBackup{log: log, devDev: devDev, region: region, blobID: blobID, mirror: mirror}
}

func (a *DeviceAndroidDataBackup) Mount(path string) error {
	err := mount.Vfat(a.devDev, path)
	if errors.Is(err, unix.EBUSY) {
		// already mounted, typically at session start
		return nil
	}
	return err
}

func (a *DeviceAndroidDataBackup) Unmount(path string, commitBackup bool) error {
	if commitBackup {
		data, err := a.region.Read(a.blobID)
		if err != nil {
			return errors.Wrap(err, "android-data: read backup blob")
		}

		if a.mirror != nil {
			a.mirror.Archive(context.Background(), path, data)
		}
	}

	return mount.Unmount(path)
}
