// Package mount manages the scoped mount/unmount stack a session
// builds up and tears down: the settings partition always, the
// Android data partition when the session mounted it at start.
package mount

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const vfatData = "posix_attr,shortname=mixed"

// Vfat mounts source at target as vfat, matching the source's
// mount_vfat (MS_NOATIME | MS_SYNCHRONOUS, posix_attr,shortname=mixed).
func Vfat(source, target string) error {
	err := unix.Mount(source, target, "vfat", unix.MS_NOATIME|unix.MS_SYNCHRONOUS, vfatData)
	return errors.Wrapf(err, "mount: vfat %s -> %s", source, target)
}

// Unmount detaches target, swallowing "not mounted" so session teardown
// can unconditionally unmount everything it may have mounted.
func Unmount(target string) error {
	err := unix.Unmount(target, 0)
	if err != nil && !errors.Is(err, unix.EINVAL) {
		return errors.Wrapf(err, "mount: unmount %s", target)
	}
	return nil
}

// Stack tracks mounts in the order they were made so Unwind can tear
// them down in reverse, the way session teardown requires.
type Stack struct {
	targets []string
}

func (s *Stack) Mount(source, target string) error {
	if err := Vfat(source, target); err != nil {
		return err
	}
	s.targets = append(s.targets, target)
	return nil
}

// Track records a mount point made by another subsystem (such as
// AndroidDataBackup.Mount) so it still unwinds in order.
func (s *Stack) Track(target string) {
	s.targets = append(s.targets, target)
}

// Unwind unmounts every tracked target in reverse order, collecting
// but not stopping on individual failures.
func (s *Stack) Unwind() []error {
	var errs []error
	for i := len(s.targets) - 1; i >= 0; i-- {
		if err := Unmount(s.targets[i]); err != nil {
			errs = append(errs, err)
		}
	}
	s.targets = nil
	return errs
}
