package capability

import "github.com/camfw/usbshell/pkg/wire"

// DeviceInfo provides INFO's fixed 27-byte response body.
type DeviceInfo interface {
	Record() wire.DeviceInfo
}

type staticDeviceInfo struct {
	rec wire.DeviceInfo
}

// NewStaticDeviceInfo builds a DeviceInfo from plain strings,
// NUL-padding and truncating each field to its fixed wire width.
func NewStaticDeviceInfo(model, product, serial, firmware string) DeviceInfo {
	var rec wire.DeviceInfo
	copy(rec.Model[:], model)
	copy(rec.Product[:], product)
	copy(rec.Serial[:], serial)
	copy(rec.Firmware[:], firmware)
	return &staticDeviceInfo{rec: rec}
}

func (d *staticDeviceInfo) Record() wire.DeviceInfo {
	return d.rec
}
