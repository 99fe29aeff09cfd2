package wire

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

// Wire sizes fixed by the protocol. All multi-byte integers on the
// wire are little-endian.
const (
	RequestPayloadSize = 0xFFF8
	RequestFrameSize   = 4 + RequestPayloadSize // 0xFFFC
	ResponseFrameSize  = 4

	DataMsgChunkSize = 0xFFF8
	SocketBufferSize = 0xFFF4

	ListResponseValueSize = 0xFFF4
	DeviceInfoSize        = 16 + 5 + 4 + 2 // 27
)

var byteOrder = binary.LittleEndian

// RequestFrame is the fixed-size request the device reads once per
// dispatch iteration: a four-byte command code and an opaque payload
// region whose interpretation is command-specific. Unused bytes are
// transmitted and stored verbatim.
type RequestFrame struct {
	Command CommandCode
	Payload [RequestPayloadSize]byte
}

// ResponseFrame is the fixed 4-byte response: a signed result.
type ResponseFrame struct {
	Result int32
}

func (r *ResponseFrame) Marshal() []byte {
	buf := make([]byte, ResponseFrameSize)
	byteOrder.PutUint32(buf, uint32(r.Result))
	return buf
}

func (r *RequestFrame) Marshal() []byte {
	buf := make([]byte, RequestFrameSize)
	copy(buf[:4], r.Command[:])
	copy(buf[4:], r.Payload[:])
	return buf
}

func (r *ResponseFrame) Unmarshal(buf []byte) error {
	if len(buf) != ResponseFrameSize {
		return errors.Errorf("wire: bad response frame size %d", len(buf))
	}
	r.Result = int32(byteOrder.Uint32(buf))
	return nil
}

func (r *RequestFrame) Unmarshal(buf []byte) error {
	if len(buf) != RequestFrameSize {
		return errors.Errorf("wire: bad request frame size %d", len(buf))
	}
	copy(r.Command[:], buf[:4])
	copy(r.Payload[:], buf[4:])
	return nil
}

// DataMsg carries a chunk of bulk data (file or buffer streaming): a
// size field followed by a fixed-capacity data region. Only the first
// Size bytes of Data are meaningful.
type DataMsg struct {
	Size uint32
	Data [DataMsgChunkSize]byte
}

func (d *DataMsg) Marshal() []byte {
	buf := make([]byte, 4+DataMsgChunkSize)
	byteOrder.PutUint32(buf[:4], d.Size)
	copy(buf[4:], d.Data[:])
	return buf
}

func (d *DataMsg) Unmarshal(buf []byte) error {
	if len(buf) != 4+DataMsgChunkSize {
		return errors.Errorf("wire: bad data msg size %d", len(buf))
	}
	d.Size = byteOrder.Uint32(buf[:4])
	copy(d.Data[:], buf[4:])
	return nil
}

// StatusMsg is the host-to-device signal accompanying a streaming
// exchange: status == 1 means "terminate my half" (EOF and CANCEL
// share one value).
type StatusMsg struct {
	Status int32
}

const StatusTerminate int32 = 1

func (s *StatusMsg) Marshal() []byte {
	buf := make([]byte, 4)
	byteOrder.PutUint32(buf, uint32(s.Status))
	return buf
}

func (s *StatusMsg) Unmarshal(buf []byte) error {
	if len(buf) != 4 {
		return errors.Errorf("wire: bad status msg size %d", len(buf))
	}
	s.Status = int32(byteOrder.Uint32(buf))
	return nil
}

// SocketHeader is exchanged once per round of stream_pipe_socket: how
// much each side is willing to send/receive this round, and whether
// that side has nothing further to send (status == 1).
type SocketHeader struct {
	Status uint32
	RxSize uint32
	TxSize uint32
}

const SocketHeaderSize = 12

func (h *SocketHeader) Marshal() []byte {
	buf := make([]byte, SocketHeaderSize)
	byteOrder.PutUint32(buf[0:4], h.Status)
	byteOrder.PutUint32(buf[4:8], h.RxSize)
	byteOrder.PutUint32(buf[8:12], h.TxSize)
	return buf
}

func (h *SocketHeader) Unmarshal(buf []byte) error {
	if len(buf) != SocketHeaderSize {
		return errors.Errorf("wire: bad socket header size %d", len(buf))
	}
	h.Status = byteOrder.Uint32(buf[0:4])
	h.RxSize = byteOrder.Uint32(buf[4:8])
	h.TxSize = byteOrder.Uint32(buf[8:12])
	return nil
}

// ListResponse is one entry of a PROP/TLST enumeration: the four-byte
// property/tweak id, its status word (unused for PROP, is_enabled() for
// TLST), and its NUL-padded string value.
type ListResponse struct {
	ID     CommandCode
	Status int32
	Value  [ListResponseValueSize]byte
}

func (l *ListResponse) Marshal() []byte {
	buf := make([]byte, 4+4+ListResponseValueSize)
	copy(buf[0:4], l.ID[:])
	byteOrder.PutUint32(buf[4:8], uint32(l.Status))
	copy(buf[8:], l.Value[:])
	return buf
}

func (l *ListResponse) Unmarshal(buf []byte) error {
	if len(buf) != 4+4+ListResponseValueSize {
		return errors.Errorf("wire: bad list response size %d", len(buf))
	}
	copy(l.ID[:], buf[0:4])
	l.Status = int32(byteOrder.Uint32(buf[4:8]))
	copy(l.Value[:], buf[8:])
	return nil
}

// ValueString returns the NUL-terminated string stored in the value
// region.
func (l *ListResponse) ValueString() string {
	return PayloadString(l.Value[:])
}

// SetValue NUL-pads s into the fixed value region, truncating if s is
// longer than the region (mirrors the source's strncpy semantics).
func (l *ListResponse) SetValue(s string) {
	for i := range l.Value {
		l.Value[i] = 0
	}
	copy(l.Value[:], s)
}

// TweakSetRequest is TSET's request payload.
type TweakSetRequest struct {
	ID     CommandCode
	Enable int32
}

func ParseTweakSetRequest(payload []byte) TweakSetRequest {
	var req TweakSetRequest
	copy(req.ID[:], payload[0:4])
	req.Enable = int32(byteOrder.Uint32(payload[4:8]))
	return req
}

// BackupReadRequest is BKRD's request payload.
type BackupReadRequest struct {
	ID CommandCode
}

func ParseBackupReadRequest(payload []byte) BackupReadRequest {
	var req BackupReadRequest
	copy(req.ID[:], payload[0:4])
	return req
}

// BackupWriteRequest is BKWR's request payload: id, declared size, and
// the data itself. Data is the remainder of the payload after id/size,
// capped by whichever of the declared size and the payload length is
// smaller.
type BackupWriteRequest struct {
	ID   CommandCode
	Size uint32
	Data []byte
}

func ParseBackupWriteRequest(payload []byte) BackupWriteRequest {
	var req BackupWriteRequest
	copy(req.ID[:], payload[0:4])
	req.Size = byteOrder.Uint32(payload[4:8])

	avail := uint32(len(payload) - 8)
	n := req.Size
	if n > avail {
		n = avail
	}
	req.Data = payload[8 : 8+n]
	return req
}

// AndroidUnmountRequest is AUMT's request payload.
type AndroidUnmountRequest struct {
	CommitBackup int32
}

func ParseAndroidUnmountRequest(payload []byte) AndroidUnmountRequest {
	return AndroidUnmountRequest{CommitBackup: int32(byteOrder.Uint32(payload[0:4]))}
}

// PayloadString reads a NUL-terminated string out of a request payload
// (used by PULL/PUSH/STAT/EXEC). If no NUL is found, the whole payload
// is treated as the string.
func PayloadString(payload []byte) string {
	if i := bytes.IndexByte(payload, 0); i >= 0 {
		return string(payload[:i])
	}
	return string(payload)
}

// DeviceInfo is INFO's fixed 27-byte response body.
type DeviceInfo struct {
	Model    [16]byte
	Product  [5]byte
	Serial   [4]byte
	Firmware [2]byte
}

func (d *DeviceInfo) Marshal() []byte {
	buf := make([]byte, DeviceInfoSize)
	copy(buf[0:16], d.Model[:])
	copy(buf[16:21], d.Product[:])
	copy(buf[21:25], d.Serial[:])
	copy(buf[25:27], d.Firmware[:])
	return buf
}
