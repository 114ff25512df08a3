/* USB virtualization bridge - host side
 *
 * Bulk-only mass-storage transport: Command Block Wrapper / Command
 * Status Wrapper framing built strictly on the bridge's guest-visible
 * surface (claim_interface, new_transfer, submit_transfer,
 * await_transfer). This package never reaches into internal/libusb
 * or internal/bridge's tables directly - it proves that surface is
 * sufficient for a real class driver. It is a demonstration
 * transport, not a SCSI command interpreter: callers supply and
 * parse the CDB/data/sense bytes themselves.
 */

package msc

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/usbbridge/hostbridge/internal/bridge"
)

const (
	cbwSignature = 0x43425355 // "USBC"
	cswSignature = 0x53425355 // "USBS"

	cbwLength = 31
	cswLength = 13

	// DirectionOut and DirectionIn select CBW.Flags' data-transfer
	// direction bit (bit 7; bits 0-6 are reserved).
	DirectionOut = 0x00
	DirectionIn  = 0x80
)

// CBW is a bulk-only Command Block Wrapper.
type CBW struct {
	Tag           uint32
	DataLength    uint32
	Flags         uint8 // DirectionOut or DirectionIn
	LUN           uint8
	CommandLength uint8 // 1..16, number of meaningful bytes in Command
	Command       [16]byte
}

// Marshal encodes cbw into the 31-byte wire form.
func (cbw CBW) Marshal() []byte {
	buf := make([]byte, cbwLength)
	binary.LittleEndian.PutUint32(buf[0:4], cbwSignature)
	binary.LittleEndian.PutUint32(buf[4:8], cbw.Tag)
	binary.LittleEndian.PutUint32(buf[8:12], cbw.DataLength)
	buf[12] = cbw.Flags
	buf[13] = cbw.LUN & 0x0f
	buf[14] = cbw.CommandLength & 0x1f
	copy(buf[15:31], cbw.Command[:])
	return buf
}

// UnmarshalCBW decodes a 31-byte Command Block Wrapper.
func UnmarshalCBW(buf []byte) (CBW, error) {
	if len(buf) != cbwLength {
		return CBW{}, fmt.Errorf("msc: cbw: want %d bytes, got %d", cbwLength, len(buf))
	}
	if sig := binary.LittleEndian.Uint32(buf[0:4]); sig != cbwSignature {
		return CBW{}, fmt.Errorf("msc: cbw: bad signature %#08x", sig)
	}

	var cbw CBW
	cbw.Tag = binary.LittleEndian.Uint32(buf[4:8])
	cbw.DataLength = binary.LittleEndian.Uint32(buf[8:12])
	cbw.Flags = buf[12]
	cbw.LUN = buf[13] & 0x0f
	cbw.CommandLength = buf[14] & 0x1f
	copy(cbw.Command[:], buf[15:31])
	return cbw, nil
}

// CSWStatus is the bulk-only command status code.
type CSWStatus uint8

// CSWStatus values.
const (
	StatusPassed     CSWStatus = 0
	StatusFailed     CSWStatus = 1
	StatusPhaseError CSWStatus = 2
)

// CSW is a bulk-only Command Status Wrapper.
type CSW struct {
	Tag      uint32
	Residue  uint32
	Status   CSWStatus
}

// Marshal encodes csw into the 13-byte wire form.
func (csw CSW) Marshal() []byte {
	buf := make([]byte, cswLength)
	binary.LittleEndian.PutUint32(buf[0:4], cswSignature)
	binary.LittleEndian.PutUint32(buf[4:8], csw.Tag)
	binary.LittleEndian.PutUint32(buf[8:12], csw.Residue)
	buf[12] = byte(csw.Status)
	return buf
}

// UnmarshalCSW decodes a 13-byte Command Status Wrapper.
func UnmarshalCSW(buf []byte) (CSW, error) {
	if len(buf) != cswLength {
		return CSW{}, fmt.Errorf("msc: csw: want %d bytes, got %d", cswLength, len(buf))
	}
	if sig := binary.LittleEndian.Uint32(buf[0:4]); sig != cswSignature {
		return CSW{}, fmt.Errorf("msc: csw: bad signature %#08x", sig)
	}

	return CSW{
		Tag:     binary.LittleEndian.Uint32(buf[4:8]),
		Residue: binary.LittleEndian.Uint32(buf[8:12]),
		Status:  CSWStatus(buf[12]),
	}, nil
}

// Device drives the bulk-only transport over a bridge handle already
// opened and configured by the caller (claim_interface on the mass
// storage interface is the caller's responsibility, same as real
// class drivers layered over a generic USB stack).
type Device struct {
	bus     *bridge.Bridge
	handle  bridge.HandleRef
	epOut   uint8
	epIn    uint8
	nextTag uint32
}

// NewDevice wraps an opened, interface-claimed handle for bulk-only
// transport over the given OUT/IN bulk endpoint pair.
func NewDevice(bus *bridge.Bridge, handle bridge.HandleRef, epOut, epIn uint8) *Device {
	return &Device{bus: bus, handle: handle, epOut: epOut, epIn: epIn, nextTag: 1}
}

// Command runs one bulk-only transaction: send the CBW, transfer
// data (if any) in the direction the command specifies, then read
// back the CSW and confirm its tag matches. dataLen is the data
// stage's length (for an IN command, the byte count to receive);
// data is the buffer to send for an OUT command and is ignored for
// IN. The received payload (empty for OUT) is returned alongside the
// CSW.
func (d *Device) Command(ctx context.Context, cmd []byte, lun uint8, dataLen uint32, direction uint8, data []byte) ([]byte, CSW, error) {
	if len(cmd) == 0 || len(cmd) > 16 {
		return nil, CSW{}, fmt.Errorf("msc: command length must be 1..16, got %d", len(cmd))
	}

	tag := d.nextTag
	d.nextTag++

	cbw := CBW{
		Tag:           tag,
		DataLength:    dataLen,
		Flags:         direction,
		LUN:           lun & 0x0f,
		CommandLength: uint8(len(cmd)),
	}
	copy(cbw.Command[:], cmd)

	if err := d.bulkOut(ctx, cbw.Marshal()); err != nil {
		return nil, CSW{}, fmt.Errorf("msc: cbw: %w", err)
	}

	var payload []byte
	if dataLen > 0 {
		var err error
		if direction == DirectionIn {
			payload, err = d.bulkIn(ctx, int(dataLen))
		} else {
			err = d.bulkOut(ctx, data)
		}
		if err != nil {
			return nil, CSW{}, fmt.Errorf("msc: data stage: %w", err)
		}
	}

	cswBuf, err := d.bulkIn(ctx, cswLength)
	if err != nil {
		return payload, CSW{}, fmt.Errorf("msc: csw: %w", err)
	}

	csw, err := UnmarshalCSW(cswBuf)
	if err != nil {
		return payload, CSW{}, err
	}
	if csw.Tag != tag {
		return payload, csw, fmt.Errorf("msc: csw tag mismatch: sent %d, got %d", tag, csw.Tag)
	}

	return payload, csw, nil
}

func (d *Device) bulkOut(ctx context.Context, data []byte) error {
	ref, err := d.bus.NewTransfer(d.handle, bridge.NewTransferOptions{
		Type:      bridge.TransferBulk,
		Endpoint:  d.epOut,
		BufSize:   len(data),
		TimeoutMs: 5000,
	})
	if err != nil {
		return err
	}
	if err := d.bus.SubmitTransfer(ref, data); err != nil {
		d.bus.CancelTransfer(ref)
		d.bus.AwaitTransfer(ctx, ref)
		return err
	}
	_, err = d.bus.AwaitTransfer(ctx, ref)
	return err
}

func (d *Device) bulkIn(ctx context.Context, n int) ([]byte, error) {
	ref, err := d.bus.NewTransfer(d.handle, bridge.NewTransferOptions{
		Type:      bridge.TransferBulk,
		Endpoint:  d.epIn,
		BufSize:   n,
		TimeoutMs: 5000,
	})
	if err != nil {
		return nil, err
	}
	if err := d.bus.SubmitTransfer(ref, nil); err != nil {
		d.bus.CancelTransfer(ref)
		d.bus.AwaitTransfer(ctx, ref)
		return nil, err
	}
	return d.bus.AwaitTransfer(ctx, ref)
}
