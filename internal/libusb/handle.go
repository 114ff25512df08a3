/* USB virtualization bridge - host side
 *
 * Device handle operations: open, configuration, interface
 * claiming, kernel-driver arbitration, streams, reset and close.
 * Each is a thin, synchronous pass-through to libusb.
 */

package libusb

// #cgo pkg-config: libusb-1.0
// #include <stdlib.h>
// #include <libusb.h>
import "C"

import (
	"unsafe"
)

// DeviceHandle wraps an opened libusb_device_handle.
type DeviceHandle struct {
	ptr    *C.libusb_device_handle
	closed bool
}

// Open opens d for I/O.
func (d *Device) Open() (*DeviceHandle, error) {
	var h *C.libusb_device_handle
	rc := C.libusb_open(d.ptr, &h)
	if rc != 0 {
		return nil, newErr("libusb_open", rc)
	}
	return &DeviceHandle{ptr: h}, nil
}

// Close closes the handle. Idempotent.
func (h *DeviceHandle) Close() {
	if h.closed {
		return
	}
	C.libusb_close(h.ptr)
	h.closed = true
}

// GetConfiguration returns the device's current configuration value.
func (h *DeviceHandle) GetConfiguration() (uint8, error) {
	var cfg C.int
	rc := C.libusb_get_configuration(h.ptr, &cfg)
	if rc != 0 {
		return 0, newErr("libusb_get_configuration", rc)
	}
	return uint8(cfg), nil
}

// SetConfiguration sets the device's configuration. Passing -1
// unconfigures the device, libusb's own convention for the
// guest-visible Unconfigured variant.
func (h *DeviceHandle) SetConfiguration(value int) error {
	rc := C.libusb_set_configuration(h.ptr, C.int(value))
	if rc != 0 {
		return newErr("libusb_set_configuration", rc)
	}
	return nil
}

// ClaimInterface claims an interface for exclusive access.
func (h *DeviceHandle) ClaimInterface(ifNum uint8) error {
	rc := C.libusb_claim_interface(h.ptr, C.int(ifNum))
	if rc != 0 {
		return newErr("libusb_claim_interface", rc)
	}
	return nil
}

// ReleaseInterface releases a previously claimed interface.
func (h *DeviceHandle) ReleaseInterface(ifNum uint8) error {
	rc := C.libusb_release_interface(h.ptr, C.int(ifNum))
	if rc != 0 {
		return newErr("libusb_release_interface", rc)
	}
	return nil
}

// SetInterfaceAltSetting activates an alternate setting on a claimed
// interface.
func (h *DeviceHandle) SetInterfaceAltSetting(ifNum, alt uint8) error {
	rc := C.libusb_set_interface_alt_setting(h.ptr, C.int(ifNum), C.int(alt))
	if rc != 0 {
		return newErr("libusb_set_interface_alt_setting", rc)
	}
	return nil
}

// ClearHalt clears a stalled endpoint's halt condition.
func (h *DeviceHandle) ClearHalt(endpoint uint8) error {
	rc := C.libusb_clear_halt(h.ptr, C.uchar(endpoint))
	if rc != 0 {
		return newErr("libusb_clear_halt", rc)
	}
	return nil
}

// ResetDevice issues a full USB port reset.
func (h *DeviceHandle) ResetDevice() error {
	rc := C.libusb_reset_device(h.ptr)
	if rc != 0 {
		return newErr("libusb_reset_device", rc)
	}
	return nil
}

// KernelDriverActive reports whether a kernel driver is attached to
// the given interface.
func (h *DeviceHandle) KernelDriverActive(ifNum uint8) (bool, error) {
	rc := C.libusb_kernel_driver_active(h.ptr, C.int(ifNum))
	if rc < 0 {
		return false, newErr("libusb_kernel_driver_active", rc)
	}
	return rc == 1, nil
}

// DetachKernelDriver detaches the kernel driver from the given
// interface, if one is attached.
func (h *DeviceHandle) DetachKernelDriver(ifNum uint8) error {
	rc := C.libusb_detach_kernel_driver(h.ptr, C.int(ifNum))
	if rc != 0 {
		return newErr("libusb_detach_kernel_driver", rc)
	}
	return nil
}

// AttachKernelDriver reattaches the kernel driver to the given
// interface.
func (h *DeviceHandle) AttachKernelDriver(ifNum uint8) error {
	rc := C.libusb_attach_kernel_driver(h.ptr, C.int(ifNum))
	if rc != 0 {
		return newErr("libusb_attach_kernel_driver", rc)
	}
	return nil
}

// AllocStreams allocates USB3 bulk streams on the given endpoints.
func (h *DeviceHandle) AllocStreams(numStreams uint32, endpoints []uint8) error {
	if len(endpoints) == 0 {
		return nil
	}
	rc := C.libusb_alloc_streams(h.ptr, C.uint32_t(numStreams),
		(*C.uchar)(unsafe.Pointer(&endpoints[0])), C.int(len(endpoints)))
	if rc < 0 {
		return newErr("libusb_alloc_streams", rc)
	}
	return nil
}

// FreeStreams releases USB3 bulk streams on the given endpoints.
func (h *DeviceHandle) FreeStreams(endpoints []uint8) error {
	if len(endpoints) == 0 {
		return nil
	}
	rc := C.libusb_free_streams(h.ptr,
		(*C.uchar)(unsafe.Pointer(&endpoints[0])), C.int(len(endpoints)))
	if rc < 0 {
		return newErr("libusb_free_streams", rc)
	}
	return nil
}

// Device returns the native device backing this handle, taking a
// fresh reference the caller owns.
func (h *DeviceHandle) Device() *Device {
	d := C.libusb_get_device(h.ptr)
	C.libusb_ref_device(d)
	return &Device{ptr: d}
}
