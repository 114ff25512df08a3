/* USB virtualization bridge - host side
 *
 * Device handle operations: configuration, interface
 * claiming, kernel-driver arbitration, streams, reset and close.
 * Each is a thin, synchronous pass-through to the native backend.
 */

package bridge

import (
	"github.com/usbbridge/hostbridge/internal/errkind"
)

func (b *Bridge) handle(ref HandleRef, op string) (*handleRecord, error) {
	rec, ok := b.handles.Get(ref)
	if !ok {
		return nil, errkind.New(op, errkind.NotFound)
	}
	return rec, nil
}

// GetConfiguration returns the handle's current configuration value.
func (b *Bridge) GetConfiguration(ref HandleRef) (uint8, error) {
	rec, err := b.handle(ref, "get_configuration")
	if err != nil {
		return 0, err
	}
	return rec.native.GetConfiguration()
}

// SetConfiguration sets the handle's configuration, or unconfigures
// the device when cfg.Unconfigured is set.
func (b *Bridge) SetConfiguration(ref HandleRef, cfg ConfigurationValue) error {
	rec, err := b.handle(ref, "set_configuration")
	if err != nil {
		return err
	}
	if cfg.Unconfigured {
		return rec.native.SetConfiguration(-1)
	}
	return rec.native.SetConfiguration(int(cfg.Value))
}

// ClaimInterface claims an interface for exclusive access.
func (b *Bridge) ClaimInterface(ref HandleRef, ifNum uint8) error {
	rec, err := b.handle(ref, "claim_interface")
	if err != nil {
		return err
	}
	return rec.native.ClaimInterface(ifNum)
}

// ReleaseInterface releases a previously claimed interface.
func (b *Bridge) ReleaseInterface(ref HandleRef, ifNum uint8) error {
	rec, err := b.handle(ref, "release_interface")
	if err != nil {
		return err
	}
	return rec.native.ReleaseInterface(ifNum)
}

// SetInterfaceAltSetting activates an alternate setting.
func (b *Bridge) SetInterfaceAltSetting(ref HandleRef, ifNum, alt uint8) error {
	rec, err := b.handle(ref, "set_interface_altsetting")
	if err != nil {
		return err
	}
	return rec.native.SetInterfaceAltSetting(ifNum, alt)
}

// ClearHalt clears a stalled endpoint's halt condition.
func (b *Bridge) ClearHalt(ref HandleRef, endpoint uint8) error {
	rec, err := b.handle(ref, "clear_halt")
	if err != nil {
		return err
	}
	return rec.native.ClearHalt(endpoint)
}

// ResetDevice issues a full USB port reset.
func (b *Bridge) ResetDevice(ref HandleRef) error {
	rec, err := b.handle(ref, "reset_device")
	if err != nil {
		return err
	}
	return rec.native.ResetDevice()
}

// KernelDriverActive reports whether a kernel driver is attached.
func (b *Bridge) KernelDriverActive(ref HandleRef, ifNum uint8) (bool, error) {
	rec, err := b.handle(ref, "kernel_driver_active")
	if err != nil {
		return false, err
	}
	return rec.native.KernelDriverActive(ifNum)
}

// DetachKernelDriver detaches the kernel driver from an interface.
func (b *Bridge) DetachKernelDriver(ref HandleRef, ifNum uint8) error {
	rec, err := b.handle(ref, "detach_kernel_driver")
	if err != nil {
		return err
	}
	return rec.native.DetachKernelDriver(ifNum)
}

// AttachKernelDriver reattaches the kernel driver to an interface.
func (b *Bridge) AttachKernelDriver(ref HandleRef, ifNum uint8) error {
	rec, err := b.handle(ref, "attach_kernel_driver")
	if err != nil {
		return err
	}
	return rec.native.AttachKernelDriver(ifNum)
}

// AllocStreams allocates USB3 bulk streams on the given endpoints.
func (b *Bridge) AllocStreams(ref HandleRef, numStreams uint32, endpoints []uint8) error {
	rec, err := b.handle(ref, "alloc_streams")
	if err != nil {
		return err
	}
	return rec.native.AllocStreams(numStreams, endpoints)
}

// FreeStreams releases USB3 bulk streams on the given endpoints.
func (b *Bridge) FreeStreams(ref HandleRef, endpoints []uint8) error {
	rec, err := b.handle(ref, "free_streams")
	if err != nil {
		return err
	}
	return rec.native.FreeStreams(endpoints)
}

// CloseHandle closes the opened device. Idempotent, and never fails.
func (b *Bridge) CloseHandle(ref HandleRef) {
	rec, ok := b.handles.Delete(ref)
	if !ok {
		return
	}
	rec.native.Close()
}
