/* USB virtualization bridge - host side
 *
 * Device enumeration and descriptor retrieval.
 */

package bridge

import (
	"github.com/usbbridge/hostbridge/internal/errkind"
	"github.com/usbbridge/hostbridge/internal/libusb"
	"github.com/usbbridge/hostbridge/internal/policy"
	"github.com/usbbridge/hostbridge/internal/quirks"
)

// ListDevices enumerates every device the native backend can see,
// applies the policy filter, and returns a handle plus descriptor
// and location for each admitted device. Rejected devices, and
// devices whose descriptor cannot be read, release their native
// reference immediately and are silently skipped - local recovery,
// not a bridge-visible error.
func (b *Bridge) ListDevices() ([]EnumeratedDevice, error) {
	if b.ctx == nil {
		return nil, errkind.New("list_devices", errkind.NotSupported)
	}

	natives, err := b.ctx.ListDevices()
	if err != nil {
		return nil, err
	}

	var out []EnumeratedDevice
	for _, nd := range natives {
		id, err := nd.Identity()
		if err != nil {
			nd.Unref()
			continue
		}

		if !b.filter.IsAllowed(id) {
			nd.Unref()
			b.stats.devicesRejected.Add(1)
			continue
		}

		desc, err := nd.GetDeviceDescriptor()
		if err != nil {
			nd.Unref()
			continue
		}

		loc := nd.Location()

		handle, ok := b.devices.Push(deviceRecord{native: nd, identity: id})
		if !ok {
			nd.Unref()
			continue
		}

		b.stats.devicesEnumerated.Add(1)
		out = append(out, EnumeratedDevice{
			Handle:     handle,
			Descriptor: desc,
			Location:   loc,
		})
	}

	return out, nil
}

// Open opens the device behind ref for I/O, returning a HandleRef
// for subsequent handle operations.
func (b *Bridge) Open(ref DeviceRef) (HandleRef, error) {
	rec, ok := b.devices.Get(ref)
	if !ok {
		return HandleRef{}, errkind.New("open", errkind.NotFound)
	}
	if rec.native == nil {
		return HandleRef{}, errkind.New("open", errkind.NoDevice)
	}

	native, err := rec.native.Open()
	if err != nil {
		return HandleRef{}, err
	}

	h, ok := b.handles.Push(handleRecord{
		native:   native,
		identity: rec.identity,
		location: rec.native.Location(),
	})
	if !ok {
		native.Close()
		return HandleRef{}, errkind.New("open", errkind.NoMem)
	}

	b.applyResetQuirk(rec.identity, native)

	return h, nil
}

// applyResetQuirk runs the configured reset policy for identity right
// after open. ResetHard issues a bus-level reset through libusb; a
// device recovering from one loses its configuration and must be
// re-configured by the guest. ResetSoft has no generic libusb
// equivalent - only the guest speaks the device's class protocol well
// enough to issue a class-specific reset request - so it is logged
// and left to the guest to perform over a control transfer.
func (b *Bridge) applyResetQuirk(id policy.Identity, native *libusb.DeviceHandle) {
	switch b.quirks.ResetMethodFor(id) {
	case quirks.ResetHard:
		if err := native.ResetDevice(); err != nil {
			b.log.Debug("reset quirk: hard reset of %s failed: %s", id, err)
		} else {
			b.log.Debug("reset quirk: hard reset of %s", id)
		}
	case quirks.ResetSoft:
		b.log.Debug("reset quirk: %s wants a soft reset; guest must issue it", id)
	}
}

// GetActiveConfigurationDescriptor fetches the descriptor of the
// device's currently active configuration.
func (b *Bridge) GetActiveConfigurationDescriptor(ref DeviceRef) (ConfigurationDescriptor, error) {
	rec, ok := b.devices.Get(ref)
	if !ok {
		return ConfigurationDescriptor{}, errkind.New("get_active_configuration_descriptor", errkind.NotFound)
	}
	if rec.native == nil {
		return ConfigurationDescriptor{}, errkind.New("get_active_configuration_descriptor", errkind.NoDevice)
	}
	return rec.native.GetActiveConfigDescriptor()
}

// GetConfigurationDescriptor fetches the descriptor at the given
// (0-based) configuration index.
func (b *Bridge) GetConfigurationDescriptor(ref DeviceRef, index uint8) (ConfigurationDescriptor, error) {
	rec, ok := b.devices.Get(ref)
	if !ok {
		return ConfigurationDescriptor{}, errkind.New("get_configuration_descriptor", errkind.NotFound)
	}
	if rec.native == nil {
		return ConfigurationDescriptor{}, errkind.New("get_configuration_descriptor", errkind.NoDevice)
	}
	return rec.native.GetConfigDescriptorByIndex(index)
}

// GetConfigurationDescriptorByValue fetches the descriptor with the
// given bConfigurationValue.
func (b *Bridge) GetConfigurationDescriptorByValue(ref DeviceRef, value uint8) (ConfigurationDescriptor, error) {
	rec, ok := b.devices.Get(ref)
	if !ok {
		return ConfigurationDescriptor{}, errkind.New("get_configuration_descriptor_by_value", errkind.NotFound)
	}
	if rec.native == nil {
		return ConfigurationDescriptor{}, errkind.New("get_configuration_descriptor_by_value", errkind.NoDevice)
	}
	return rec.native.GetConfigDescriptorByValue(value)
}
