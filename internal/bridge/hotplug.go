/* USB virtualization bridge - host side
 *
 * Bridge-level hot-plug polling: drains the
 * process-wide hot-plug queue and turns each entry into a
 * guest-visible HotplugEvent, inserting newly arrived devices into
 * this bridge's device table so the guest can Open() them.
 */

package bridge

import (
	"github.com/usbbridge/hostbridge/internal/hotplug"
	"github.com/usbbridge/hostbridge/internal/libusb"
)

// PollEvents drains every hot-plug notification queued since the
// last call and returns them as guest-visible events. Never blocks
// and never fails: an empty queue yields a nil result.
//
// Every drained entry - arrival or departure - is inserted into the
// device table and carries a fresh, valid handle; ownership of the
// native reference the producer took moves from the queue into the
// table here. A departure's handle still resolves (the guest can
// read the identity off it), but device operations on it fail
// NoDevice, since the device behind it is gone.
func (b *Bridge) PollEvents() []HotplugEvent {
	if !b.hotplugEnabled.Load() {
		return nil
	}

	entries := hotplug.Global().Drain()
	if len(entries) == 0 {
		return nil
	}

	out := make([]HotplugEvent, 0, len(entries))
	for _, e := range entries {
		native, _ := e.Device.(*libusb.Device)

		h, ok := b.devices.Push(deviceRecord{native: native, identity: e.Identity})
		if !ok {
			if native != nil {
				native.Unref()
			}
			continue
		}

		b.stats.hotplugDelivered.Add(1)
		out = append(out, HotplugEvent{
			Kind:     hotplugEventToKind(e.Event),
			Identity: e.Identity,
			Location: e.Location,
			Handle:   h,
		})
	}

	return out
}
