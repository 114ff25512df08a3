/* USB virtualization bridge - host side
 *
 * libusb context lifecycle, device enumeration and hot-plug
 * registration: one process-wide libusb_context, one //export-ed
 * hotplug trampoline, a dedicated thread for the event loop (owned
 * by the bridge's event pump, see pump.go in the bridge package -
 * this file only exposes HandleEventsTimeout for it to call).
 */

package libusb

// #cgo pkg-config: libusb-1.0
// #include <stdlib.h>
// #include <libusb.h>
//
// int bridgeHotplugCallback(libusb_context *ctx, libusb_device *device,
//     libusb_hotplug_event event, void *user_data);
import "C"

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/google/gousb"

	"github.com/usbbridge/hostbridge/internal/hotplug"
	"github.com/usbbridge/hostbridge/internal/policy"
)

// Context wraps a libusb_context. There is exactly one per process
// (libusb_init is not cheap to call per bridge instance and the
// hotplug callback is process-wide regardless), and every bridge
// instance receives the same *Context value. The hotplug
// registration and its deregister handle are therefore process-wide
// too: DeregisterHotplug from any one owner cancels it for all.
type Context struct {
	ptr       *C.libusb_context
	hotplugID C.libusb_hotplug_callback_handle
	hasHotplug bool
}

var (
	processCtx     *Context
	processCtxLock sync.Mutex
)

// OpenContext returns the process-wide libusb context, initializing
// it on first use. filter is consulted by the hotplug trampoline
// before an arrival/departure is enqueued; it may be nil, in which
// case all events are enqueued unfiltered.
func OpenContext(filter *policy.Filter, enableHotplug bool) (*Context, error) {
	processCtxLock.Lock()
	defer processCtxLock.Unlock()

	if processCtx != nil {
		if enableHotplug && !processCtx.hasHotplug {
			if err := processCtx.registerHotplug(filter); err != nil {
				return nil, err
			}
		}
		return processCtx, nil
	}

	var ptr *C.libusb_context
	rc := C.libusb_init(&ptr)
	if rc != 0 {
		return nil, newErr("libusb_init", rc)
	}

	ctx := &Context{ptr: ptr}
	if enableHotplug {
		if err := ctx.registerHotplug(filter); err != nil {
			C.libusb_exit(ptr)
			return nil, err
		}
	}

	processCtx = ctx
	return ctx, nil
}

func (ctx *Context) registerHotplug(filter *policy.Filter) error {
	hotplugFilters.set(filter)

	rc := C.libusb_hotplug_register_callback(
		ctx.ptr,
		C.LIBUSB_HOTPLUG_EVENT_DEVICE_ARRIVED|C.LIBUSB_HOTPLUG_EVENT_DEVICE_LEFT,
		C.LIBUSB_HOTPLUG_ENUMERATE,
		C.LIBUSB_HOTPLUG_MATCH_ANY,
		C.LIBUSB_HOTPLUG_MATCH_ANY,
		C.LIBUSB_HOTPLUG_MATCH_ANY,
		C.libusb_hotplug_callback_fn(unsafe.Pointer(C.bridgeHotplugCallback)),
		nil,
		&ctx.hotplugID,
	)
	if rc != 0 {
		return newErr("libusb_hotplug_register_callback", rc)
	}

	ctx.hasHotplug = true
	return nil
}

// DeregisterHotplug cancels the hotplug registration. Required at
// bridge teardown: a registration left behind keeps invoking the
// trampoline, which would enqueue device references nothing will
// ever drain.
func (ctx *Context) DeregisterHotplug() {
	if !ctx.hasHotplug {
		return
	}
	C.libusb_hotplug_deregister_callback(ctx.ptr, ctx.hotplugID)
	ctx.hasHotplug = false
	hotplugFilters.set(nil)
}

// HandleEventsTimeout drives one iteration of libusb's event loop,
// bounded by timeoutMs. The event pump thread is the sole caller of
// this method.
func (ctx *Context) HandleEventsTimeout(timeoutMs uint) error {
	tv := C.struct_timeval{
		tv_sec:  C.long(timeoutMs / 1000),
		tv_usec: C.long((timeoutMs % 1000) * 1000),
	}
	rc := C.libusb_handle_events_timeout(ctx.ptr, &tv)
	if rc != 0 {
		return newErr("libusb_handle_events_timeout", rc)
	}
	return nil
}

// InterruptEventHandler wakes up a thread blocked in
// libusb_handle_events_timeout, used by the event pump's stop to
// unblock the pump thread promptly at teardown.
func (ctx *Context) InterruptEventHandler() {
	C.libusb_interrupt_event_handler(ctx.ptr)
}

// Device is an opaque native device reference. It owns one
// libusb_device reference count increment; Unref releases it.
type Device struct {
	ptr *C.libusb_device
}

// Unref releases the device reference this Device owns.
func (d *Device) Unref() {
	if d.ptr != nil {
		C.libusb_unref_device(d.ptr)
		d.ptr = nil
	}
}

// ListDevices enumerates every device visible to the backend,
// regardless of policy - policy is applied by the caller, which
// decides which descriptors to keep and which native references to
// release immediately.
func (ctx *Context) ListDevices() ([]*Device, error) {
	var list **C.libusb_device
	cnt := C.libusb_get_device_list(ctx.ptr, &list)
	if cnt < 0 {
		return nil, newErr("libusb_get_device_list", C.int(cnt))
	}
	defer C.libusb_free_device_list(list, 1) // drop the list's own references; each Device keeps the one taken below

	raw := unsafe.Slice(list, int(cnt))
	devs := make([]*Device, len(raw))
	for i, p := range raw {
		C.libusb_ref_device(p)
		devs[i] = &Device{ptr: p}
	}
	return devs, nil
}

// Identity reads the (vendor_id, product_id) pair straight off the
// device descriptor, cheaply enough to call during policy filtering
// before building the full DeviceDescriptor value.
func (d *Device) Identity() (policy.Identity, error) {
	var desc C.struct_libusb_device_descriptor
	rc := C.libusb_get_device_descriptor(d.ptr, &desc)
	if rc != 0 {
		return policy.Identity{}, newErr("libusb_get_device_descriptor", rc)
	}
	return policy.Identity{
		Vendor:  gousb.ID(desc.idVendor),
		Product: gousb.ID(desc.idProduct),
	}, nil
}

// Location reports bus/address/port/speed for a device.
func (d *Device) Location() DeviceLocation {
	loc := DeviceLocation{
		Bus:        uint8(C.libusb_get_bus_number(d.ptr)),
		Address:    uint8(C.libusb_get_device_address(d.ptr)),
		PortNumber: uint8(C.libusb_get_port_number(d.ptr)),
	}
	loc.Speed = mapSpeed(C.libusb_get_device_speed(d.ptr))
	return loc
}

func mapSpeed(s C.int) Speed {
	switch s {
	case C.LIBUSB_SPEED_LOW:
		return SpeedLow
	case C.LIBUSB_SPEED_FULL:
		return SpeedFull
	case C.LIBUSB_SPEED_HIGH:
		return SpeedHigh
	case C.LIBUSB_SPEED_SUPER:
		return SpeedSuper
	case C.LIBUSB_SPEED_SUPER_PLUS:
		return SpeedSuperPlus
	default:
		return SpeedUnknown
	}
}

// hotplugFilterBox lets the process-wide trampoline see the current
// policy without smuggling a Go pointer through libusb's opaque
// user_data (cgo rules forbid storing a Go pointer there reliably
// across the C side retaining it). It is written by registerHotplug
// (under processCtxLock) and by DeregisterHotplug (which does not
// take processCtxLock); its own RWMutex guards every access.
type hotplugFilterBox struct {
	mu     sync.RWMutex
	filter *policy.Filter
}

func (b *hotplugFilterBox) set(f *policy.Filter) {
	b.mu.Lock()
	b.filter = f
	b.mu.Unlock()
}

func (b *hotplugFilterBox) get() *policy.Filter {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.filter
}

var hotplugFilters hotplugFilterBox

// bridgeHotplugCallback is libusb's single process-wide hotplug
// trampoline. It filters by policy and, for admitted identities,
// increments the device's reference count and enqueues it onto the
// process-wide hot-plug queue - the queue owns that reference until
// the next poll.
//
//export bridgeHotplugCallback
func bridgeHotplugCallback(ctx *C.libusb_context, dev *C.libusb_device,
	event C.libusb_hotplug_event, userData unsafe.Pointer) C.int {

	var descC C.struct_libusb_device_descriptor
	id := policy.Identity{}
	if C.libusb_get_device_descriptor(dev, &descC) == 0 {
		id = policy.Identity{Vendor: gousb.ID(descC.idVendor), Product: gousb.ID(descC.idProduct)}
	}

	filter := hotplugFilters.get()
	if filter != nil && !filter.IsAllowed(id) {
		return 0
	}

	C.libusb_ref_device(dev)

	kind := hotplug.Arrived
	if event == C.LIBUSB_HOTPLUG_EVENT_DEVICE_LEFT {
		kind = hotplug.Left
	}

	bus := uint8(C.libusb_get_bus_number(dev))
	addr := uint8(C.libusb_get_device_address(dev))

	hotplug.Global().Enqueue(hotplug.Entry{
		Event:    kind,
		Identity: id,
		Location: fmt.Sprintf("bus %d addr %d", bus, addr),
		Device:   &Device{ptr: dev},
	})

	return 0
}
