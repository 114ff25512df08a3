/* USB virtualization bridge - host side
 *
 * Bridge surface: binds the guest-visible operation set
 * to the resource table, policy filter, hot-plug queue, transfer
 * engine and event pump. Every operation takes typed handles and
 * returns (T, error); possessing a handle is the only capability
 * check there is.
 */

package bridge

import (
	"sync"
	"sync/atomic"

	"github.com/usbbridge/hostbridge/internal/buslog"
	"github.com/usbbridge/hostbridge/internal/errkind"
	"github.com/usbbridge/hostbridge/internal/hotplug"
	"github.com/usbbridge/hostbridge/internal/libusb"
	"github.com/usbbridge/hostbridge/internal/policy"
	"github.com/usbbridge/hostbridge/internal/quirks"
	"github.com/usbbridge/hostbridge/internal/restable"
)

// Stats is a point-in-time snapshot of bridge activity counters,
// exposed for the CLI's status mode.
type Stats struct {
	DevicesEnumerated   uint64
	DevicesRejected     uint64
	TransfersSubmitted  uint64
	TransfersCompleted  uint64
	TransfersCancelled  uint64
	HotplugDelivered    uint64
}

type counters struct {
	devicesEnumerated  atomic.Uint64
	devicesRejected    atomic.Uint64
	transfersSubmitted atomic.Uint64
	transfersCompleted atomic.Uint64
	transfersCancelled atomic.Uint64
	hotplugDelivered   atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		DevicesEnumerated:  c.devicesEnumerated.Load(),
		DevicesRejected:    c.devicesRejected.Load(),
		TransfersSubmitted: c.transfersSubmitted.Load(),
		TransfersCompleted: c.transfersCompleted.Load(),
		TransfersCancelled: c.transfersCancelled.Load(),
		HotplugDelivered:   c.hotplugDelivered.Load(),
	}
}

// Bridge is one instance of the USB virtualization bridge. All
// guest-reachable state lives in its three resource tables; nothing
// is kept in package-level globals except the process-wide hotplug
// queue and libusb context, which the native backend itself treats
// as process-wide.
type Bridge struct {
	log    *buslog.Logger
	filter *policy.Filter
	quirks *quirks.DB

	initOnce sync.Once
	initErr  error

	ctx  *libusb.Context
	pump *eventPump

	devices   *restable.Table[deviceRecord]
	handles   *restable.Table[handleRecord]
	transfers *restable.Table[transferRecord]

	hotplugEnabled atomic.Bool
	pumpIntervalMs uint

	stats counters

	closeOnce sync.Once
}

// Options configures a new Bridge.
type Options struct {
	Policy         *policy.Filter // nil means AllowAll
	Logger         *buslog.Logger // nil means a default console logger
	PumpIntervalMs uint           // 0 means the default of 20ms
	Quirks         *quirks.DB     // nil means no device ever auto-resets on open
}

// New constructs a Bridge. Construction never touches the native
// backend - that happens in Init, which is idempotent.
func New(opts Options) *Bridge {
	filter := opts.Policy
	if filter == nil {
		filter = policy.AllowAll()
	}

	log := opts.Logger
	if log == nil {
		log = buslog.NewConsole(buslog.Info | buslog.Error)
	}

	interval := opts.PumpIntervalMs
	if interval == 0 {
		interval = 20
	}

	q := opts.Quirks
	if q == nil {
		q = quirks.Empty()
	}

	b := &Bridge{
		log:            log,
		filter:         filter,
		quirks:         q,
		pumpIntervalMs: interval,
	}

	b.transfers = restable.New(b.releaseTransfer)
	b.handles = restable.New(b.releaseHandle)
	b.devices = restable.New(b.releaseDevice)

	return b
}

// Init opens the native backend and starts the event pump thread.
// Idempotent: calling it again after a successful Init is a no-op.
func (b *Bridge) Init() error {
	b.initOnce.Do(func() {
		ctx, err := libusb.OpenContext(b.filter, false)
		if err != nil {
			b.initErr = err
			return
		}
		b.ctx = ctx
		b.pump = newEventPump(ctx, b.pumpIntervalMs, b.log)
		b.pump.start()
	})
	return b.initErr
}

// EnableHotplug registers the native backend's hot-plug callback.
// Must be called after Init. Calling it more than once is
// harmless.
func (b *Bridge) EnableHotplug() error {
	if b.ctx == nil {
		return errkind.New("enable_hotplug", errkind.NotSupported)
	}
	if _, err := libusb.OpenContext(b.filter, true); err != nil {
		return err
	}
	b.hotplugEnabled.Store(true)
	return nil
}

// Close tears down the bridge: stops the event pump, deregisters
// hotplug, and releases every record still held in any table, so no
// native reference survives teardown.
func (b *Bridge) Close() {
	b.closeOnce.Do(func() {
		// Transfers first, and before the pump stops: dropCancel only
		// requests cancellation for a still-in-flight transfer, it
		// does not wait for the completion callback,
		// so the event pump - still running at this point - is what
		// gives that callback a chance to actually fire and free the
		// native transfer before the pump thread is joined below.
		b.transfers.Close()

		if b.pump != nil {
			b.pump.stop()
		}
		if b.ctx != nil {
			b.ctx.DeregisterHotplug()
		}

		b.handles.Close()
		b.devices.Close()
	})
}

// Stats returns a snapshot of the bridge's activity counters.
func (b *Bridge) Stats() Stats {
	return b.stats.snapshot()
}

func (b *Bridge) releaseDevice(rec *deviceRecord) {
	if rec.native != nil {
		rec.native.Unref()
	}
}

func (b *Bridge) releaseHandle(rec *handleRecord) {
	if rec.native != nil {
		rec.native.Close()
	}
}

func (b *Bridge) releaseTransfer(rec *transferRecord) {
	rec.dropCancel()
}

// hotplugEventToKind converts the internal hotplug package's event
// kind to the guest-visible one.
func hotplugEventToKind(e hotplug.Event) HotplugEventKind {
	if e == hotplug.Left {
		return HotplugLeft
	}
	return HotplugArrived
}
