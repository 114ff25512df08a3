/* USB virtualization bridge - host side
 *
 * Event pump: a dedicated OS thread that repeatedly calls into the
 * native backend's event-handling loop, which is what actually
 * invokes transfer completion and hot-plug callbacks. Without this
 * thread pumping, no submitted transfer ever completes and no
 * hot-plug event is ever observed, no matter how long the guest
 * waits.
 */

package bridge

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/usbbridge/hostbridge/internal/buslog"
	"github.com/usbbridge/hostbridge/internal/libusb"
)

type eventPump struct {
	ctx      *libusb.Context
	interval uint
	log      *buslog.Logger

	running atomic.Bool
	done    chan struct{}
	wg      sync.WaitGroup
}

func newEventPump(ctx *libusb.Context, intervalMs uint, log *buslog.Logger) *eventPump {
	return &eventPump{
		ctx:      ctx,
		interval: intervalMs,
		log:      log,
		done:     make(chan struct{}),
	}
}

// start launches the pump's dedicated thread. Safe to call once per
// eventPump.
func (p *eventPump) start() {
	if !p.running.CompareAndSwap(false, true) {
		return
	}
	p.wg.Add(1)
	go p.run()
}

func (p *eventPump) run() {
	defer p.wg.Done()

	// libusb's event handling is not required to be single-threaded
	// in general, but pinning the pump to one OS thread keeps the
	// native callback stack shallow and predictable.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for {
		select {
		case <-p.done:
			return
		default:
		}

		if err := p.ctx.HandleEventsTimeout(p.interval); err != nil {
			p.log.Error("event pump: %s", err)
		}
	}
}

// stop signals the pump thread to exit and waits for it to do so.
// Idempotent.
func (p *eventPump) stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.done)
	p.ctx.InterruptEventHandler()
	p.wg.Wait()
}
